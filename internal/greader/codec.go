// Package greader implements the Google Reader compatible sync protocol:
// item-ID encoding, stream-ID resolution, and the services behind the reader
// endpoints. The HTTP transport lives in internal/handlers.
package greader

import (
	"fmt"
	"strconv"
	"strings"
)

// itemIDPrefix is the long item-ID form every reader client understands.
const itemIDPrefix = "tag:google.com,2005:reader/item/"

// ShortItemID renders a storage ID as 16-character zero-padded lowercase hex.
func ShortItemID(id int64) string {
	return fmt.Sprintf("%016x", uint64(id))
}

// LongItemID renders a storage ID in the full tag form.
func LongItemID(id int64) string {
	return itemIDPrefix + ShortItemID(id)
}

// ParseItemID accepts every item-ID spelling reader clients send: the full
// tag form, 16-character zero-padded hex, 0x-prefixed hex, and plain decimal.
// A 16-character string is always read as hex; that is what the zero-padding
// is for.
func ParseItemID(raw string) (int64, error) {
	s := strings.TrimSpace(raw)

	isHex := false
	if rest, ok := strings.CutPrefix(s, itemIDPrefix); ok {
		s, isHex = rest, true
	}
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		s, isHex = rest, true
	} else if rest, ok := strings.CutPrefix(s, "0X"); ok {
		s, isHex = rest, true
	}
	if !isHex && len(s) == 16 {
		isHex = true
	}

	base := 10
	if isHex {
		base = 16
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("item id %q: %w", raw, err)
	}
	return int64(n), nil
}

// ParseItemIDs parses a batch of item IDs, failing on the first bad one.
func ParseItemIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := ParseItemID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
