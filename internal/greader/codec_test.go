package greader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortItemID(t *testing.T) {
	assert.Equal(t, "000000000000007b", ShortItemID(123))
	assert.Equal(t, "0000000000000001", ShortItemID(1))
	assert.Equal(t, "00000000075bcd15", ShortItemID(123456789))
}

func TestLongItemID(t *testing.T) {
	assert.Equal(t, "tag:google.com,2005:reader/item/000000000000007b", LongItemID(123))
}

func TestParseItemID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"long form", "tag:google.com,2005:reader/item/000000000000007b", 123},
		{"short hex", "000000000000007b", 123},
		{"prefixed hex", "0x7b", 123},
		{"prefixed hex uppercase marker", "0X7b", 123},
		{"decimal", "123", 123},
		{"decimal that is not valid hex", "99", 99},
		{"large decimal", "1234567890123456789", 1234567890123456789},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseItemID(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// A 16-character ID is hex even when it happens to look like a decimal
// number; shorter digit runs are decimal.
func TestParseItemIDDigitAmbiguity(t *testing.T) {
	hex, err := ParseItemID("0000000000000123")
	require.NoError(t, err)
	assert.Equal(t, int64(0x123), hex)

	dec, err := ParseItemID("123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), dec)
}

func TestParseItemIDRoundTrip(t *testing.T) {
	for _, id := range []int64{1, 123, 98765, 1<<40 + 7} {
		short, err := ParseItemID(ShortItemID(id))
		require.NoError(t, err)
		assert.Equal(t, id, short)

		long, err := ParseItemID(LongItemID(id))
		require.NoError(t, err)
		assert.Equal(t, id, long)
	}
}

func TestParseItemIDErrors(t *testing.T) {
	for _, raw := range []string{"", "xyz", "0x", "tag:google.com,2005:reader/item/xyz", "12.5", "-7"} {
		_, err := ParseItemID(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestParseItemIDs(t *testing.T) {
	ids, err := ParseItemIDs([]string{"0x7b", "124", "tag:google.com,2005:reader/item/000000000000007d"})
	require.NoError(t, err)
	assert.Equal(t, []int64{123, 124, 125}, ids)

	_, err = ParseItemIDs([]string{"123", "bogus"})
	assert.Error(t, err)
}
