package greader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Stream-ID constants of the reader protocol. The user segment is normalized
// to "-" before matching, so "user/<uid>/state/…" spellings work too.
const (
	StateReadingList = "user/-/state/com.google/reading-list"
	StateRead        = "user/-/state/com.google/read"
	StateKeptUnread  = "user/-/state/com.google/kept-unread"
	StateStarred     = "user/-/state/com.google/starred"
	StateBroadcast   = "user/-/state/com.google/broadcast"

	labelPrefix = "user/-/label/"
	feedPrefix  = "feed/"
)

// StreamKind enumerates the stream-ID variants.
type StreamKind int

const (
	// StreamReadingList is the default stream: everything the user may read.
	StreamReadingList StreamKind = iota
	// StreamFeed narrows to one feed.
	StreamFeed
	// StreamLabel narrows to a feed group or a synthetic aggregator label.
	StreamLabel
	// StreamStarred narrows to starred articles.
	StreamStarred
	// StreamRead narrows to read articles.
	StreamRead
)

// Stream is a parsed stream-ID.
type Stream struct {
	Kind   StreamKind
	FeedID int64  // set for StreamFeed
	Label  string // set for StreamLabel
}

// ID renders the stream back into its canonical stream-ID string.
func (s Stream) ID() string {
	switch s.Kind {
	case StreamFeed:
		return FeedStreamID(s.FeedID)
	case StreamLabel:
		return labelPrefix + s.Label
	case StreamStarred:
		return StateStarred
	case StreamRead:
		return StateRead
	default:
		return StateReadingList
	}
}

// FeedStreamID renders a feed's stream-ID.
func FeedStreamID(feedID int64) string {
	return feedPrefix + strconv.FormatInt(feedID, 10)
}

var userSegmentRe = regexp.MustCompile(`^user/[^/]+/`)

// normalizeUserSegment rewrites "user/<anything>/…" to "user/-/…". Clients
// differ on whether they echo the user ID back.
func normalizeUserSegment(streamID string) string {
	return userSegmentRe.ReplaceAllString(streamID, "user/-/")
}

// ParseStream interprets a stream-ID string. An empty ID means the reading
// list.
func ParseStream(streamID string) (Stream, error) {
	s := normalizeUserSegment(strings.TrimSpace(streamID))

	switch s {
	case "", StateReadingList:
		return Stream{Kind: StreamReadingList}, nil
	case StateStarred:
		return Stream{Kind: StreamStarred}, nil
	case StateRead:
		return Stream{Kind: StreamRead}, nil
	}
	if rest, ok := strings.CutPrefix(s, feedPrefix); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Stream{}, fmt.Errorf("stream %q: bad feed id: %w", streamID, err)
		}
		return Stream{Kind: StreamFeed, FeedID: id}, nil
	}
	if label, ok := strings.CutPrefix(s, labelPrefix); ok && label != "" {
		return Stream{Kind: StreamLabel, Label: label}, nil
	}
	return Stream{}, fmt.Errorf("stream %q: unrecognized", streamID)
}

// syntheticLabels maps aggregator tags to the labels surfaced for them in
// subscription lists and accepted in label streams.
var syntheticLabels = map[string]string{
	"reddit":  "Reddit",
	"youtube": "YouTube",
	"podcast": "Podcasts",
}

// aggregatorForLabel reverses syntheticLabels.
func aggregatorForLabel(label string) (string, bool) {
	for tag, l := range syntheticLabels {
		if l == label {
			return tag, true
		}
	}
	return "", false
}

// trimLabel extracts the bare label name from a label stream-ID, or returns
// the input unchanged when it carries no label prefix.
func trimLabel(streamID string) string {
	s := normalizeUserSegment(strings.TrimSpace(streamID))
	if label, ok := strings.CutPrefix(s, labelPrefix); ok {
		return label
	}
	return s
}
