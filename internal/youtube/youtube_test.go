package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestParseChannelRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"UCXuqSBlHAE6Xw-yeJA0Tunw", "UCXuqSBlHAE6Xw-yeJA0Tunw"},
		{"https://www.youtube.com/channel/UCXuqSBlHAE6Xw-yeJA0Tunw", "UCXuqSBlHAE6Xw-yeJA0Tunw"},
		{"https://www.youtube.com/channel/UCXuqSBlHAE6Xw-yeJA0Tunw/videos", "UCXuqSBlHAE6Xw-yeJA0Tunw"},
		{"https://youtube.com/c/LinusTechTips", "LinusTechTips"},
		{"https://www.youtube.com/user/scilogs", "scilogs"},
		{"https://www.youtube.com/@veritasium", "veritasium"},
		{"@veritasium", "veritasium"},
		{"  veritasium  ", "veritasium"},
		{"https://www.youtube.com/c/SomeName?sub_confirmation=1", "SomeName"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseChannelRef(tc.in), "input %q", tc.in)
	}
}

func TestResolveChannelDirectID(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API call to %s", r.URL.Path)
	})

	id, err := client.ResolveChannel(context.Background(), "key", "UCXuqSBlHAE6Xw-yeJA0Tunw")
	require.NoError(t, err)
	assert.Equal(t, "UCXuqSBlHAE6Xw-yeJA0Tunw", id)
}

func TestResolveChannelViaSearch(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "veritasium", r.URL.Query().Get("q"))
		assert.Equal(t, "channel", r.URL.Query().Get("type"))
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{
				{"id": map[string]string{"channelId": "UCHnyfMqiRRG1u-2MsSQLbXA"}},
			},
		})
	})

	id, err := client.ResolveChannel(context.Background(), "key", "@veritasium")
	require.NoError(t, err)
	assert.Equal(t, "UCHnyfMqiRRG1u-2MsSQLbXA", id)
}

func TestResolveChannelUsernameFallback(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			writeJSON(t, w, map[string]any{"items": []any{}})
		case "/channels":
			assert.Equal(t, "scilogs", r.URL.Query().Get("forUsername"))
			writeJSON(t, w, map[string]any{
				"items": []map[string]any{{"id": "UClegacy000000000000000"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	id, err := client.ResolveChannel(context.Background(), "key", "https://www.youtube.com/user/scilogs")
	require.NoError(t, err)
	assert.Equal(t, "UClegacy000000000000000", id)
}

func TestResolveChannelNotFound(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"items": []any{}})
	})

	_, err := client.ResolveChannel(context.Background(), "key", "nobody-here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestUploadsPlaylist(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/channels", r.URL.Path)
		assert.Equal(t, "contentDetails", r.URL.Query().Get("part"))
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{
				{"contentDetails": map[string]any{
					"relatedPlaylists": map[string]string{"uploads": "UUXuqSBlHAE6Xw-yeJA0Tunw"},
				}},
			},
		})
	})

	playlist, err := client.UploadsPlaylist(context.Background(), "key", "UCXuqSBlHAE6Xw-yeJA0Tunw")
	require.NoError(t, err)
	assert.Equal(t, "UUXuqSBlHAE6Xw-yeJA0Tunw", playlist)
}

func TestPlaylistVideos(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/playlistItems", r.URL.Path)
		assert.Equal(t, "UUabc", r.URL.Query().Get("playlistId"))
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{
				{
					"snippet": map[string]any{
						"title":        "First video",
						"description":  "about things",
						"channelTitle": "Some Channel",
						"publishedAt":  "2024-03-01T10:00:00Z",
					},
					"contentDetails": map[string]any{
						"videoId":          "dQw4w9WgXcQ",
						"videoPublishedAt": "2024-03-01T12:30:00Z",
					},
				},
			},
		})
	})

	videos, err := client.PlaylistVideos(context.Background(), "key", "UUabc", 5)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "dQw4w9WgXcQ", videos[0].ID)
	assert.Equal(t, "First video", videos[0].Title)
	// videoPublishedAt wins over the playlist-insertion timestamp.
	assert.Equal(t, 12, videos[0].Published.Hour())
}

func TestVideoDetails(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "a1,b2", r.URL.Query().Get("id"))
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{
				{"id": "a1", "snippet": map[string]any{"title": "A", "description": "full text a"}},
				{"id": "b2", "snippet": map[string]any{"title": "B", "description": "full text b"}},
			},
		})
	})

	details, err := client.VideoDetails(context.Background(), "key", []string{"a1", "b2"})
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, "full text a", details["a1"].Description)
}

func TestVideoDetailsEmpty(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API call to %s", r.URL.Path)
	})

	details, err := client.VideoDetails(context.Background(), "key", nil)
	require.NoError(t, err)
	assert.Empty(t, details)
}

func TestTopComments(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/commentThreads", r.URL.Path)
		assert.Equal(t, "relevance", r.URL.Query().Get("order"))
		assert.Equal(t, "plainText", r.URL.Query().Get("textFormat"))
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{
				comment("alice", "great video", 12),
				comment("ghost", "[deleted]", 3),
				comment("mod", "[removed]", 0),
				comment("bob", "second this", 7),
			},
		})
	})

	comments, err := client.TopComments(context.Background(), "key", "dQw4w9WgXcQ", 10)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "alice", comments[0].Author)
	assert.Equal(t, 12, comments[0].Likes)
	assert.Equal(t, "second this", comments[1].Text)
}

func TestTopCommentsDisabled(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"errors":[{"reason":"commentsDisabled"}]}}`))
	})

	comments, err := client.TopComments(context.Background(), "key", "dQw4w9WgXcQ", 10)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestServerErrorSurfaced(t *testing.T) {
	client := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := client.SearchVideos(context.Background(), "key", "UCabc", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func comment(author, text string, likes int) map[string]any {
	return map[string]any{
		"snippet": map[string]any{
			"topLevelComment": map[string]any{
				"snippet": map[string]any{
					"authorDisplayName": author,
					"textDisplay":       text,
					"likeCount":         likes,
				},
			},
		},
	}
}
