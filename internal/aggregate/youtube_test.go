package aggregate

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/youtube"
)

const testChannelID = "UCabcdefghijklmnopqrstuv"

func youtubeSettings() models.UserSettings {
	return models.UserSettings{
		UserID:         uuid.New(),
		YouTubeEnabled: true,
		YouTubeAPIKey:  "yt-key",
	}
}

func TestPlainTextHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank only", "\n\n  \n", ""},
		{"single paragraph", "hello world", "<p>hello world</p>"},
		{"line break", "line one\nline two", "<p>line one<br/>line two</p>"},
		{"paragraphs", "first\n\nsecond", "<p>first</p><p>second</p>"},
		{"windows newlines", "a\r\n\r\nb", "<p>a</p><p>b</p>"},
		{"bare url", "watch https://example.com/v?a=1 now",
			`<p>watch <a href="https://example.com/v?a=1">https://example.com/v?a=1</a> now</p>`},
		{"escaping", "tags <b> stay text", "<p>tags &lt;b&gt; stay text</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plainTextHTML(tt.in))
		})
	}
}

func TestLinkifyLine(t *testing.T) {
	assert.Equal(t, "no links here", linkifyLine("no links here"))
	assert.Equal(t,
		`a <a href="https://x.example/1">https://x.example/1</a> b <a href="http://y.example">http://y.example</a>`,
		linkifyLine("a https://x.example/1 b http://y.example"))
	assert.Equal(t, "&lt;script&gt;", linkifyLine("<script>"))
}

func TestYouTubeValidate(t *testing.T) {
	a := newYouTubeAdapter(testDeps(t))

	run := &Run{Feed: testFeed("youtube", "@creator"), Settings: youtubeSettings()}
	assert.NoError(t, a.Validate(run))

	var verr *ValidationError
	err := a.Validate(&Run{Feed: testFeed("youtube", "@creator"),
		Settings: models.UserSettings{YouTubeAPIKey: "yt-key"}})
	assert.ErrorAs(t, err, &verr, "integration must be enabled")

	err = a.Validate(&Run{Feed: testFeed("youtube", "@creator"),
		Settings: models.UserSettings{YouTubeEnabled: true}})
	assert.ErrorAs(t, err, &verr, "an API key is required")
}

func TestYouTubeParse(t *testing.T) {
	a := newYouTubeAdapter(testDeps(t))
	published := frozenNow.Add(-3 * time.Hour)

	run := &Run{Feed: testFeed("youtube", testChannelID)}
	run.videos = []youtube.Video{{
		ID:           "dQw4w9WgXcQ",
		Title:        "New upload",
		Description:  "short snippet",
		ChannelTitle: "Creator",
		Published:    published,
	}}

	articles, err := a.Parse(run)
	require.NoError(t, err)
	require.Len(t, articles, 1)

	got := articles[0]
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", got.Identifier)
	assert.Equal(t, got.Identifier, got.URL)
	assert.Equal(t, "New upload", got.Title)
	assert.Equal(t, "Creator", got.Author)
	assert.Equal(t, published, got.Date)
	assert.Equal(t, "short snippet", got.RawContent)
}

func playlistItemJSON(videoID, title string, published time.Time) map[string]any {
	return map[string]any{
		"snippet": map[string]any{
			"title":        title,
			"description":  "listing snippet",
			"channelTitle": "Creator",
			"publishedAt":  published.Format(time.RFC3339),
		},
		"contentDetails": map[string]any{
			"videoId":          videoID,
			"videoPublishedAt": published.Format(time.RFC3339),
		},
	}
}

func TestYouTubeFetchSourceViaPlaylist(t *testing.T) {
	published := frozenNow.Add(-time.Hour)
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/channels":
			assert.Equal(t, testChannelID, r.URL.Query().Get("id"))
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"contentDetails": map[string]any{
						"relatedPlaylists": map[string]string{"uploads": "UU-uploads"},
					}},
				},
			})
		case "/playlistItems":
			assert.Equal(t, "UU-uploads", r.URL.Query().Get("playlistId"))
			assert.Equal(t, "20", r.URL.Query().Get("maxResults"))
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					playlistItemJSON("vid00000001", "First", published),
					playlistItemJSON("vid00000002", "Second", published),
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	a := newYouTubeAdapter(testDepsWithYouTube(t, srv))
	run := &Run{Feed: testFeed("youtube", testChannelID), Settings: youtubeSettings(), Limit: 10}

	require.NoError(t, a.Validate(run))
	require.NoError(t, a.FetchSource(context.Background(), run))
	require.Len(t, run.videos, 2)
	assert.Equal(t, "vid00000001", run.videos[0].ID)
	assert.Equal(t, "yt-key", run.apiKey)
}

func TestYouTubeFetchSourceFallsBackToSearch(t *testing.T) {
	published := frozenNow.Add(-time.Hour)
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"contentDetails": map[string]any{
						"relatedPlaylists": map[string]string{"uploads": "UU-hidden"},
					}},
				},
			})
		case "/playlistItems":
			http.Error(w, "playlist not found", http.StatusInternalServerError)
		case "/search":
			assert.Equal(t, "video", r.URL.Query().Get("type"))
			assert.Equal(t, testChannelID, r.URL.Query().Get("channelId"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{
						"id": map[string]string{"videoId": "vid00000009"},
						"snippet": map[string]any{
							"title":        "Found via search",
							"channelTitle": "Creator",
							"publishedAt":  published.Format(time.RFC3339),
						},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	a := newYouTubeAdapter(testDepsWithYouTube(t, srv))
	run := &Run{Feed: testFeed("youtube", testChannelID), Settings: youtubeSettings(), Limit: 10}

	require.NoError(t, a.FetchSource(context.Background(), run))
	require.Len(t, run.videos, 1)
	assert.Equal(t, "vid00000009", run.videos[0].ID)
}

func ytCommentJSON(author, text string, likes int) map[string]any {
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

func TestYouTubeEnrich(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/videos":
			assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("id"))
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"id": "dQw4w9WgXcQ", "snippet": map[string]any{
						"description": "Full text.\n\nLinks: https://example.com/more",
					}},
				},
			})
		case "/commentThreads":
			assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("videoId"))
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					ytCommentJSON("alice", "Loved this one", 12),
					ytCommentJSON("ghost", "[deleted]", 3),
					ytCommentJSON("bob", "Same!", 4),
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	a := newYouTubeAdapter(testDepsWithYouTube(t, srv))
	run := &Run{Feed: testFeed("youtube", testChannelID), Settings: youtubeSettings(), Limit: 10}
	run.apiKey = "yt-key"

	video := youtube.Video{
		ID:           "dQw4w9WgXcQ",
		Title:        "New upload",
		Description:  "listing snippet",
		ChannelTitle: "Creator",
		Published:    frozenNow.Add(-time.Hour),
	}

	out := a.Enrich(context.Background(), run, []RawArticle{{
		Identifier: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		URL:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:      "New upload",
		Author:     "Creator",
		video:      &video,
	}})

	require.Len(t, out, 1)
	got := out[0]

	assert.Contains(t, got.Header, "/api/youtube-proxy?v=dQw4w9WgXcQ", "the player embeds through the local proxy")
	assert.Contains(t, got.Header, "<iframe")

	assert.Equal(t, "Full text.\n\nLinks: https://example.com/more", got.RawContent,
		"the full description replaces the listing snippet")
	assert.Contains(t, got.Content, "<p>Full text.</p>")
	assert.Contains(t, got.Content, `<a href="https://example.com/more">`)
	assert.Contains(t, got.Content, "<strong>alice</strong> (12 likes)")
	assert.Contains(t, got.Content, "<strong>bob</strong> (4 likes)")
	assert.NotContains(t, got.Content, "[deleted]")
}

func TestYouTubeEnrichKeepsListingSnippetOnDetailsFailure(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	a := newYouTubeAdapter(testDepsWithYouTube(t, srv))
	feed := testFeed("youtube", testChannelID)
	feed.Options["include_comments"] = false
	run := &Run{Feed: feed, Settings: youtubeSettings(), Limit: 10}
	run.apiKey = "yt-key"

	video := youtube.Video{ID: "dQw4w9WgXcQ", Title: "New upload", Description: "listing snippet"}

	out := a.Enrich(context.Background(), run, []RawArticle{{
		Identifier: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		URL:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:      "New upload",
		video:      &video,
	}})

	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "<p>listing snippet</p>")
	assert.NotContains(t, out[0].Content, `class="comments"`)
}

func TestYouTubeSourceURL(t *testing.T) {
	a := newYouTubeAdapter(testDeps(t))

	assert.Equal(t, "https://www.youtube.com/channel/"+testChannelID,
		a.SourceURL(testFeed("youtube", testChannelID)))
	assert.Equal(t, "https://www.youtube.com/@creator",
		a.SourceURL(testFeed("youtube", "@creator")))
}

func TestYouTubeNormalizeIdentifier(t *testing.T) {
	a := newYouTubeAdapter(testDeps(t))

	got, err := a.NormalizeIdentifier("https://www.youtube.com/@creator")
	require.NoError(t, err)
	assert.Equal(t, "creator", got)

	got, err = a.NormalizeIdentifier(testChannelID)
	require.NoError(t, err)
	assert.Equal(t, testChannelID, got)

	_, err = a.NormalizeIdentifier("   ")
	assert.Error(t, err)
}

func TestYouTubeConfigFields(t *testing.T) {
	a := newYouTubeAdapter(testDeps(t))
	keys := map[string]any{}
	for _, f := range a.ConfigFields() {
		keys[f.Key] = f.Default
	}
	assert.Equal(t, true, keys["include_comments"])
	assert.Equal(t, 5, keys["max_comments"])
	assert.Contains(t, keys, "rewrite_enabled")
}
