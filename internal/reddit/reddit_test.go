package reddit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/fetch"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var tokenCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(config.RedditConfig{
		APIBase:  srv.URL,
		TokenURL: srv.URL + "/api/v1/access_token",
	})
	return client, &tokenCalls
}

func TestListing(t *testing.T) {
	client, tokenCalls := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/golang/hot", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		json.NewEncoder(w).Encode(map[string]any{
			"kind": "Listing",
			"data": map[string]any{
				"children": []map[string]any{
					{"kind": "t3", "data": map[string]any{
						"id": "abc", "title": "First", "author": "alice",
						"subreddit": "golang", "permalink": "/r/golang/comments/abc/first/",
						"created_utc": 1700000000, "score": 42,
					}},
					{"kind": "t5", "data": map[string]any{}},
					{"kind": "t3", "data": map[string]any{
						"id": "def", "title": "Second", "author": "bob",
						"is_gallery": true,
					}},
				},
			},
		})
	})

	u := client.ForUser("user-1", Credentials{ClientID: "cid", ClientSecret: "sec", UserAgent: "test-agent"})
	posts, err := u.Listing(context.Background(), "golang", "", 25)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "First", posts[0].Title)
	assert.Equal(t, "alice", posts[0].Author)
	assert.Equal(t, 42, posts[0].Score)
	assert.True(t, posts[1].IsGallery)

	// Same user reuses the cached token source.
	_, err = u.Listing(context.Background(), "golang", "hot", 25)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls))
}

func TestCommentsSkipOn4xx(t *testing.T) {
	client, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	u := client.ForUser("user-1", Credentials{ClientID: "cid", UserAgent: "ua"})
	_, err := u.Comments(context.Background(), "golang", "abc", 10)
	require.Error(t, err)
	assert.True(t, fetch.IsSkip(err))
}

func TestComments(t *testing.T) {
	client, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"kind": "Listing", "data": map[string]any{"children": []map[string]any{}}},
			{"kind": "Listing", "data": map[string]any{
				"children": []map[string]any{
					{"kind": "t1", "data": map[string]any{"author": "carol", "body": "nice", "score": 10}},
					{"kind": "more", "data": map[string]any{}},
					{"kind": "t1", "data": map[string]any{"author": "dave", "body": "meh", "score": 2}},
				},
			}},
		})
	})

	u := client.ForUser("user-1", Credentials{ClientID: "cid", UserAgent: "ua"})
	comments, err := u.Comments(context.Background(), "golang", "abc", 10)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "carol", comments[0].Author)
	assert.Equal(t, 10, comments[0].Score)
}

func TestAboutIcon(t *testing.T) {
	client, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/golang/about", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"kind": "t5",
			"data": map[string]any{
				"display_name":   "golang",
				"community_icon": "https://cdn.example/icon.png?width=256&amp;s=abc",
			},
		})
	})

	u := client.ForUser("user-1", Credentials{ClientID: "cid", UserAgent: "ua"})
	about, err := u.About(context.Background(), "golang")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/icon.png?width=256&s=abc", about.IconURL())
}

func TestCrosspost(t *testing.T) {
	p := Post{Title: "wrapper", Crossposts: []Post{{Title: "original", Selftext: "body"}}}
	cp := p.Crosspost()
	require.NotNil(t, cp)
	assert.Equal(t, "original", cp.Title)

	assert.Nil(t, (&Post{}).Crosspost())
}

func TestIsBotAuthor(t *testing.T) {
	tests := []struct {
		author string
		want   bool
	}{
		{"AutoModerator", true},
		{"remindme_bot", true},
		{"haiku-bot", true},
		{"Totally_Human", false},
		{"bot_fan", false},
		{"robotics", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBotAuthor(tt.author), "IsBotAuthor(%q)", tt.author)
	}
}

func TestNormalizeSubreddit(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"golang", "golang"},
		{"r/golang", "golang"},
		{"/r/golang/", "golang"},
		{"https://www.reddit.com/r/golang/hot", "golang"},
		{"  r/Golang  ", "Golang"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSubreddit(tt.in), "NormalizeSubreddit(%q)", tt.in)
	}
}

func TestValidSubreddit(t *testing.T) {
	assert.True(t, ValidSubreddit("golang"))
	assert.True(t, ValidSubreddit("Ask_Reddit2"))
	assert.False(t, ValidSubreddit("a"))
	assert.False(t, ValidSubreddit("has space"))
	assert.False(t, ValidSubreddit("way-too-long-subreddit-name"))
	assert.False(t, ValidSubreddit("dash-name"))
}
