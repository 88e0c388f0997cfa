// Package reddit is a minimal client for the Reddit data API using the
// application-only OAuth grant. Tokens are cached per user and refreshed
// by the oauth2 token source when they expire.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/fetch"
)

const (
	requestTimeout = 30 * time.Second
	errorBodyLimit = 4 * 1024
)

// Credentials is one user's Reddit application grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// Client hands out per-user API clients. The underlying token sources are
// cached so one OAuth token serves all of a user's feeds.
type Client struct {
	cfg   config.RedditConfig
	mu    sync.Mutex
	users map[string]*userEntry
}

type userEntry struct {
	clientID   string
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a Client.
func NewClient(cfg config.RedditConfig) *Client {
	return &Client{cfg: cfg, users: make(map[string]*userEntry)}
}

// ForUser returns an API client bound to the user's credentials. Clients are
// cached per user until the client ID changes.
func (c *Client) ForUser(userID string, creds Credentials) *UserClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.users[userID]
	if !ok || entry.clientID != creds.ClientID {
		conf := &clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     c.cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		// Reddit requires the custom User-Agent on the token request too.
		base := &http.Client{
			Timeout:   requestTimeout,
			Transport: &uaTransport{agent: creds.UserAgent},
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

		entry = &userEntry{
			clientID:   creds.ClientID,
			userAgent:  creds.UserAgent,
			httpClient: oauth2.NewClient(ctx, conf.TokenSource(ctx)),
		}
		c.users[userID] = entry
	}

	return &UserClient{
		httpClient: entry.httpClient,
		apiBase:    strings.TrimRight(c.cfg.APIBase, "/"),
		userAgent:  entry.userAgent,
	}
}

type uaTransport struct {
	agent string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", t.agent)
	return http.DefaultTransport.RoundTrip(req)
}

// UserClient performs API calls with one user's token.
type UserClient struct {
	httpClient *http.Client
	apiBase    string
	userAgent  string
}

// Post is a Reddit submission.
type Post struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	Subreddit     string          `json:"subreddit"`
	Permalink     string          `json:"permalink"`
	URL           string          `json:"url"`
	Domain        string          `json:"domain"`
	Selftext      string          `json:"selftext"`
	PostHint      string          `json:"post_hint"`
	CreatedUTC    float64         `json:"created_utc"`
	Score         int             `json:"score"`
	NumComments   int             `json:"num_comments"`
	Stickied      bool            `json:"stickied"`
	IsVideo       bool            `json:"is_video"`
	IsGallery     bool            `json:"is_gallery"`
	GalleryData   *GalleryData    `json:"gallery_data"`

	MediaMeta  map[string]MediaMeta `json:"media_metadata"`
	Media      *Media               `json:"secure_media"`
	Crossposts []Post               `json:"crosspost_parent_list"`
}

// GalleryData orders the images of a gallery post.
type GalleryData struct {
	Items []struct {
		MediaID string `json:"media_id"`
	} `json:"items"`
}

// MediaMeta describes one gallery image.
type MediaMeta struct {
	Status string `json:"status"`
	E      string `json:"e"`
	M      string `json:"m"`
	S      struct {
		U   string `json:"u"`
		GIF string `json:"gif"`
		X   int    `json:"x"`
		Y   int    `json:"y"`
	} `json:"s"`
}

// Media carries the video info of a v.redd.it post.
type Media struct {
	RedditVideo *struct {
		FallbackURL string `json:"fallback_url"`
	} `json:"reddit_video"`
}

// Comment is one top-level comment.
type Comment struct {
	Author   string  `json:"author"`
	Body     string  `json:"body"`
	Score    int     `json:"score"`
	Stickied bool    `json:"stickied"`
	Created  float64 `json:"created_utc"`
}

// About is the subset of subreddit metadata the header extractor needs.
type About struct {
	DisplayName   string `json:"display_name"`
	CommunityIcon string `json:"community_icon"`
	IconImg       string `json:"icon_img"`
}

// IconURL returns the best available subreddit icon URL.
func (a *About) IconURL() string {
	icon := a.CommunityIcon
	if icon == "" {
		icon = a.IconImg
	}
	// Reddit escapes query separators in icon URLs.
	return strings.ReplaceAll(icon, "&amp;", "&")
}

// Crosspost returns the original post when p is a cross-post, else nil.
func (p *Post) Crosspost() *Post {
	if len(p.Crossposts) == 0 {
		return nil
	}
	return &p.Crossposts[0]
}

// CreatedAt converts the post timestamp.
func (p *Post) CreatedAt() time.Time {
	return time.Unix(int64(p.CreatedUTC), 0).UTC()
}

// Listing fetches a subreddit listing.
func (u *UserClient) Listing(ctx context.Context, subreddit, sort string, limit int) ([]Post, error) {
	if sort == "" {
		sort = "hot"
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("raw_json", "1")

	var wire thing
	if err := u.getJSON(ctx, "/r/"+url.PathEscape(subreddit)+"/"+sort+"?"+q.Encode(), &wire); err != nil {
		return nil, fmt.Errorf("reddit listing r/%s: %w", subreddit, err)
	}

	posts := make([]Post, 0, len(wire.Data.Children))
	for _, child := range wire.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var p Post
		if err := json.Unmarshal(child.Data, &p); err != nil {
			return nil, fmt.Errorf("reddit listing r/%s: decode post: %w", subreddit, err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// Comments fetches the top-level comments of a post, best first. A 4xx from
// Reddit is surfaced as a skip signal so the whole article is dropped.
func (u *UserClient) Comments(ctx context.Context, subreddit, postID string, limit int) ([]Comment, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("depth", "1")
	q.Set("sort", "top")
	q.Set("raw_json", "1")

	path := "/r/" + url.PathEscape(subreddit) + "/comments/" + url.PathEscape(postID) + "?" + q.Encode()

	var wire []thing
	if err := u.getJSON(ctx, path, &wire); err != nil {
		return nil, fmt.Errorf("reddit comments %s: %w", postID, err)
	}
	if len(wire) < 2 {
		return nil, nil
	}

	var comments []Comment
	for _, child := range wire[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var c Comment
		if err := json.Unmarshal(child.Data, &c); err != nil {
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// About fetches subreddit metadata.
func (u *UserClient) About(ctx context.Context, subreddit string) (*About, error) {
	var wire struct {
		Data About `json:"data"`
	}
	if err := u.getJSON(ctx, "/r/"+url.PathEscape(subreddit)+"/about?raw_json=1", &wire); err != nil {
		return nil, fmt.Errorf("reddit about r/%s: %w", subreddit, err)
	}
	return &wire.Data, nil
}

// thing is the generic kind/data envelope of the Reddit API.
type thing struct {
	Kind string `json:"kind"`
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (u *UserClient) getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", u.userAgent)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return &fetch.SkipError{StatusCode: resp.StatusCode, URL: u.apiBase + path}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsBotAuthor reports whether a comment author looks like a bot account.
func IsBotAuthor(author string) bool {
	a := strings.ToLower(author)
	return a == "automoderator" || strings.HasSuffix(a, "_bot") || strings.HasSuffix(a, "-bot")
}

// NormalizeSubreddit reduces any accepted identifier form (plain name,
// r/name, /r/name/, full URL) to the bare subreddit name.
func NormalizeSubreddit(identifier string) string {
	s := strings.TrimSpace(identifier)
	if i := strings.Index(s, "reddit.com/"); i >= 0 {
		s = s[i+len("reddit.com/"):]
	}
	s = strings.Trim(s, "/")
	s = strings.TrimPrefix(s, "r/")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// ValidSubreddit reports whether a name is a plausible subreddit name.
func ValidSubreddit(name string) bool {
	if len(name) < 2 || len(name) > 21 {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
