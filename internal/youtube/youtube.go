// Package youtube is a minimal client for the YouTube Data API v3, covering
// channel resolution, upload listings, and top comments.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	requestTimeout = 30 * time.Second
	errorBodyLimit = 4 * 1024
)

var channelIDRe = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// Client calls the YouTube Data API. The API key is per-user and passed per
// call.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Client for the given API base URL.
func NewClient(apiBase string) *Client {
	return &Client{
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Video is one uploaded video.
type Video struct {
	ID           string
	Title        string
	Description  string
	ChannelTitle string
	Published    time.Time
}

// Comment is one top-level video comment.
type Comment struct {
	Author string
	Text   string
	Likes  int
}

// ResolveChannel turns any accepted channel reference (bare UC-id, @handle,
// /channel/, /c/, /user/ URL, or a search term) into a channel ID. It tries
// search first and falls back to the legacy username lookup.
func (c *Client) ResolveChannel(ctx context.Context, apiKey, identifier string) (string, error) {
	ref := ParseChannelRef(identifier)
	if channelIDRe.MatchString(ref) {
		return ref, nil
	}

	if id, err := c.searchChannel(ctx, apiKey, ref); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	if id, err := c.channelByUsername(ctx, apiKey, ref); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	return "", fmt.Errorf("youtube: channel %q not found", identifier)
}

// ChannelURL builds the public channel page URL for an identifier.
func ChannelURL(identifier string) string {
	ref := ParseChannelRef(identifier)
	if channelIDRe.MatchString(ref) {
		return "https://www.youtube.com/channel/" + ref
	}
	return "https://www.youtube.com/@" + ref
}

// WatchURL builds the public watch page URL for a video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
}

// ParseChannelRef strips URL decoration from a channel identifier, returning
// either a bare channel ID or a handle/username/search term.
func ParseChannelRef(identifier string) string {
	s := strings.TrimSpace(identifier)
	if channelIDRe.MatchString(s) {
		return s
	}

	if i := strings.Index(s, "youtube.com/"); i >= 0 {
		s = s[i+len("youtube.com/"):]
		s = strings.Trim(s, "/")
		for _, prefix := range []string{"channel/", "c/", "user/"} {
			if strings.HasPrefix(s, prefix) {
				s = strings.TrimPrefix(s, prefix)
				break
			}
		}
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
		if i := strings.IndexByte(s, '?'); i >= 0 {
			s = s[:i]
		}
	}

	return strings.TrimPrefix(s, "@")
}

func (c *Client) searchChannel(ctx context.Context, apiKey, term string) (string, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("type", "channel")
	q.Set("maxResults", "1")
	q.Set("q", term)

	var wire struct {
		Items []struct {
			ID struct {
				ChannelID string `json:"channelId"`
			} `json:"id"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, apiKey, "/search", q, &wire); err != nil {
		return "", fmt.Errorf("youtube search channel: %w", err)
	}
	if len(wire.Items) == 0 {
		return "", nil
	}
	return wire.Items[0].ID.ChannelID, nil
}

func (c *Client) channelByUsername(ctx context.Context, apiKey, username string) (string, error) {
	q := url.Values{}
	q.Set("part", "id")
	q.Set("forUsername", username)

	var wire struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, apiKey, "/channels", q, &wire); err != nil {
		return "", fmt.Errorf("youtube channel by username: %w", err)
	}
	if len(wire.Items) == 0 {
		return "", nil
	}
	return wire.Items[0].ID, nil
}

// UploadsPlaylist returns the ID of the channel's uploads playlist, or empty
// when the channel hides it.
func (c *Client) UploadsPlaylist(ctx context.Context, apiKey, channelID string) (string, error) {
	q := url.Values{}
	q.Set("part", "contentDetails")
	q.Set("id", channelID)

	var wire struct {
		Items []struct {
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, apiKey, "/channels", q, &wire); err != nil {
		return "", fmt.Errorf("youtube uploads playlist: %w", err)
	}
	if len(wire.Items) == 0 {
		return "", nil
	}
	return wire.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// PlaylistVideos lists the newest videos of a playlist.
func (c *Client) PlaylistVideos(ctx context.Context, apiKey, playlistID string, limit int) ([]Video, error) {
	q := url.Values{}
	q.Set("part", "snippet,contentDetails")
	q.Set("playlistId", playlistID)
	q.Set("maxResults", strconv.Itoa(limit))

	var wire struct {
		Items []struct {
			Snippet struct {
				Title        string    `json:"title"`
				Description  string    `json:"description"`
				ChannelTitle string    `json:"channelTitle"`
				PublishedAt  time.Time `json:"publishedAt"`
			} `json:"snippet"`
			ContentDetails struct {
				VideoID          string `json:"videoId"`
				VideoPublishedAt string `json:"videoPublishedAt"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, apiKey, "/playlistItems", q, &wire); err != nil {
		return nil, fmt.Errorf("youtube playlist items: %w", err)
	}

	videos := make([]Video, 0, len(wire.Items))
	for _, item := range wire.Items {
		v := Video{
			ID:           item.ContentDetails.VideoID,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			ChannelTitle: item.Snippet.ChannelTitle,
			Published:    item.Snippet.PublishedAt,
		}
		if ts, err := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt); err == nil {
			v.Published = ts
		}
		videos = append(videos, v)
	}
	return videos, nil
}

// SearchVideos lists a channel's newest videos via search, for channels
// without a readable uploads playlist.
func (c *Client) SearchVideos(ctx context.Context, apiKey, channelID string, limit int) ([]Video, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("channelId", channelID)
	q.Set("type", "video")
	q.Set("order", "date")
	q.Set("maxResults", strconv.Itoa(limit))

	var wire struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title        string    `json:"title"`
				Description  string    `json:"description"`
				ChannelTitle string    `json:"channelTitle"`
				PublishedAt  time.Time `json:"publishedAt"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, apiKey, "/search", q, &wire); err != nil {
		return nil, fmt.Errorf("youtube search videos: %w", err)
	}

	videos := make([]Video, 0, len(wire.Items))
	for _, item := range wire.Items {
		videos = append(videos, Video{
			ID:           item.ID.VideoID,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			ChannelTitle: item.Snippet.ChannelTitle,
			Published:    item.Snippet.PublishedAt,
		})
	}
	return videos, nil
}

// VideoDetails loads full snippets for up to 50 videos, keyed by video ID.
// Search and playlist snippets truncate descriptions; this call does not.
func (c *Client) VideoDetails(ctx context.Context, apiKey string, ids []string) (map[string]Video, error) {
	if len(ids) == 0 {
		return map[string]Video{}, nil
	}
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("id", strings.Join(ids, ","))

	var wire struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title        string    `json:"title"`
				Description  string    `json:"description"`
				ChannelTitle string    `json:"channelTitle"`
				PublishedAt  time.Time `json:"publishedAt"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, apiKey, "/videos", q, &wire); err != nil {
		return nil, fmt.Errorf("youtube video details: %w", err)
	}

	details := make(map[string]Video, len(wire.Items))
	for _, item := range wire.Items {
		details[item.ID] = Video{
			ID:           item.ID,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			ChannelTitle: item.Snippet.ChannelTitle,
			Published:    item.Snippet.PublishedAt,
		}
	}
	return details, nil
}

// TopComments returns a video's top comments by relevance, skipping deleted
// and removed ones. Videos with comments disabled yield an empty list.
func (c *Client) TopComments(ctx context.Context, apiKey, videoID string, limit int) ([]Comment, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("videoId", videoID)
	q.Set("order", "relevance")
	q.Set("textFormat", "plainText")
	q.Set("maxResults", strconv.Itoa(limit))

	var wire struct {
		Items []struct {
			Snippet struct {
				TopLevelComment struct {
					Snippet struct {
						AuthorDisplayName string `json:"authorDisplayName"`
						TextDisplay       string `json:"textDisplay"`
						LikeCount         int    `json:"likeCount"`
					} `json:"snippet"`
				} `json:"topLevelComment"`
			} `json:"snippet"`
		} `json:"items"`
	}
	err := c.getJSON(ctx, apiKey, "/commentThreads", q, &wire)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusForbidden {
			return nil, nil
		}
		return nil, fmt.Errorf("youtube comments: %w", err)
	}

	comments := make([]Comment, 0, len(wire.Items))
	for _, item := range wire.Items {
		sn := item.Snippet.TopLevelComment.Snippet
		if sn.TextDisplay == "[deleted]" || sn.TextDisplay == "[removed]" {
			continue
		}
		comments = append(comments, Comment{
			Author: sn.AuthorDisplayName,
			Text:   sn.TextDisplay,
			Likes:  sn.LikeCount,
		})
	}
	return comments, nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("youtube api: status %d: %s", e.status, e.body)
}

func (c *Client) getJSON(ctx context.Context, apiKey, path string, q url.Values, v any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	q.Set("key", apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
