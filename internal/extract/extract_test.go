package extract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/images"
)

func testExtractConfig() config.ExtractConfig {
	return config.ExtractConfig{
		HeaderEnabled:    true,
		EmbedsEnabled:    true,
		FxTwitterBase:    "https://fxtwitter.com",
		YouTubeThumbBase: "https://img.youtube.com/vi",
		ProxyPath:        "/api/youtube-proxy",
		MinBodyImgWidth:  100,
		MinBodyImgHeight: 50,
		MinHeadImgWidth:  200,
		MinHeadImgHeight: 200,
	}
}

func testExtractor(t *testing.T, handler http.HandlerFunc, icons SubredditIconProvider) (*Extractor, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := fetch.NewClient(config.FetchConfig{
		UserAgent:      "test-agent",
		ArticleTimeout: 5 * time.Second,
		ImageTimeout:   5 * time.Second,
		MaxRetries:     1,
	})
	svc := images.NewService(config.ImageConfig{
		MaxHeaderWidth:  1200,
		MaxHeaderHeight: 1200,
		JPEGQuality:     65,
		PreferJPEG:      true,
		MinBodyBytes:    100,
		CompressEnabled: true,
		Base64Enabled:   true,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testExtractConfig(), client, svc, icons, logger), srv
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(y), G: uint8(x), B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestVideoID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/v/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=tooshort", ""},
		{"https://www.youtube.com/playlist?list=PL123", ""},
		{"https://example.com/watch?v=dQw4w9WgXcQ", ""},
		{"not a url", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, VideoID(tc.url), "url %q", tc.url)
	}
}

func TestStrategyCanHandle(t *testing.T) {
	embed := redditEmbedStrategy{cfg: testExtractConfig()}
	post := redditPostStrategy{}
	generic := genericStrategy{}

	assert.True(t, embed.CanHandle("https://vxreddit.com/r/golang/comments/abc12"))
	assert.True(t, embed.CanHandle("https://www.reddit.com/embed?url=x"))
	assert.True(t, embed.CanHandle("https://v.redd.it/embed/xyz"))
	assert.False(t, embed.CanHandle("https://www.reddit.com/r/golang/comments/abc12/title/"))

	assert.True(t, post.CanHandle("https://www.reddit.com/r/golang/comments/abc12/title/"))
	assert.False(t, post.CanHandle("https://www.reddit.com/embed/r/golang/comments/abc12"))
	assert.False(t, post.CanHandle("https://example.com/article"))

	assert.True(t, generic.CanHandle("https://example.com/article"))
	assert.False(t, generic.CanHandle("https://v.redd.it/abc123"))
	assert.True(t, generic.CanHandle("https://v.redd.it.example.com/page"))
	assert.False(t, generic.CanHandle("ftp://example.com/file"))
}

func TestHeaderElementRedditEmbed(t *testing.T) {
	e, _ := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected fetch %s", r.URL)
	}, nil)

	h, err := e.HeaderElement(context.Background(), "https://vxreddit.com/r/golang/comments/abc12")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Contains(t, h.HTML, `<iframe src="https://vxreddit.com/r/golang/comments/abc12"`)
	assert.Contains(t, h.HTML, "embed-wrapper")
	assert.Empty(t, h.ImageURL)
}

func TestHeaderElementYouTubeProxy(t *testing.T) {
	e, _ := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected fetch %s", r.URL)
	}, nil)

	h, err := e.HeaderElement(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Contains(t, h.HTML, `src="/api/youtube-proxy?v=dQw4w9WgXcQ"`)
	assert.NotContains(t, h.HTML, "youtube.com")
}

func TestHeaderElementGenericOgImage(t *testing.T) {
	var imgPath string
	e, srv := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><head><meta property="og:image" content="/header.jpg"></head><body></body></html>`))
		case "/header.jpg":
			imgPath = r.URL.Path
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpegBytes(t, 300, 300))
		default:
			http.NotFound(w, r)
		}
	}, nil)

	h, err := e.HeaderElement(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "/header.jpg", imgPath)
	assert.Equal(t, srv.URL+"/header.jpg", h.ImageURL)
	assert.True(t, strings.HasPrefix(h.HTML, `<img src="data:image/jpeg;base64,`), "got %.80s", h.HTML)
}

func TestHeaderElementGenericFirstLargeImage(t *testing.T) {
	e, srv := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body>
				<img src="/tiny.png" width="50" height="50"/>
				<img src="/big.jpg"/>
			</body></html>`))
		case "/big.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpegBytes(t, 400, 400))
		default:
			t.Errorf("unexpected fetch %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}, nil)

	h, err := e.HeaderElement(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, srv.URL+"/big.jpg", h.ImageURL)
}

func TestHeaderElementGenericRejectsSmall(t *testing.T) {
	e, srv := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><img src="/small.jpg"/></body></html>`))
		case "/small.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpegBytes(t, 150, 150))
		default:
			http.NotFound(w, r)
		}
	}, nil)

	h, err := e.HeaderElement(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestHeaderElementSkipOn404(t *testing.T) {
	e, srv := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}, nil)

	_, err := e.HeaderElement(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.True(t, fetch.IsSkip(err))
}

type iconStub struct {
	url string
	err error
}

func (s iconStub) SubredditIcon(context.Context, string) (string, error) {
	return s.url, s.err
}

func TestHeaderElementRedditPostIcon(t *testing.T) {
	e, srv := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/icon.png", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes(t, 256, 256))
	}, nil)
	e.strategies[1] = redditPostStrategy{e: e, icons: iconStub{url: srv.URL + "/icon.png"}}

	h, err := e.HeaderElement(context.Background(), "https://www.reddit.com/r/golang/comments/abc12/title/")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Contains(t, h.HTML, `alt="r/golang"`)
	assert.Contains(t, h.HTML, "data:image/jpeg;base64,")
}

func TestRedditPostStrategyWithoutCredentials(t *testing.T) {
	s := redditPostStrategy{}
	h, err := s.Create(context.Background(), "https://www.reddit.com/r/golang/comments/abc12/title/")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestRedditPostStrategyPropagatesSkip(t *testing.T) {
	e, _ := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected fetch %s", r.URL)
	}, nil)
	e.strategies[1] = redditPostStrategy{e: e, icons: iconStub{err: &fetch.SkipError{StatusCode: 403, URL: "x"}}}

	_, err := e.HeaderElement(context.Background(), "https://www.reddit.com/r/golang/comments/abc12/title/")
	require.Error(t, err)
	assert.True(t, fetch.IsSkip(err))
}

func TestHeaderElementDisabled(t *testing.T) {
	e, _ := testExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected fetch %s", r.URL)
	}, nil)
	e.cfg.HeaderEnabled = false

	h, err := e.HeaderElement(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestRewriteTwitterURL(t *testing.T) {
	cfg := testExtractConfig()
	cases := []struct {
		in   string
		want string
	}{
		{"https://twitter.com/user/status/123", "https://fxtwitter.com/user/status/123"},
		{"https://x.com/user/status/123", "https://fxtwitter.com/user/status/123"},
		{"https://mobile.twitter.com/user/status/123", "https://fxtwitter.com/user/status/123"},
		{"https://example.com/page", "https://example.com/page"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RewriteTwitterURL(cfg, tc.in), "url %q", tc.in)
	}
}

func TestYouTubeElementThumbnailFallback(t *testing.T) {
	cfg := testExtractConfig()
	cfg.EmbedsEnabled = false

	out := YouTubeElement(cfg, "dQw4w9WgXcQ")
	assert.Contains(t, out, `href="https://www.youtube.com/watch?v=dQw4w9WgXcQ"`)
	assert.Contains(t, out, `src="https://img.youtube.com/vi/dQw4w9WgXcQ/hqdefault.jpg"`)
	assert.NotContains(t, out, "iframe")
}
