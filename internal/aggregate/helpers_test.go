package aggregate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/config"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/images"
	"github.com/dkoeder/gleaner/internal/markdown"
	"github.com/dkoeder/gleaner/internal/models"
	"github.com/dkoeder/gleaner/internal/reddit"
	"github.com/dkoeder/gleaner/internal/youtube"
)

// frozenNow pins the run clock for the filter and limiter assertions.
var frozenNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		Fetch: config.FetchConfig{
			UserAgent:      "test-agent",
			ArticleTimeout: 5 * time.Second,
			ImageTimeout:   5 * time.Second,
			MaxRetries:     1,
		},
		Images: config.ImageConfig{
			MaxHeaderWidth:  1200,
			MaxHeaderHeight: 1200,
			JPEGQuality:     65,
			PreferJPEG:      true,
			MinBodyBytes:    100,
			CompressEnabled: true,
			Base64Enabled:   true,
		},
		Extract: config.ExtractConfig{
			HeaderEnabled:    true,
			EmbedsEnabled:    true,
			FxTwitterBase:    "https://fxtwitter.com",
			YouTubeThumbBase: "https://img.youtube.com/vi",
			ProxyPath:        "/api/youtube-proxy",
			MinBodyImgWidth:  100,
			MinBodyImgHeight: 50,
			MinHeadImgWidth:  200,
			MinHeadImgHeight: 200,
		},
		Reddit: config.RedditConfig{
			EmbedBase: "https://www.redditmedia.com",
		},
	}
}

func testDeps(t *testing.T) *Deps {
	t.Helper()
	cfg := testConfig()
	return &Deps{
		Config:   cfg,
		Fetch:    fetch.NewClient(cfg.Fetch),
		Scraper:  fetch.NewPageScraper(cfg.Fetch.UserAgent),
		Images:   images.NewService(cfg.Images),
		Markdown: markdown.NewRenderer(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return frozenNow },
	}
}

// testDepsWithReddit points the Reddit client (and its token endpoint) at the
// given server.
func testDepsWithReddit(t *testing.T, srv *httptest.Server) *Deps {
	t.Helper()
	deps := testDeps(t)
	deps.Config.Reddit.APIBase = srv.URL
	deps.Config.Reddit.TokenURL = srv.URL + "/api/v1/access_token"
	deps.Reddit = reddit.NewClient(deps.Config.Reddit)
	return deps
}

func testDepsWithYouTube(t *testing.T, srv *httptest.Server) *Deps {
	t.Helper()
	deps := testDeps(t)
	deps.Config.YouTube.APIBase = srv.URL
	deps.YouTube = youtube.NewClient(srv.URL)
	return deps
}

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testFeed(tag, identifier string) *models.Feed {
	return &models.Feed{
		ID:            7,
		Identifier:    identifier,
		AggregatorTag: tag,
		Name:          "Test feed",
		DailyLimit:    50,
		Enabled:       true,
		Options:       map[string]any{},
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func serveJPEG(t *testing.T, w http.ResponseWriter, width, height int) {
	t.Helper()
	w.Header().Set("Content-Type", "image/jpeg")
	_, err := w.Write(testJPEG(t, width, height))
	require.NoError(t, err)
}
