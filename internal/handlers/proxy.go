package handlers

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/dkoeder/gleaner/internal/config"
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// playerKnobs are the embed parameters the proxy forwards, with their
// defaults. A query parameter of the same name overrides.
var playerKnobs = []struct {
	name     string
	fallback string
}{
	{"autoplay", "0"},
	{"loop", "0"},
	{"mute", "0"},
	{"controls", "1"},
	{"rel", "0"},
	{"modestbranding", "1"},
	{"playsinline", "1"},
}

// ProxyHandler serves the YouTube embed page that article bodies iframe.
// Going through the proxy keeps YouTube cookies out of reader clients and
// gives one place to tune player parameters.
type ProxyHandler struct {
	YouTube config.YouTubeConfig
}

// YouTubeEmbed handles GET /api/youtube-proxy?v=<id>.
// The response is framed by article bodies, so it must never carry
// X-Frame-Options.
func (h *ProxyHandler) YouTubeEmbed(w http.ResponseWriter, r *http.Request) {
	videoID := strings.TrimSpace(r.URL.Query().Get("v"))
	if !videoIDRe.MatchString(videoID) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `<!DOCTYPE html><html><body><p>Missing or invalid video id.</p></body></html>`)
		return
	}

	params := url.Values{}
	for _, knob := range playerKnobs {
		value := knob.fallback
		if v := r.URL.Query().Get(knob.name); v == "0" || v == "1" {
			value = v
		}
		params.Set(knob.name, value)
	}
	// YouTube only loops a single video when it is its own playlist.
	if params.Get("loop") == "1" {
		params.Set("playlist", videoID)
	}

	src := strings.TrimRight(h.YouTube.EmbedBase, "/") + "/" + videoID + "?" + params.Encode()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><style>html,body{margin:0;height:100%%;overflow:hidden}</style></head>
<body>
<iframe src="%s" style="width:100%%;height:100%%;border:0;" allow="accelerometer; autoplay; clipboard-write; encrypted-media; gyroscope; picture-in-picture" allowfullscreen></iframe>
</body>
</html>`, html.EscapeString(src))
}
