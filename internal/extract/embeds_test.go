package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/htmlutil"
)

func testRewriter() *EmbedRewriter {
	return NewEmbedRewriter(testExtractConfig(), "https://www.redditmedia.com")
}

func TestProxyYouTubeIframes(t *testing.T) {
	doc, err := htmlutil.Parse(`<p>before</p>
		<iframe src="https://www.youtube.com/embed/dQw4w9WgXcQ" width="560"></iframe>
		<iframe src="https://player.vimeo.com/video/123"></iframe>`)
	require.NoError(t, err)

	testRewriter().ProxyYouTubeIframes(doc.Selection)

	out, err := htmlutil.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, `src="/api/youtube-proxy?v=dQw4w9WgXcQ"`)
	assert.NotContains(t, out, "youtube.com")
	assert.Contains(t, out, "player.vimeo.com", "non-YouTube iframes stay")
}

func TestRewriteFiguresYouTubeLink(t *testing.T) {
	doc, err := htmlutil.Parse(`<figure class="wp-block-embed is-provider-youtube wp-block-embed-youtube">
		<div class="wp-block-embed__wrapper">
			<a href="https://www.youtube.com/watch?v=dQw4w9WgXcQ">Video</a>
		</div>
	</figure>`)
	require.NoError(t, err)

	testRewriter().RewriteFigures(doc.Selection)

	out, err := htmlutil.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, `src="/api/youtube-proxy?v=dQw4w9WgXcQ"`)
	assert.NotContains(t, out, "<figure")
}

func TestRewriteFiguresTwitter(t *testing.T) {
	doc, err := htmlutil.Parse(`<figure class="wp-block-embed is-provider-twitter wp-block-embed-twitter">
		<blockquote class="twitter-tweet">Big announcement coming tomorrow.
			<a href="https://twitter.com/someuser/status/12345">March 1, 2024</a>
		</blockquote>
	</figure>`)
	require.NoError(t, err)

	testRewriter().RewriteFigures(doc.Selection)

	out, err := htmlutil.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, `href="https://fxtwitter.com/someuser/status/12345"`)
	assert.Contains(t, out, "Big announcement coming tomorrow.")
	assert.NotContains(t, out, `href="https://twitter.com`)
	assert.NotContains(t, out, "<figure")
}

func TestRewriteFiguresReddit(t *testing.T) {
	doc, err := htmlutil.Parse(`<figure class="wp-block-embed is-provider-reddit wp-block-embed-reddit">
		<a href="https://www.reddit.com/r/gaming/comments/abc12/some_post/">post</a>
	</figure>`)
	require.NoError(t, err)

	testRewriter().RewriteFigures(doc.Selection)

	out, err := htmlutil.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "www.redditmedia.com/r/gaming/comments/abc12/some_post/")
	assert.Contains(t, out, "embed=true")
	assert.Contains(t, out, "<iframe")
	assert.NotContains(t, out, "<figure")
}

func TestRewriteFiguresUnknownProviderUntouched(t *testing.T) {
	doc, err := htmlutil.Parse(`<figure class="wp-block-image"><img src="/pic.jpg"/></figure>`)
	require.NoError(t, err)

	testRewriter().RewriteFigures(doc.Selection)

	out, err := htmlutil.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, `<figure class="wp-block-image">`)
}

func TestRewriteFiguresYouTubeThumbnailWhenEmbedsDisabled(t *testing.T) {
	cfg := testExtractConfig()
	cfg.EmbedsEnabled = false
	r := NewEmbedRewriter(cfg, "")

	doc, err := htmlutil.Parse(`<figure class="wp-block-embed-youtube">
		<iframe src="https://www.youtube.com/embed/dQw4w9WgXcQ"></iframe>
	</figure>`)
	require.NoError(t, err)

	r.RewriteFigures(doc.Selection)

	out, err := htmlutil.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "img.youtube.com/vi/dQw4w9WgXcQ/hqdefault.jpg")
	assert.NotContains(t, out, "<iframe")
}
