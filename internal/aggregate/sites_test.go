package aggregate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkoeder/gleaner/internal/htmlutil"
)

func TestHeisePageURL(t *testing.T) {
	assert.Equal(t,
		"https://www.heise.de/news/artikel-1.html?seite=all",
		heisePageURL("https://www.heise.de/news/artikel-1.html"))
	assert.Equal(t,
		"https://www.heise.de/news/artikel-1.html?seite=all&wt_mc=rss",
		heisePageURL("https://www.heise.de/news/artikel-1.html?wt_mc=rss"),
		"existing query parameters survive")
}

func TestTagesschauPlayers(t *testing.T) {
	doc, err := htmlutil.Parse(`<article>
<div data-v-type="MediaPlayer" data-v='{"mc":{"streams":[{"media":[{"url":"https://media.example/clip.mp4"}]}]}}'></div>
<div data-v-type="MediaPlayer" data-v='{"mc":{"podcast":{"src":"https://audio.example/episode.mp3"}}}'></div>
<div data-v-type="MediaPlayer" data-v='not json'></div>
<div data-v-type="MediaPlayer"></div>
<p>Text stays</p>
</article>`)
	require.NoError(t, err)

	tagesschauPlayers(doc.Selection)

	video := doc.Find("video")
	require.Equal(t, 1, video.Length())
	assert.Equal(t, "https://media.example/clip.mp4", video.AttrOr("src", ""))

	audio := doc.Find("audio")
	require.Equal(t, 1, audio.Length())
	assert.Equal(t, "https://audio.example/episode.mp3", audio.AttrOr("src", ""))

	assert.Equal(t, 0, doc.Find(`div[data-v-type="MediaPlayer"]`).Length(),
		"placeholders without a stream are removed")
	assert.Equal(t, 1, doc.Find("p").Length())
}

func TestFirstMediaURL(t *testing.T) {
	assert.Equal(t, "https://x.example/a.mp4", firstMediaURL(map[string]any{
		"z": "https://x.example/b.mp4",
		"a": map[string]any{"stream": "https://x.example/a.mp4"},
	}), "map keys are walked in sorted order")

	assert.Equal(t, "https://x.example/list.m3u8", firstMediaURL([]any{
		"https://x.example/poster.jpg",
		map[string]any{"url": "https://x.example/list.m3u8"},
	}))

	assert.Empty(t, firstMediaURL(map[string]any{"title": "no media here"}))
	assert.Empty(t, firstMediaURL(nil))
}

func TestIsMediaURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://x.example/v.mp4", true},
		{"https://x.example/v.mp4?profile=hd", true},
		{"https://x.example/index.m3u8", true},
		{"https://x.example/v.webm", true},
		{"https://x.example/a.mp3", true},
		{"https://x.example/poster.jpg", false},
		{"/relative/v.mp4", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isMediaURL(tt.url), tt.url)
	}
}

func TestPaginationLinks(t *testing.T) {
	doc, err := htmlutil.Parse(`<div>
<nav class="navigation pagination">
  <a href="https://mein-mmo.de/guide/">1</a>
  <a href="https://mein-mmo.de/guide/2/">2</a>
  <a href="/guide/3/">3</a>
  <a href="https://mein-mmo.de/guide/2/">2 again</a>
</nav>
</div>`)
	require.NoError(t, err)

	links := paginationLinks(doc, "https://mein-mmo.de/guide/")
	assert.Equal(t, []string{
		"https://mein-mmo.de/guide/2/",
		"https://mein-mmo.de/guide/3/",
	}, links, "current page and duplicates are skipped, relative links resolved")

	plain, err := htmlutil.Parse(`<div><p>single page</p></div>`)
	require.NoError(t, err)
	assert.Nil(t, paginationLinks(plain, "https://mein-mmo.de/guide/"))
}

func TestMeinMMOBodyCollectsAllPages(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/guide/2/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body>
<div class="gp-entry-content"><p>Page two text</p></div>
</body></html>`)
	})

	page, err := htmlutil.Parse(fmt.Sprintf(`<html><body>
<div class="gp-entry-content"><p>Page one text</p></div>
<nav class="navigation pagination">
  <a href="%s/guide/">1</a>
  <a href="%s/guide/2/">2</a>
</nav>
</body></html>`, srv.URL, srv.URL))
	require.NoError(t, err)

	w := newSiteAdapter(testDeps(t), siteProfile{
		tag:             "meinmmo",
		contentSelector: "div.gp-entry-content",
		body:            meinMMOBody,
	})
	run := &Run{Feed: testFeed("meinmmo", srv.URL+"/feed")}
	article := RawArticle{URL: srv.URL + "/guide/"}

	sel, err := meinMMOBody(context.Background(), w, run, &article, page)
	require.NoError(t, err)

	body, err := renderSelection(sel)
	require.NoError(t, err)
	first := strings.Index(body, "Page one text")
	second := strings.Index(body, "Page two text")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first, "pages concatenate in order")
	assert.NotContains(t, body, "<body>", "only the content containers are kept")
}

const heiseForumHTML = `<html><body><ol>
<li class="posting"><a class="posting_subject" href="#">Great read</a><span class="pseudonym">alice</span></li>
<li class="posting"><a class="posting_subject" href="#">   </a><span class="pseudonym">bob</span></li>
<li class="posting"><a class="posting_subject" href="#">Second take</a><span class="pseudonym">carol</span></li>
<li class="posting"><a class="posting_subject" href="#">Anonymous view</a></li>
</ol></body></html>`

func heiseArticleDoc(t *testing.T, forumURL string) *goquery.Document {
	t.Helper()
	doc, err := htmlutil.Parse(fmt.Sprintf(`<html><head>
<script type="application/ld+json">{"@type":"NewsArticle","discussionUrl":"%s"}</script>
</head><body></body></html>`, forumURL))
	require.NoError(t, err)
	return doc
}

func TestHeiseComments(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, heiseForumHTML)
	})

	w := newSiteAdapter(testDeps(t), siteProfile{tag: "heise", contentSelector: "div.article-content"})
	run := &Run{Feed: testFeed("heise", "https://www.heise.de/rss/heise-atom.xml")}

	out := heiseComments(context.Background(), w, run, heiseArticleDoc(t, srv.URL+"/forum"))

	assert.Contains(t, out, `<section class="comments"><h2>Comments</h2>`)
	assert.Contains(t, out, "<strong>alice</strong>: Great read")
	assert.Contains(t, out, "<strong>carol</strong>: Second take")
	assert.Contains(t, out, "<blockquote><p>Anonymous view</p></blockquote>")
	assert.NotContains(t, out, "bob", "postings without a subject are skipped")
}

func TestHeiseCommentsHonorsLimit(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, heiseForumHTML)
	})

	w := newSiteAdapter(testDeps(t), siteProfile{tag: "heise", contentSelector: "div.article-content"})
	feed := testFeed("heise", "https://www.heise.de/rss/heise-atom.xml")
	feed.Options["max_comments"] = 2
	run := &Run{Feed: feed}

	out := heiseComments(context.Background(), w, run, heiseArticleDoc(t, srv.URL+"/forum"))

	assert.Equal(t, 2, strings.Count(out, "<blockquote>"))
}

func TestHeiseCommentsWithoutDiscussionURL(t *testing.T) {
	doc, err := htmlutil.Parse(`<html><body><p>No JSON-LD</p></body></html>`)
	require.NoError(t, err)

	w := newSiteAdapter(testDeps(t), siteProfile{tag: "heise", contentSelector: "div.article-content"})
	run := &Run{Feed: testFeed("heise", "https://www.heise.de/rss/heise-atom.xml")}

	assert.Empty(t, heiseComments(context.Background(), w, run, doc))
}

func TestJSONLDString(t *testing.T) {
	doc, err := htmlutil.Parse(`<html><head>
<script type="application/ld+json">broken {</script>
<script type="application/ld+json">{"@graph":[{"@type":"WebPage"},{"@type":"NewsArticle","discussionUrl":"https://forum.example/t/1"}]}</script>
</head><body></body></html>`)
	require.NoError(t, err)

	assert.Equal(t, "https://forum.example/t/1", jsonLDString(doc, "discussionUrl"),
		"broken blocks are skipped, nested keys are found")
	assert.Empty(t, jsonLDString(doc, "commentCount"))
}

func TestCommentBlock(t *testing.T) {
	assert.Equal(t,
		"<blockquote><p><strong>alice</strong>: Nice &lt;3</p></blockquote>",
		commentBlock("alice", "Nice <3"))
	assert.Equal(t,
		"<blockquote><p>Standalone</p></blockquote>",
		commentBlock("", "Standalone"))
}

func TestCommentsSection(t *testing.T) {
	assert.Empty(t, commentsSection(nil))
	out := commentsSection([]string{"<blockquote><p>a</p></blockquote>", "<blockquote><p>b</p></blockquote>"})
	assert.Equal(t,
		`<section class="comments"><h2>Comments</h2><blockquote><p>a</p></blockquote><blockquote><p>b</p></blockquote></section>`,
		out)
}

func TestSiteProfilesAreWellFormed(t *testing.T) {
	for _, adapter := range siteAdapters(testDeps(t)) {
		site, ok := adapter.(*websiteAdapter)
		require.True(t, ok, adapter.Tag())

		assert.NotEmpty(t, site.profile.feedURL, adapter.Tag())
		assert.NotEmpty(t, site.profile.siteURL, adapter.Tag())
		assert.NotEmpty(t, site.profile.contentSelector, adapter.Tag())

		feed := testFeed(adapter.Tag(), adapter.DefaultIdentifier())
		assert.NoError(t, adapter.Validate(&Run{Feed: feed}), adapter.Tag())
	}
}
