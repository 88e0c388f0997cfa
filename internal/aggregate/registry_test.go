package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTags(t *testing.T) {
	r := NewRegistry(testDeps(t))

	assert.Equal(t, []string{
		"caschy", "darklegacy", "explosm", "heise", "mactechnews", "meinmmo",
		"merkur", "oglaf", "podcast", "reddit", "rss", "tagesschau",
		"website", "youtube",
	}, r.Tags())
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(testDeps(t))

	a, ok := r.Get("heise")
	require.True(t, ok)
	assert.Equal(t, "heise", a.Tag())

	_, ok = r.Get("twitter")
	assert.False(t, ok)
}

func TestRegistryAllOrderedByTag(t *testing.T) {
	r := NewRegistry(testDeps(t))

	all := r.All()
	tags := make([]string, 0, len(all))
	for _, a := range all {
		tags = append(tags, a.Tag())
	}
	assert.Equal(t, r.Tags(), tags)
}

func TestEveryAdapterHasRewriteToggle(t *testing.T) {
	r := NewRegistry(testDeps(t))

	for _, a := range r.All() {
		found := false
		for _, f := range a.ConfigFields() {
			if f.Key == "rewrite_enabled" {
				found = true
				break
			}
		}
		assert.True(t, found, "adapter %s", a.Tag())
	}
}

func TestRegistryDefaultIdentifiers(t *testing.T) {
	r := NewRegistry(testDeps(t))

	rss, ok := r.Get("rss")
	require.True(t, ok)
	assert.Empty(t, rss.DefaultIdentifier(), "free-form sources have no default")

	heise, ok := r.Get("heise")
	require.True(t, ok)
	assert.NotEmpty(t, heise.DefaultIdentifier(), "pinned sites default to their feed")
	assert.NotEmpty(t, heise.IdentifierChoices())
}
