// Package htmlutil provides the DOM operations shared by all aggregators:
// pruning, attribute sanitization, and image removal on parsed fragments.
package htmlutil

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// defaultKeepData lists the data-* attributes that survive cleaning. Lazy
// loading relies on data-src/data-srcset carrying the real image URL.
var defaultKeepData = []string{"data-src", "data-srcset"}

// genericImageNames are filenames too common for name-based matching to
// mean anything.
var genericImageNames = map[string]bool{
	"image.jpg":   true,
	"image.jpeg":  true,
	"image.png":   true,
	"image.gif":   true,
	"default.jpg": true,
	"default.png": true,
	"logo.png":    true,
	"logo.jpg":    true,
}

// variantSuffix matches the responsive-variant tails CMSes append to image
// filenames: -800x600, -1024, or a short alphanumeric hash.
var variantSuffix = regexp.MustCompile(`-(\d+x\d+|\d+|[a-zA-Z0-9]{3,6})$`)

// Parse parses an HTML fragment into a document.
func Parse(fragment string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("htmlutil: parse: %w", err)
	}
	return doc, nil
}

// Render serializes the document's body content back to an HTML fragment.
func Render(doc *goquery.Document) (string, error) {
	out, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("htmlutil: render: %w", err)
	}
	return out, nil
}

// CleanHTML drops HTML comments from a fragment and re-serializes it.
func CleanHTML(fragment string) (string, error) {
	doc, err := Parse(fragment)
	if err != nil {
		return "", err
	}
	for _, n := range doc.Nodes {
		removeComments(n)
	}
	return Render(doc)
}

func removeComments(n *html.Node) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		if child.Type == html.CommentNode {
			n.RemoveChild(child)
		} else {
			removeComments(child)
		}
		child = next
	}
}

// RemoveSelectors decomposes every match of every selector.
func RemoveSelectors(sel *goquery.Selection, selectors []string) {
	for _, s := range selectors {
		sel.Find(s).Remove()
	}
}

// RemoveEmptyElements removes elements of the given tags that contain no
// text and no image.
func RemoveEmptyElements(sel *goquery.Selection, tags ...string) {
	for _, tag := range tags {
		sel.Find(tag).Each(func(_ int, el *goquery.Selection) {
			if strings.TrimSpace(el.Text()) == "" && el.Find("img").Length() == 0 {
				el.Remove()
			}
		})
	}
}

// CleanDataAttributes drops all data-* attributes except the keep list
// (default: data-src, data-srcset).
func CleanDataAttributes(sel *goquery.Selection, keep []string) {
	if keep == nil {
		keep = defaultKeepData
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	sel.Find("*").Each(func(_ int, el *goquery.Selection) {
		for _, n := range el.Nodes {
			filtered := n.Attr[:0]
			for _, a := range n.Attr {
				if strings.HasPrefix(a.Key, "data-") && !keepSet[a.Key] {
					continue
				}
				filtered = append(filtered, a)
			}
			n.Attr = filtered
		}
	})
}

// SanitizeClassNames renames every class attribute to data-sanitized-class,
// so stored content cannot pick up reader-side styling.
func SanitizeClassNames(sel *goquery.Selection) {
	sel.Find("[class]").Each(func(_ int, el *goquery.Selection) {
		for _, n := range el.Nodes {
			for i, a := range n.Attr {
				if a.Key == "class" {
					n.Attr[i].Key = "data-sanitized-class"
				}
			}
		}
	})
}

// SanitizeAttributes removes active elements (script, object, embed, style,
// iframe) and renames class, style, id, and all non-whitelisted data-*
// attributes to data-sanitized-*.
func SanitizeAttributes(sel *goquery.Selection, keep []string) {
	if keep == nil {
		keep = defaultKeepData
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	RemoveSelectors(sel, []string{"script", "object", "embed", "style", "iframe"})

	sel.Find("*").Each(func(_ int, el *goquery.Selection) {
		for _, n := range el.Nodes {
			for i, a := range n.Attr {
				switch {
				case a.Key == "class" || a.Key == "style" || a.Key == "id":
					n.Attr[i].Key = "data-sanitized-" + a.Key
				case strings.HasPrefix(a.Key, "data-") &&
					!strings.HasPrefix(a.Key, "data-sanitized-") && !keepSet[a.Key]:
					n.Attr[i].Key = "data-sanitized-" + strings.TrimPrefix(a.Key, "data-")
				}
			}
		}
	})
}

// RemoveSanitizedAttributes strips every attribute with the data-sanitized-
// prefix. Together with SanitizeAttributes it forms a two-pass cleanup.
func RemoveSanitizedAttributes(sel *goquery.Selection) {
	sel.Find("*").Each(func(_ int, el *goquery.Selection) {
		for _, n := range el.Nodes {
			filtered := n.Attr[:0]
			for _, a := range n.Attr {
				if strings.HasPrefix(a.Key, "data-sanitized-") {
					continue
				}
				filtered = append(filtered, a)
			}
			n.Attr = filtered
		}
	})
}

// RemoveImageByURL removes the first <img> matching the target URL, by exact
// src, by filename, or by responsive-variant filename (stripped of size and
// hash suffixes). Reports whether an image was removed.
func RemoveImageByURL(sel *goquery.Selection, target string) bool {
	targetName := lastPathSegment(target)
	targetKey := variantKey(targetName)
	removed := false

	sel.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return true
		}
		if matchesImageURL(src, target, targetName, targetKey) {
			img.Remove()
			removed = true
			return false
		}
		return true
	})
	return removed
}

func matchesImageURL(src, target, targetName, targetKey string) bool {
	if src == target {
		return true
	}
	name := lastPathSegment(src)
	if name == "" || genericImageNames[strings.ToLower(name)] ||
		genericImageNames[strings.ToLower(targetName)] {
		return false
	}
	if name == targetName {
		return true
	}
	return targetKey != "" && variantKey(name) == targetKey
}

func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	seg := path.Base(u.Path)
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

// variantKey reduces a filename to its base form: extension stripped, then
// one trailing size or hash suffix stripped.
func variantKey(filename string) string {
	if filename == "" {
		return ""
	}
	name := strings.TrimSuffix(filename, path.Ext(filename))
	return variantSuffix.ReplaceAllString(name, "")
}
