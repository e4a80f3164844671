package feed

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	ext "github.com/mmcdole/gofeed/extensions"
)

// MediaContent is one media:content element.
type MediaContent struct {
	URL    string
	Medium string
	Type   string
}

// Enclosure is an RSS enclosure or an Atom rel="enclosure" link.
type Enclosure struct {
	URL  string
	Type string
}

// ImageHints collects the structured image candidates of one raw element.
type ImageHints struct {
	Thumbnails   []string
	MediaContent []MediaContent
	Enclosures   []Enclosure
}

// ResolveImage returns the best image URL for an item, or "" if none.
//
// Order: media:thumbnail, media:content that is (or may be) an image, an
// image enclosure, then the first <img src> in rawHTML. Relative URLs are
// resolved against base and only http(s) URLs are accepted.
func ResolveImage(h ImageHints, rawHTML, base string) string {
	for _, u := range h.Thumbnails {
		if v := validImageURL(base, u); v != "" {
			return v
		}
	}

	for _, mc := range h.MediaContent {
		if !maybeImage(mc.Medium, mc.Type) {
			continue
		}
		if v := validImageURL(base, mc.URL); v != "" {
			return v
		}
	}

	for _, enc := range h.Enclosures {
		if !strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			continue
		}
		if v := validImageURL(base, enc.URL); v != "" {
			return v
		}
	}

	return firstHTMLImage(rawHTML, base)
}

// maybeImage accepts media:content declared as an image, and untyped media:content.
func maybeImage(medium, mimeType string) bool {
	medium = strings.ToLower(strings.TrimSpace(medium))
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if medium == "" && mimeType == "" {
		return true
	}
	return medium == "image" || strings.HasPrefix(mimeType, "image/")
}

func firstHTMLImage(rawHTML, base string) string {
	if !strings.Contains(strings.ToLower(rawHTML), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		found = validImageURL(base, src)
		return found == ""
	})
	return found
}

func validImageURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	abs := resolveURL(base, raw)
	u, err := url.Parse(abs)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// mediaHints reads Media RSS thumbnails and content, including those nested in media:group.
func mediaHints(exts ext.Extensions) ImageHints {
	var h ImageHints
	media, ok := exts["media"]
	if !ok {
		return h
	}

	collect := func(elems map[string][]ext.Extension) {
		for _, t := range elems["thumbnail"] {
			if u := t.Attrs["url"]; u != "" {
				h.Thumbnails = append(h.Thumbnails, u)
			}
		}
		for _, c := range elems["content"] {
			if u := c.Attrs["url"]; u != "" {
				h.MediaContent = append(h.MediaContent, MediaContent{
					URL:    u,
					Medium: c.Attrs["medium"],
					Type:   c.Attrs["type"],
				})
			}
			// media:content may carry its own thumbnail
			for _, t := range c.Children["thumbnail"] {
				if u := t.Attrs["url"]; u != "" {
					h.Thumbnails = append(h.Thumbnails, u)
				}
			}
		}
	}

	collect(media)
	for _, g := range media["group"] {
		collect(g.Children)
	}
	return h
}
