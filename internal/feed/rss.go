package feed

import (
	"strings"

	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"
)

func fromRSS(it *rss.Item) entry {
	e := entry{
		title:     it.Title,
		link:      it.Link,
		html:      it.Description,
		published: it.PubDateParsed,
		author:    it.Author,
		images:    mediaHints(it.Extensions),
	}
	if strings.TrimSpace(e.html) == "" {
		// content:encoded
		e.html = it.Content
	}
	if it.GUID != nil {
		e.id = it.GUID.Value
	}
	if strings.TrimSpace(e.author) == "" {
		if it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
			e.author = it.DublinCoreExt.Creator[0]
		} else {
			e.author = creator(it.Extensions)
		}
	}

	enclosures := it.Enclosures
	if len(enclosures) == 0 && it.Enclosure != nil {
		enclosures = []*rss.Enclosure{it.Enclosure}
	}
	for _, enc := range enclosures {
		if enc == nil {
			continue
		}
		e.images.Enclosures = append(e.images.Enclosures, Enclosure{URL: enc.URL, Type: enc.Type})
	}
	return e
}

// creator reads dc:creator from raw extensions.
func creator(exts ext.Extensions) string {
	for _, c := range exts["dc"]["creator"] {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return ""
}
