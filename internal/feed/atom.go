package feed

import (
	"strings"

	"github.com/mmcdole/gofeed/atom"
)

func fromAtom(en *atom.Entry) entry {
	e := entry{
		title:  en.Title,
		link:   alternateLink(en.Links),
		html:   en.Summary,
		id:     en.ID,
		images: mediaHints(en.Extensions),
	}

	if strings.TrimSpace(e.html) == "" && en.Content != nil {
		e.html = en.Content.Value
	}

	switch {
	case en.PublishedParsed != nil:
		e.published = en.PublishedParsed
	case en.UpdatedParsed != nil:
		e.published = en.UpdatedParsed
	}

	for _, p := range en.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			e.author = p.Name
			break
		}
	}
	if e.author == "" {
		e.author = creator(en.Extensions)
	}

	for _, l := range en.Links {
		if l != nil && strings.EqualFold(l.Rel, "enclosure") {
			e.images.Enclosures = append(e.images.Enclosures, Enclosure{URL: l.Href, Type: l.Type})
		}
	}
	return e
}

// alternateLink picks the entry's permalink: the first rel="alternate" or
// rel-less link, else the first link with an href.
func alternateLink(links []*atom.Link) string {
	var first string
	for _, l := range links {
		if l == nil || l.Href == "" {
			continue
		}
		if l.Rel == "" || strings.EqualFold(l.Rel, "alternate") {
			return l.Href
		}
		if first == "" {
			first = l.Href
		}
	}
	return first
}
