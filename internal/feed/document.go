package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
	"golang.org/x/net/html/charset"
)

// Kind tags which dialect a Document holds.
type Kind int

const (
	KindRSS Kind = iota + 1
	KindAtom
)

func (k Kind) String() string {
	switch k {
	case KindRSS:
		return "rss"
	case KindAtom:
		return "atom"
	default:
		return "unknown"
	}
}

// Document is a parsed feed. Exactly one of RSS or Atom is set, matching Kind.
type Document struct {
	Kind Kind
	RSS  *rss.Feed
	Atom *atom.Feed
}

// Parse detects the dialect of data and parses it. RSS (including RDF) is
// tried first, then Atom. Anything else, malformed XML, or a feed without a
// single item or entry yields a *ParseError.
func Parse(data []byte) (*Document, error) {
	if err := wellFormed(data); err != nil {
		return nil, &ParseError{Reason: "malformed xml", Err: err}
	}

	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		f, err := (&rss.Parser{}).Parse(bytes.NewReader(data))
		if err != nil {
			return nil, &ParseError{Reason: "malformed rss", Err: err}
		}
		if len(f.Items) == 0 {
			return nil, &ParseError{Reason: "rss document has no items"}
		}
		return &Document{Kind: KindRSS, RSS: f}, nil

	case gofeed.FeedTypeAtom:
		f, err := (&atom.Parser{}).Parse(bytes.NewReader(data))
		if err != nil {
			return nil, &ParseError{Reason: "malformed atom", Err: err}
		}
		if len(f.Entries) == 0 {
			return nil, &ParseError{Reason: "atom document has no entries"}
		}
		return &Document{Kind: KindAtom, Atom: f}, nil

	default:
		return nil, &ParseError{Reason: "no rss items or atom entries found"}
	}
}

var utf8BOM = []byte("\xef\xbb\xbf")

// wellFormed reads data as strict XML with a single root element. The gofeed
// parsers recover from broken markup, so they only see documents that pass.
func wellFormed(data []byte) error {
	d := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	depth, roots := 0, 0
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			if roots == 0 {
				return errors.New("no root element")
			}
			return nil
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if roots++; roots > 1 {
					return fmt.Errorf("second root element <%s>", t.Name.Local)
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return errors.New("text outside the root element")
			}
		}
	}
}

// Len is the number of raw elements in the document, before the per-run cap.
func (d *Document) Len() int {
	switch d.Kind {
	case KindRSS:
		return len(d.RSS.Items)
	case KindAtom:
		return len(d.Atom.Entries)
	}
	return 0
}

// Items maps at most MaxItemsPerSource raw elements to canonical items.
// Elements that cannot be mapped are skipped and returned as errors wrapping
// ErrInvalidItem; they never prevent the remaining elements from being mapped.
// now is used as the publish time for undated elements.
func (d *Document) Items(src Source, now time.Time) ([]Item, []error) {
	var entries []entry
	switch d.Kind {
	case KindRSS:
		for i, it := range d.RSS.Items {
			if i >= MaxItemsPerSource {
				break
			}
			entries = append(entries, fromRSS(it))
		}
	case KindAtom:
		for i, e := range d.Atom.Entries {
			if i >= MaxItemsPerSource {
				break
			}
			entries = append(entries, fromAtom(e))
		}
	}

	items := make([]Item, 0, len(entries))
	var skipped []error
	for i, e := range entries {
		item, err := build(e, src, now)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	return items, skipped
}

func build(e entry, src Source, now time.Time) (Item, error) {
	title := strings.TrimSpace(e.title)
	link := resolveURL(src.URL, strings.TrimSpace(e.link))
	if title == "" && link == "" {
		return Item{}, fmt.Errorf("%w: no title or link", ErrInvalidItem)
	}

	guid := strings.TrimSpace(e.id)
	if guid == "" {
		guid = link
	}
	if guid == "" {
		return Item{}, fmt.Errorf("%w: no guid, id or link", ErrInvalidItem)
	}

	published := now
	if e.published != nil && !e.published.IsZero() {
		published = *e.published
	}

	base := link
	if base == "" {
		base = src.URL
	}

	return Item{
		GUID:        guid,
		Title:       title,
		Link:        link,
		Description: Excerpt(e.html),
		PublishedAt: published.UTC().Truncate(time.Second),
		ImageURL:    ResolveImage(e.images, e.html, base),
		Author:      strings.TrimSpace(e.author),
		SourceID:    src.ID,
		SourceName:  src.Name,
		CountryCode: src.CountryCode,
		CountryName: src.CountryName,
		Category:    src.Category,
	}, nil
}

// resolveURL makes ref absolute against base. Unparseable input is returned as is.
func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
