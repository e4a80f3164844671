// Package feed turns raw RSS 2.0 and Atom documents into canonical items.
package feed

import "time"

const (
	// MaxItemsPerSource bounds how many raw elements are read from one document per run.
	MaxItemsPerSource = 10
	// ExcerptLength is the maximum number of characters kept from a description.
	ExcerptLength = 300
)

// Source is the denormalized view of a feed source copied onto every item.
type Source struct {
	ID          int64
	Name        string
	URL         string
	CountryCode string
	CountryName string
	Category    string
}

// Item is the canonical shape every parser produces.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	PublishedAt time.Time
	ImageURL    string
	Author      string

	SourceID    int64
	SourceName  string
	CountryCode string
	CountryName string
	Category    string
}

// entry is what a dialect-specific mapper extracts from one raw element
// before the shared normalization in build.
type entry struct {
	title     string
	link      string
	html      string
	id        string
	published *time.Time
	author    string
	images    ImageHints
}
