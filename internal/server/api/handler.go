package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/ingestor/internal/models"
	"reddot-watch/ingestor/internal/server/pagination"
	"reddot-watch/ingestor/internal/storage"
)

const defaultLimit = 20
const maxLimit = 100

// ItemLister reads stored items.
type ItemLister interface {
	FetchItems(ctx context.Context, q storage.ItemQuery) ([]models.FeedItem, error)
}

// Item is the public shape of a stored item.
type Item struct {
	ID          int64     `json:"id"`
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
	SourceName  string    `json:"source_name"`
	ImageURL    *string   `json:"image_url"`
	Author      *string   `json:"author"`
	CountryCode *string   `json:"country_code"`
	CountryName *string   `json:"country_name"`
	Category    *string   `json:"category"`
}

// Response structure for the items endpoint
type Response struct {
	Items      []Item  `json:"items"`
	NextCursor *string `json:"next_cursor,omitempty"`
}

// ItemsHandler serves the item listing.
type ItemsHandler struct {
	repo ItemLister
}

// NewItemsHandler creates a new handler instance.
func NewItemsHandler(repo ItemLister) *ItemsHandler {
	return &ItemsHandler{repo: repo}
}

// GetItems lists items newest first, optionally filtered by country or source.
func (h *ItemsHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing items request")

	query := r.URL.Query()
	q := storage.ItemQuery{
		CountryCode: strings.TrimSpace(query.Get("country")),
		SourceName:  strings.TrimSpace(query.Get("source")),
		Limit:       defaultLimit,
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		q.Limit = parsedLimit
	}

	if cursorStr := query.Get("cursor"); cursorStr != "" {
		cursor, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		q.BeforePublished = cursor.PublishedAt
		q.BeforeID = cursor.ID
	}

	limit := q.Limit
	q.Limit++ // one extra row tells us whether another page exists
	rows, err := h.repo.FetchItems(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("country", q.CountryCode).Str("source", q.SourceName).Msg("Error fetching items from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	response := Response{Items: make([]Item, 0, min(len(rows), limit))}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next := pagination.Cursor{PublishedAt: last.PublishedAt, ID: last.ID}.Encode()
		response.NextCursor = &next
	}
	for _, row := range rows {
		response.Items = append(response.Items, toItem(row))
	}

	writeJSON(w, r, http.StatusOK, response)
	log.Debug().Int("items", len(response.Items)).Msg("Response completed")
}

func toItem(row models.FeedItem) Item {
	return Item{
		ID:          row.ID,
		GUID:        row.GUID,
		Title:       row.Title,
		Link:        row.Link,
		Description: row.Description,
		PublishedAt: row.PublishedAt.UTC(),
		SourceName:  row.SourceName,
		ImageURL:    ptr(row.ImageURL.String, row.ImageURL.Valid),
		Author:      ptr(row.Author.String, row.Author.Valid),
		CountryCode: ptr(row.CountryCode.String, row.CountryCode.Valid),
		CountryName: ptr(row.CountryName.String, row.CountryName.Valid),
		Category:    ptr(row.Category.String, row.Category.Valid),
	}
}

func ptr(s string, ok bool) *string {
	if !ok {
		return nil
	}
	return &s
}
