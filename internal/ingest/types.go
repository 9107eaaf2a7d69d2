// Package ingest defines the wire types of the document intake path and
// hands validated index requests to the asynchronous queue.
package ingest

import (
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/internal/indexer"
)

// DocumentRequest is the JSON body accepted by the document endpoint. When
// Tokens is empty the full text is split on whitespace.
type DocumentRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	FullText string   `json:"full_text"`
	Tokens   []string `json:"tokens,omitempty"`
}

func (r DocumentRequest) IndexRequest() indexer.IndexRequest {
	tokens := r.Tokens
	if len(tokens) == 0 {
		tokens = strings.Fields(r.FullText)
	}
	return indexer.IndexRequest{
		Tokens:   tokens,
		Title:    strings.TrimSpace(r.Title),
		URL:      strings.TrimSpace(r.URL),
		FullText: r.FullText,
	}
}

// IndexEvent is the queue payload. The request fields are inlined.
type IndexEvent struct {
	RequestID string `json:"request_id"`
	indexer.IndexRequest
	QueuedAt time.Time `json:"queued_at"`
}

// Accepted is returned to the caller once an event is on the queue.
type Accepted struct {
	RequestID string `json:"request_id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
}
