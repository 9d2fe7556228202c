package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/meilisearch/meilisearch-go"
)

// ErrDisabled is returned when no search host is configured
var ErrDisabled = errors.New("search is disabled")

// Document is one product as stored in the index
type Document struct {
	ID         uint     `json:"id"`
	Name       string   `json:"name"`
	Currency   string   `json:"currency,omitempty"`
	Latest     int64    `json:"latest"`
	Previous   *int64   `json:"previous,omitempty"`
	Delta      *int64   `json:"delta,omitempty"`
	DeltaPct   *float64 `json:"delta_pct,omitempty"`
	Direction  string   `json:"direction"`
	ObservedAt int64    `json:"observed_at"` // unix seconds, sortable
}

// DocumentFromRow converts a snapshot row into an index document
func DocumentFromRow(r snapshot.Row) Document {
	doc := Document{
		ID:         r.ProductID,
		Name:       r.Name,
		Currency:   r.Currency,
		Latest:     r.Latest,
		Previous:   r.Previous,
		Delta:      r.Delta,
		Direction:  string(r.Direction()),
		ObservedAt: r.ObservedAt.Unix(),
	}
	if r.DeltaPct != nil {
		pct := r.DeltaPct.InexactFloat64()
		doc.DeltaPct = &pct
	}
	return doc
}

type SearchClient struct {
	client *meilisearch.Client
	index  string
}

// NewSearchClient returns nil when the host is empty
func NewSearchClient(cfg config.MeilisearchConfig) *SearchClient {
	if cfg.Host == "" {
		return nil
	}
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   cfg.Host,
		APIKey: cfg.APIKey,
	})

	index := cfg.Index
	if index == "" {
		index = "products"
	}
	return &SearchClient{client: client, index: index}
}

// InitIndex creates the index and configures its attributes
func (s *SearchClient) InitIndex() error {
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Creating an existing index is reported asynchronously by the task, not here
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}

	idx := s.client.Index(s.index)
	if _, err := idx.UpdateSearchableAttributes(&[]string{"name"}); err != nil {
		return err
	}
	if _, err := idx.UpdateFilterableAttributes(&[]string{
		"latest",
		"delta",
		"delta_pct",
		"direction",
		"currency",
	}); err != nil {
		return err
	}
	if _, err := idx.UpdateSortableAttributes(&[]string{
		"latest",
		"delta",
		"delta_pct",
		"observed_at",
	}); err != nil {
		return err
	}
	return nil
}

// IndexRows upserts snapshot rows. Products are never deleted, so an upsert
// of the full snapshot replaces the index contents.
func (s *SearchClient) IndexRows(rows []snapshot.Row) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, DocumentFromRow(r))
	}
	_, err := s.client.Index(s.index).AddDocuments(docs, "id")
	return err
}

// Search runs a filtered query against the index
func (s *SearchClient) Search(params FilterParams) ([]Document, error) {
	if s == nil {
		return nil, ErrDisabled
	}

	req := &meilisearch.SearchRequest{Limit: params.limit()}
	if filter := BuildFilter(params); filter != "" {
		req.Filter = filter
	}
	if sort := params.sort(); sort != nil {
		req.Sort = sort
	}

	res, err := s.client.Index(s.index).Search(params.Query, req)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		// Convert hit to JSON then to Document
		hitJSON, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(hitJSON, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Indexer keeps the index in step with the current snapshot
type Indexer struct {
	Client    *SearchClient
	Snapshots *snapshot.Service
}

// Reindex pushes the full current snapshot. A nil client is a no-op.
func (i *Indexer) Reindex(ctx context.Context) error {
	if i == nil || i.Client == nil {
		return nil
	}
	rows, err := i.Snapshots.Current(ctx)
	if err != nil {
		return err
	}
	if err := i.Client.IndexRows(rows); err != nil {
		return fmt.Errorf("failed to index %d products: %w", len(rows), err)
	}
	return nil
}
