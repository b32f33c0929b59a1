package query

import (
	"context"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/store"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

// Service provides read-only projections over one argument store for
// browsing: listing, keyword search, and aggregate statistics. It never
// mutates the store.
type Service struct {
	store *store.Store
}

func New(st *store.Store) *Service {
	return &Service{store: st}
}

// ListOptions mirror the store's pagination.
type ListOptions struct {
	Offset int
	Limit  int
}

// List returns index projections, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) []model.IndexEntry {
	return s.store.List(ctx, store.ListOptions{Offset: opts.Offset, Limit: opts.Limit})
}

// Get returns one full record by ID.
func (s *Service) Get(ctx context.Context, id model.RecordID) (*model.Record, error) {
	return s.store.Get(ctx, id)
}

// Search returns records whose title or transcript contains the keyword,
// case-insensitive, newest first. Records that fail to load are skipped.
func (s *Service) Search(ctx context.Context, keyword string, limit int) []model.IndexEntry {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return nil
	}

	var matches []model.IndexEntry
	for _, entry := range s.store.List(ctx, store.ListOptions{}) {
		if limit > 0 && len(matches) >= limit {
			break
		}

		if strings.Contains(strings.ToLower(entry.Title), needle) {
			matches = append(matches, entry)
			continue
		}

		rec, err := s.store.Get(ctx, entry.ID)
		if err != nil {
			logging.From(ctx).Warn("skipping unreadable record in search", "id", entry.ID, "error", err)
			continue
		}
		if strings.Contains(strings.ToLower(rec.TranscriptText), needle) {
			matches = append(matches, entry)
		}
	}
	return matches
}

// Stats are aggregate statistics over the whole store.
type Stats struct {
	TotalRecords int            `json:"total_records"`
	WinnerCounts map[string]int `json:"winner_counts"`
	LatestRecord time.Time      `json:"latest_record,omitzero"`
}

// Stats counts records by winning speaker; records without a verdict
// count under "undetermined".
func (s *Service) Stats(ctx context.Context) *Stats {
	entries := s.store.List(ctx, store.ListOptions{})

	stats := &Stats{
		TotalRecords: len(entries),
		WinnerCounts: map[string]int{},
	}
	for _, e := range entries {
		winner := e.Winner
		if winner == "" {
			winner = model.WinnerUndetermined
		}
		stats.WinnerCounts[winner]++
		if e.CreatedAt.After(stats.LatestRecord) {
			stats.LatestRecord = e.CreatedAt
		}
	}
	return stats
}
