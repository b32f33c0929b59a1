package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

// loadIndex reads arguments.json into memory. A missing or corrupt index
// is rebuilt from the record directories; individually invalid entries
// are skipped with a warning rather than failing the whole listing. A
// readable index is still reconciled against the record directories,
// since a crash between publishing a record and rewriting the index
// leaves the index valid but stale.
func (s *Store) loadIndex(ctx context.Context) error {
	raw, err := os.ReadFile(filepath.Join(s.root, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return s.rebuildIndex(ctx)
		}
		return goerr.Wrap(model.ErrStoreFailure, "failed to read index", goerr.V("root", s.root))
	}

	var entries []model.IndexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		logging.From(ctx).Warn("index is corrupt, rebuilding from record directories",
			"root", s.root, "error", err)
		return s.rebuildIndex(ctx)
	}

	entries, changed := s.reconcileEntries(ctx, entries)
	s.setEntries(ctx, entries)

	if changed {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.writeIndexLocked(); err != nil {
			logging.From(ctx).Warn("failed to persist reconciled index", "root", s.root, "error", err)
		}
	}
	return nil
}

// reconcileEntries aligns index entries with the record directories,
// which are the source of truth: published records the index missed are
// indexed, and entries whose directory is gone are dropped.
func (s *Store) reconcileEntries(ctx context.Context, entries []model.IndexEntry) ([]model.IndexEntry, bool) {
	recordsDir := filepath.Join(s.root, recordsDirName)
	dirs, err := os.ReadDir(recordsDir)
	if err != nil {
		logging.From(ctx).Warn("failed to scan record directories for reconciliation",
			"root", s.root, "error", err)
		return entries, false
	}

	present := make(map[model.RecordID]bool, len(dirs))
	for _, dir := range dirs {
		if dir.IsDir() {
			present[model.RecordID(dir.Name())] = true
		}
	}

	changed := false
	kept := make([]model.IndexEntry, 0, len(entries))
	indexed := make(map[model.RecordID]bool, len(entries))
	for _, e := range entries {
		if !present[e.ID] {
			logging.From(ctx).Warn("dropping index entry without record directory", "id", e.ID)
			changed = true
			continue
		}
		indexed[e.ID] = true
		kept = append(kept, e)
	}

	for id := range present {
		if indexed[id] {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(recordsDir, id.String(), metadataFileName))
		if err != nil {
			logging.From(ctx).Warn("skipping unindexed record without readable metadata", "id", id, "error", err)
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			logging.From(ctx).Warn("skipping unindexed record with corrupt metadata", "id", id, "error", err)
			continue
		}
		logging.From(ctx).Info("indexing record the index missed", "id", id)
		kept = append(kept, model.NewIndexEntry(&rec))
		changed = true
	}

	return kept, changed
}

// rebuildIndex reconstructs the index by scanning every record directory.
// Records with unreadable metadata are skipped and logged.
func (s *Store) rebuildIndex(ctx context.Context) error {
	recordsDir := filepath.Join(s.root, recordsDirName)
	dirs, err := os.ReadDir(recordsDir)
	if err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "failed to scan record directories", goerr.V("root", s.root))
	}

	var entries []model.IndexEntry
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(recordsDir, dir.Name(), metadataFileName))
		if err != nil {
			logging.From(ctx).Warn("skipping record without readable metadata", "id", dir.Name(), "error", err)
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			logging.From(ctx).Warn("skipping record with corrupt metadata", "id", dir.Name(), "error", err)
			continue
		}
		entries = append(entries, model.NewIndexEntry(&rec))
	}

	s.setEntries(ctx, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeIndexLocked(); err != nil {
		logging.From(ctx).Warn("failed to persist rebuilt index", "root", s.root, "error", err)
	}
	return nil
}

// setEntries installs validated entries sorted newest first.
func (s *Store) setEntries(ctx context.Context, entries []model.IndexEntry) {
	valid := make([]model.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.CreatedAt.IsZero() {
			logging.From(ctx).Warn("skipping invalid index entry", "id", e.ID)
			continue
		}
		valid = append(valid, e)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if !valid[i].CreatedAt.Equal(valid[j].CreatedAt) {
			return valid[i].CreatedAt.After(valid[j].CreatedAt)
		}
		return valid[i].ID > valid[j].ID
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = valid
	s.byID = make(map[model.RecordID]int, len(valid))
	for i, e := range valid {
		s.byID[e.ID] = i
	}
}

// writeIndexLocked rewrites arguments.json atomically. Callers must hold
// the write lock.
func (s *Store) writeIndexLocked() error {
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal index")
	}

	indexPath := filepath.Join(s.root, indexFileName)
	tmpPath := indexPath + ".tmp"
	if err := writeFileSync(tmpPath, raw); err != nil {
		_ = os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to stage index")
	}
	if err := os.Rename(tmpPath, indexPath); err != nil {
		_ = os.Remove(tmpPath)
		return goerr.Wrap(err, "failed to publish index")
	}
	return nil
}
