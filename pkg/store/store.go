package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/utils/logging"
)

const (
	recordsDirName = "arguments"
	stagingDirName = ".staging"
	pendingDirName = ".pending"
	indexFileName  = "arguments.json"

	metadataFileName   = "metadata.json"
	transcriptFileName = "transcript.txt"
	audioFileName      = "audio.wav"
)

// Store is an append-only, directory-per-record repository. Records are
// staged in a private area and published with a single atomic rename, so
// readers never observe a partially written record.
type Store struct {
	root string

	mu      sync.RWMutex
	entries []model.IndexEntry // newest first
	byID    map[model.RecordID]int
}

// Open initializes the store at root, creating the directory layout if
// needed. Leftover staging directories from a crashed writer are swept,
// a missing or unreadable index is rebuilt from the record directories
// themselves, and a readable index is reconciled against them.
func Open(ctx context.Context, root string) (*Store, error) {
	for _, dir := range []string{recordsDirName, stagingDirName, pendingDirName} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, goerr.Wrap(model.ErrStoreFailure, "failed to create store directory",
				goerr.V("dir", dir), goerr.V("root", root))
		}
	}

	s := &Store{
		root: root,
		byID: map[model.RecordID]int{},
	}

	s.sweepStaging(ctx)

	if err := s.loadIndex(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) recordDir(id model.RecordID) string {
	return filepath.Join(s.root, recordsDirName, id.String())
}

// Put persists a full record with its audio blob. It is atomic with
// respect to process crash: the record is either fully present and
// indexed or fully absent. A put for an existing ID is rejected with
// model.ErrDuplicateRecord.
func (s *Store) Put(ctx context.Context, rec *model.Record, audio []byte) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if s.Exists(rec.ID) {
		return goerr.Wrap(model.ErrDuplicateRecord, "put rejected", goerr.V("id", rec.ID))
	}

	stageDir := filepath.Join(s.root, stagingDirName, "put-"+uuid.New().String())
	if err := os.Mkdir(stageDir, 0o755); err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "failed to create staging directory", goerr.V("id", rec.ID))
	}

	if err := s.writeArtifacts(stageDir, rec, audio); err != nil {
		_ = os.RemoveAll(stageDir)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		_ = os.RemoveAll(stageDir)
		return goerr.Wrap(model.ErrDuplicateRecord, "put rejected", goerr.V("id", rec.ID))
	}

	if err := os.Rename(stageDir, s.recordDir(rec.ID)); err != nil {
		_ = os.RemoveAll(stageDir)
		if entry, ok := s.publishedEntry(rec.ID); ok {
			// A complete record already occupies the target path, e.g.
			// one published just before a crash lost its index entry.
			s.insertEntryLocked(entry)
			if werr := s.writeIndexLocked(); werr != nil {
				logging.From(ctx).Warn("failed to index previously published record",
					"id", rec.ID, "error", werr)
			}
			return goerr.Wrap(model.ErrDuplicateRecord, "put rejected", goerr.V("id", rec.ID))
		}
		return goerr.Wrap(model.ErrStoreFailure, "failed to publish record", goerr.V("id", rec.ID))
	}

	s.insertEntryLocked(model.NewIndexEntry(rec))
	if err := s.writeIndexLocked(); err != nil {
		// The record directory is already visible; the index will be
		// reconciled from it on the next Open.
		logging.From(ctx).Warn("record published but index rewrite failed",
			"id", rec.ID, "error", err)
	}

	return nil
}

func (s *Store) writeArtifacts(dir string, rec *model.Record, audio []byte) error {
	meta := *rec
	meta.TranscriptText = ""
	meta.RawAudioRef = audioFileName

	raw, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "failed to marshal record metadata", goerr.V("id", rec.ID))
	}

	files := []struct {
		name string
		data []byte
	}{
		{metadataFileName, raw},
		{transcriptFileName, []byte(rec.TranscriptText)},
		{audioFileName, audio},
	}
	for _, f := range files {
		if err := writeFileSync(filepath.Join(dir, f.name), f.data); err != nil {
			return goerr.Wrap(model.ErrStoreFailure, "failed to write record artifact",
				goerr.V("id", rec.ID), goerr.V("file", f.name))
		}
	}
	return nil
}

// Get returns the full record, or model.ErrRecordNotFound.
func (s *Store) Get(ctx context.Context, id model.RecordID) (*model.Record, error) {
	raw, err := os.ReadFile(filepath.Join(s.recordDir(id), metadataFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrRecordNotFound, "no such record", goerr.V("id", id))
		}
		return nil, goerr.Wrap(model.ErrStoreFailure, "failed to read record metadata", goerr.V("id", id))
	}

	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, goerr.Wrap(model.ErrStoreFailure, "corrupt record metadata", goerr.V("id", id))
	}

	transcript, err := os.ReadFile(filepath.Join(s.recordDir(id), transcriptFileName))
	if err != nil {
		return nil, goerr.Wrap(model.ErrStoreFailure, "failed to read transcript", goerr.V("id", id))
	}
	rec.TranscriptText = string(transcript)

	return &rec, nil
}

// ReadAudio returns the raw audio blob of a persisted record.
func (s *Store) ReadAudio(ctx context.Context, id model.RecordID) ([]byte, error) {
	audio, err := os.ReadFile(filepath.Join(s.recordDir(id), audioFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrRecordNotFound, "no such record", goerr.V("id", id))
		}
		return nil, goerr.Wrap(model.ErrStoreFailure, "failed to read audio", goerr.V("id", id))
	}
	return audio, nil
}

// Exists reports whether a record with the given ID is committed.
func (s *Store) Exists(id model.RecordID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// ListOptions control pagination of List. Limit <= 0 returns everything
// from Offset on.
type ListOptions struct {
	Offset int
	Limit  int
}

// List returns index projections ordered by creation time, newest first.
// Full transcripts are never loaded.
func (s *Store) List(ctx context.Context, opts ListOptions) []model.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Offset >= len(s.entries) {
		return nil
	}
	page := s.entries[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(page) {
		page = page[:opts.Limit]
	}

	out := make([]model.IndexEntry, len(page))
	copy(out, page)
	return out
}

// BackfillTitle sets the title of a persisted record. This is the one
// permitted mutation after commit, and only while the title is unset.
func (s *Store) BackfillTitle(ctx context.Context, id model.RecordID, title string) error {
	if title == "" {
		return goerr.New("title is empty", goerr.V("id", id))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return goerr.Wrap(model.ErrRecordNotFound, "no such record", goerr.V("id", id))
	}

	metaPath := filepath.Join(s.recordDir(id), metadataFileName)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "failed to read record metadata", goerr.V("id", id))
	}

	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "corrupt record metadata", goerr.V("id", id))
	}
	if rec.Title != "" {
		return goerr.New("title already set", goerr.V("id", id), goerr.V("title", rec.Title))
	}
	rec.Title = title

	updated, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "failed to marshal record metadata", goerr.V("id", id))
	}

	tmpPath := metaPath + ".tmp"
	if err := writeFileSync(tmpPath, updated); err != nil {
		_ = os.Remove(tmpPath)
		return goerr.Wrap(model.ErrStoreFailure, "failed to stage metadata update", goerr.V("id", id))
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		_ = os.Remove(tmpPath)
		return goerr.Wrap(model.ErrStoreFailure, "failed to publish metadata update", goerr.V("id", id))
	}

	s.entries[idx].Title = title
	if err := s.writeIndexLocked(); err != nil {
		logging.From(ctx).Warn("title backfilled but index rewrite failed", "id", id, "error", err)
	}

	return nil
}

// RetainAudio spools a raw capture buffer outside the visible namespace
// so a failed pipeline run can be retried without data loss.
func (s *Store) RetainAudio(ctx context.Context, id model.RecordID, audio []byte) error {
	path := filepath.Join(s.root, pendingDirName, id.String()+".wav")
	if err := writeFileSync(path, audio); err != nil {
		return goerr.Wrap(model.ErrStoreFailure, "failed to retain audio", goerr.V("id", id))
	}
	logging.From(ctx).Info("raw audio retained for retry", "id", id, "path", path)
	return nil
}

// publishedEntry reads the metadata of an already-published record
// directory. It reports false when no complete record sits at the path.
func (s *Store) publishedEntry(id model.RecordID) (model.IndexEntry, bool) {
	raw, err := os.ReadFile(filepath.Join(s.recordDir(id), metadataFileName))
	if err != nil {
		return model.IndexEntry{}, false
	}
	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.IndexEntry{}, false
	}
	return model.NewIndexEntry(&rec), true
}

// insertEntryLocked keeps entries ordered by creation time descending.
func (s *Store) insertEntryLocked(e model.IndexEntry) {
	pos := sort.Search(len(s.entries), func(i int) bool {
		if !s.entries[i].CreatedAt.Equal(e.CreatedAt) {
			return s.entries[i].CreatedAt.Before(e.CreatedAt)
		}
		return s.entries[i].ID < e.ID
	})

	s.entries = append(s.entries, model.IndexEntry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e

	s.byID = make(map[model.RecordID]int, len(s.entries))
	for i, entry := range s.entries {
		s.byID[entry.ID] = i
	}
}

func (s *Store) sweepStaging(ctx context.Context) {
	stagingDir := filepath.Join(s.root, stagingDirName)
	leftovers, err := os.ReadDir(stagingDir)
	if err != nil {
		return
	}
	for _, entry := range leftovers {
		path := filepath.Join(stagingDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logging.From(ctx).Warn("failed to sweep stale staging entry", "path", path, "error", err)
			continue
		}
		logging.From(ctx).Info("swept stale staging entry", "path", path)
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
