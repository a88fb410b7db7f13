package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

const (
	indexVersion     = 1
	indexLockTimeout = 5 * time.Second
	indexLockRetry   = 50 * time.Millisecond
)

type indexDocument struct {
	Version   int                  `json:"version"`
	UpdatedAt time.Time            `json:"updated_at"`
	Videos    []domain.VideoRecord `json:"videos"`
}

// IndexFile is the persisted JSON mirror of the catalog table.
type IndexFile struct {
	Path string
}

// NewIndexFile returns an index file rooted at path.
func NewIndexFile(path string) *IndexFile {
	return &IndexFile{Path: path}
}

// Load reads and coerces the persisted rows. A missing file yields no rows and no
// error; any decode failure returns an error and no rows at all.
func (f *IndexFile) Load() ([]domain.VideoRecord, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	return coerceRows(doc.Videos), nil
}

// Save writes records atomically under an advisory file lock and returns the bytes
// written.
func (f *IndexFile) Save(ctx context.Context, records []domain.VideoRecord) ([]byte, error) {
	data, err := json.MarshalIndent(indexDocument{
		Version:   indexVersion,
		UpdatedAt: time.Now().UTC(),
		Videos:    records,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode index: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	lock := flock.New(f.Path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, indexLockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, indexLockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to lock index: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("index is locked by another process")
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp index: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp index: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return nil, fmt.Errorf("failed to replace index: %w", err)
	}
	return data, nil
}

// Seed installs data as the index when no index exists yet. It reports whether
// anything was written; malformed data is rejected without touching disk.
func (f *IndexFile) Seed(ctx context.Context, data []byte) (bool, error) {
	if _, err := os.Stat(f.Path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat index: %w", err)
	}

	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to decode seed index: %w", err)
	}
	if _, err := f.Save(ctx, coerceRows(doc.Videos)); err != nil {
		return false, err
	}
	return true, nil
}

// coerceRows drops rows without identity, dedupes ids and repairs field invariants.
func coerceRows(rows []domain.VideoRecord) []domain.VideoRecord {
	out := make([]domain.VideoRecord, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		row.ID = strings.TrimSpace(row.ID)
		row.RelPath = filepath.ToSlash(strings.TrimSpace(row.RelPath))
		if row.ID == "" || row.RelPath == "" {
			continue
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}

		row = row.Clone()
		row.Segments = SanitizeSegments(row.Segments)
		if strings.TrimSpace(row.TranscriptText) == "" && len(row.Segments) > 0 {
			row.TranscriptText = JoinSegments(row.Segments)
		}
		row.NormalizeStatus()
		if row.TranscriptStatus == domain.TranscriptReady && row.TranscriptSource == "" {
			row.TranscriptSource = domain.SourcePersisted
		}
		if row.DurationSeconds < 0 {
			row.DurationSeconds = 0
		}
		row.ModTime = row.ModTime.UTC()
		row.ProbedModTime = row.ProbedModTime.UTC()
		row.TranscriptUpdatedAt = row.TranscriptUpdatedAt.UTC()
		out = append(out, row)
	}
	return out
}
