package storage

import (
	"context"
	"errors"
	"log"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultIndexPrefix = "index"
	indexContentType   = "application/json"

	// DefaultSnapshotRetention is how many timestamped snapshots PutIndex keeps.
	DefaultSnapshotRetention = 20
)

// IndexMirror keeps an off-box copy of the catalog index: a latest.json that
// is overwritten on every save plus the most recent timestamped snapshots.
type IndexMirror struct {
	client *S3Client
	prefix string
	keep   int
	now    func() time.Time
}

// NewIndexMirror stores objects under prefix ("index" when empty) and keeps
// keep snapshots; keep <= 0 selects DefaultSnapshotRetention.
func NewIndexMirror(client *S3Client, prefix string, keep int) *IndexMirror {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultIndexPrefix
	}
	if keep <= 0 {
		keep = DefaultSnapshotRetention
	}
	return &IndexMirror{client: client, prefix: prefix, keep: keep, now: time.Now}
}

func (m *IndexMirror) latestKey() string {
	return path.Join(m.prefix, "latest.json")
}

func (m *IndexMirror) snapshotPrefix() string {
	return path.Join(m.prefix, "snapshots") + "/"
}

func (m *IndexMirror) snapshotKey(at time.Time) string {
	return m.snapshotPrefix() + at.UTC().Format("20060102T150405.000000000Z") + ".json"
}

// PutIndex uploads a snapshot, replaces latest.json and then drops snapshots
// beyond the retention count. A failed prune is logged, not returned.
func (m *IndexMirror) PutIndex(ctx context.Context, data []byte) error {
	if err := m.client.PutObject(ctx, m.snapshotKey(m.now()), indexContentType, data); err != nil {
		return err
	}
	if err := m.client.PutObject(ctx, m.latestKey(), indexContentType, data); err != nil {
		return err
	}
	if pruned, err := m.PruneSnapshots(ctx); err != nil {
		log.Printf("mirror: failed to prune snapshots: %v", err)
	} else if pruned > 0 {
		log.Printf("mirror: pruned %d old snapshots", pruned)
	}
	return nil
}

// PruneSnapshots deletes all but the newest keep snapshots and returns how many
// were removed. Snapshot keys sort chronologically.
func (m *IndexMirror) PruneSnapshots(ctx context.Context) (int, error) {
	keys, err := m.client.ListKeys(ctx, m.snapshotPrefix())
	if err != nil {
		return 0, err
	}
	if len(keys) <= m.keep {
		return 0, nil
	}
	sort.Strings(keys)

	stale := keys[:len(keys)-m.keep]
	for i, key := range stale {
		if err := m.client.DeleteObject(ctx, key); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// FetchIndex returns the most recent mirrored index, or nil when none exists.
func (m *IndexMirror) FetchIndex(ctx context.Context) ([]byte, error) {
	data, err := m.client.GetObject(ctx, m.latestKey())
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	return data, err
}
