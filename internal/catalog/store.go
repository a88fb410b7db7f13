package catalog

import (
	"context"
	"log"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

const mirrorTimeout = 30 * time.Second

// Mirror receives a copy of every index snapshot the store writes.
type Mirror interface {
	PutIndex(ctx context.Context, data []byte) error
}

// Options configures a Store.
type Options struct {
	MediaDir      string
	PublicBaseURL string
	Index         *IndexFile
	Prober        Prober
	Mirror        Mirror
	Now           func() time.Time
}

// TranscriptUpdate is the result of a successful ingestion.
type TranscriptUpdate struct {
	Text     string
	Segments []domain.Segment
	Language string
}

// Store owns the in-memory catalog table. Hydration and transcript mutations are
// serialized; readers never block on the filesystem.
type Store struct {
	opts Options

	writeMu sync.Mutex

	mu           sync.RWMutex
	records      []domain.VideoRecord
	byID         map[string]int
	fingerprint  string
	loaded       bool
	unsaved      bool
	lastHydrated time.Time
}

// NewStore creates a store. Nothing is read until the first Refresh.
func NewStore(opts Options) *Store {
	if opts.Index == nil {
		opts.Index = NewIndexFile(filepath.Join(opts.MediaDir, ".clipfinder", "index.json"))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Store{opts: opts, byID: map[string]int{}}
}

// MediaDir returns the library root.
func (s *Store) MediaDir() string {
	return s.opts.MediaDir
}

// SourcePath returns the absolute path of a record's media file.
func (s *Store) SourcePath(v *domain.VideoRecord) string {
	return filepath.Join(s.opts.MediaDir, filepath.FromSlash(v.RelPath))
}

// Refresh rehydrates the catalog when forced or when the last hydration is older
// than maxStaleness, then returns the table sorted by id.
func (s *Store) Refresh(ctx context.Context, forceFull bool, maxStaleness time.Duration) ([]domain.VideoRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !forceFull && s.isFresh(maxStaleness) {
		return s.All(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := s.hydrate(ctx)
	s.install(records)
	s.persist(ctx)

	return s.All(), nil
}

func (s *Store) isFresh(maxStaleness time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded || maxStaleness <= 0 {
		return false
	}
	return s.opts.Now().Sub(s.lastHydrated) < maxStaleness
}

func (s *Store) hydrate(ctx context.Context) []domain.VideoRecord {
	persisted := s.loadPersisted()
	files := scanMedia(s.opts.MediaDir)

	byPath := make(map[string]int, len(persisted))
	byID := make(map[string]int, len(persisted))
	for i := range persisted {
		byPath[persisted[i].RelPath] = i
		byID[persisted[i].ID] = i
	}
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f.RelPath] = struct{}{}
	}

	claimed := make(map[string]struct{}, len(persisted))
	matched := make([]*domain.VideoRecord, len(files))

	// Exact path matches first so a renamed file cannot steal another row's id.
	for i, f := range files {
		if idx, ok := byPath[f.RelPath]; ok {
			row := persisted[idx].Clone()
			matched[i] = &row
			claimed[row.ID] = struct{}{}
		}
	}
	for i, f := range files {
		if matched[i] != nil {
			continue
		}
		id := DeriveID(f.RelPath)
		if idx, ok := byID[id]; ok {
			_, taken := claimed[id]
			_, stillThere := present[persisted[idx].RelPath]
			if !taken && !stillThere {
				row := persisted[idx].Clone()
				matched[i] = &row
				claimed[id] = struct{}{}
				log.Printf("catalog: %s moved to %s", row.RelPath, f.RelPath)
				continue
			}
		}
		if _, taken := claimed[id]; taken {
			id = disambiguateID(id, f.RelPath)
		} else if _, known := byID[id]; known {
			id = disambiguateID(id, f.RelPath)
		}
		matched[i] = &domain.VideoRecord{ID: id, TranscriptStatus: domain.TranscriptPending}
		claimed[id] = struct{}{}
	}

	out := make([]domain.VideoRecord, 0, len(files)+len(persisted))
	for i, f := range files {
		rec := matched[i]
		rec.RelPath = f.RelPath
		rec.FileName = filepath.Base(filepath.FromSlash(f.RelPath))
		rec.SizeBytes = f.Size
		rec.ModTime = f.ModTime
		rec.SourceAvailable = true

		applyDerived(rec)
		s.applySidecar(rec, f.AbsPath)
		s.probe(ctx, rec, f)
		out = append(out, *rec)
	}
	for i := range persisted {
		if _, ok := claimed[persisted[i].ID]; ok {
			continue
		}
		rec := persisted[i].Clone()
		rec.SourceAvailable = false
		if rec.FileName == "" {
			rec.FileName = filepath.Base(filepath.FromSlash(rec.RelPath))
		}
		applyDerived(&rec)
		out = append(out, rec)
	}

	for i := range out {
		s.finalize(&out[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// loadPersisted reads the index file. When the last snapshot failed to write, the
// in-memory rows are newer than the file and take precedence.
func (s *Store) loadPersisted() []domain.VideoRecord {
	fileRows, err := s.opts.Index.Load()
	if err != nil {
		log.Printf("catalog: ignoring unreadable index %s: %v", s.opts.Index.Path, err)
		fileRows = nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded || !s.unsaved {
		return fileRows
	}

	pos := make(map[string]int, len(fileRows))
	for i := range fileRows {
		pos[fileRows[i].ID] = i
	}
	for _, mem := range s.records {
		if idx, ok := pos[mem.ID]; ok {
			fileRows[idx] = mem.Clone()
		} else {
			fileRows = append(fileRows, mem.Clone())
		}
	}
	return fileRows
}

func applyDerived(rec *domain.VideoRecord) {
	d := Classify(rec.FileName)
	setIfEmpty := func(field string, dst *string, val string) {
		if !rec.IsExplicit(field) && strings.TrimSpace(*dst) == "" {
			*dst = val
		}
	}
	setIfEmpty(domain.FieldTitle, &rec.Title, d.Title)
	setIfEmpty(domain.FieldCategory, &rec.Category, d.Category)
	setIfEmpty(domain.FieldTopic, &rec.Topic, d.Topic)
	setIfEmpty(domain.FieldDifficulty, &rec.Difficulty, d.Difficulty)
	if !rec.IsExplicit(domain.FieldVersionTags) && len(rec.VersionTags) == 0 {
		rec.VersionTags = append([]string(nil), d.VersionTags...)
	}
	if !rec.IsExplicit(domain.FieldTags) && len(rec.Tags) == 0 {
		rec.Tags = append([]string(nil), d.Tags...)
	}
}

func (s *Store) applySidecar(rec *domain.VideoRecord, absPath string) {
	if strings.TrimSpace(rec.TranscriptText) != "" {
		return
	}
	sc, err := LoadSidecar(absPath)
	if err != nil {
		log.Printf("catalog: %v", err)
		return
	}
	if sc == nil {
		return
	}
	rec.TranscriptText = sc.Text
	rec.Segments = sc.Segments
	rec.TranscriptSource = domain.SourceSidecar
	rec.TranscriptUpdatedAt = sc.ModTime
	rec.TranscriptError = ""
	if sc.Language != "" {
		rec.TranscriptLanguage = sc.Language
	}
}

// probe refreshes the duration only when the file changed since the last probe.
// The probed stats are recorded even on failure so a broken file is not re-probed
// on every hydration.
func (s *Store) probe(ctx context.Context, rec *domain.VideoRecord, f discoveredFile) {
	if s.opts.Prober == nil {
		return
	}
	if rec.ProbedSize == f.Size && rec.ProbedModTime.Equal(f.ModTime) {
		return
	}
	d, err := s.opts.Prober.Duration(ctx, f.AbsPath)
	if err != nil {
		log.Printf("catalog: probe %s failed, keeping duration %.1fs: %v", f.RelPath, rec.DurationSeconds, err)
	} else {
		rec.DurationSeconds = d
	}
	rec.ProbedSize = f.Size
	rec.ProbedModTime = f.ModTime
}

func (s *Store) finalize(rec *domain.VideoRecord) {
	rec.Segments = SanitizeSegments(rec.Segments)
	rec.NormalizeStatus()
	if rec.TranscriptStatus == domain.TranscriptReady && rec.TranscriptSource == "" {
		rec.TranscriptSource = domain.SourcePersisted
	}
	rec.PlaybackURL = s.playbackURL(rec)
	rec.Fingerprint = RecordFingerprint(rec)
}

func (s *Store) playbackURL(rec *domain.VideoRecord) string {
	if rec.SourceURL != "" {
		return rec.SourceURL
	}
	parts := strings.Split(rec.RelPath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.opts.PublicBaseURL + "/media/" + strings.Join(parts, "/")
}

func (s *Store) install(records []domain.VideoRecord) {
	byID := make(map[string]int, len(records))
	for i := range records {
		byID[records[i].ID] = i
	}
	s.mu.Lock()
	s.records = records
	s.byID = byID
	s.fingerprint = CatalogFingerprint(records)
	s.loaded = true
	s.lastHydrated = s.opts.Now()
	s.mu.Unlock()
}

// persist rewrites the index file. Failures are logged and swallowed.
func (s *Store) persist(ctx context.Context) {
	records := s.All()
	data, err := s.opts.Index.Save(ctx, records)
	s.mu.Lock()
	s.unsaved = err != nil
	s.mu.Unlock()
	if err != nil {
		log.Printf("catalog: index write failed (continuing with in-memory catalog): %v", err)
		return
	}
	if s.opts.Mirror == nil {
		return
	}
	go func(data []byte) {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
		defer cancel()
		if err := s.opts.Mirror.PutIndex(mctx, data); err != nil {
			log.Printf("catalog: index mirror upload failed: %v", err)
		}
	}(data)
}

// All returns a copy of the table sorted by id.
func (s *Store) All() []domain.VideoRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.VideoRecord, len(s.records))
	for i := range s.records {
		out[i] = s.records[i].Clone()
	}
	return out
}

// Get returns one record by id.
func (s *Store) Get(id string) (domain.VideoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return domain.VideoRecord{}, domain.ErrVideoNotFound
	}
	return s.records[idx].Clone(), nil
}

// Stats summarises transcript coverage and source availability.
func (s *Store) Stats() domain.CatalogStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.ComputeStats(s.records)
}

// Fingerprint is the catalog-wide signature of the current table.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

// LastHydrated returns when the table was last rebuilt from disk.
func (s *Store) LastHydrated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHydrated
}

// ApplyTranscript stores a completed transcript and persists the table.
func (s *Store) ApplyTranscript(ctx context.Context, id string, update TranscriptUpdate) (domain.VideoRecord, error) {
	segments := SanitizeSegments(update.Segments)
	text := strings.TrimSpace(update.Text)
	if text == "" {
		text = JoinSegments(segments)
	}
	if text == "" {
		return s.MarkTranscriptError(ctx, id, "transcription returned no text")
	}

	return s.mutate(ctx, id, func(rec *domain.VideoRecord) {
		rec.TranscriptText = text
		rec.Segments = segments
		if update.Language != "" {
			rec.TranscriptLanguage = update.Language
		}
		rec.TranscriptSource = domain.SourceIngest
		rec.TranscriptUpdatedAt = s.opts.Now().UTC()
		rec.TranscriptError = ""
	})
}

// MarkTranscriptError records a failed ingestion attempt. Existing transcript text
// is kept, so such a record stays ready.
func (s *Store) MarkTranscriptError(ctx context.Context, id, reason string) (domain.VideoRecord, error) {
	return s.mutate(ctx, id, func(rec *domain.VideoRecord) {
		rec.TranscriptError = reason
		if strings.TrimSpace(rec.TranscriptText) == "" {
			rec.TranscriptStatus = domain.TranscriptError
		}
	})
}

func (s *Store) mutate(ctx context.Context, id string, fn func(rec *domain.VideoRecord)) (domain.VideoRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	idx, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return domain.VideoRecord{}, domain.ErrVideoNotFound
	}
	rec := s.records[idx].Clone()
	fn(&rec)
	s.finalize(&rec)
	s.records[idx] = rec
	s.fingerprint = CatalogFingerprint(s.records)
	s.mu.Unlock()

	s.persist(ctx)
	return rec.Clone(), nil
}

// Filter returns the records matching every facet, preserving order.
func Filter(records []domain.VideoRecord, facets domain.Facets) []domain.VideoRecord {
	out := make([]domain.VideoRecord, 0, len(records))
	for i := range records {
		if facets.Matches(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}
