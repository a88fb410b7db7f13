package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// VideoExtensions are the container formats picked up by discovery.
var VideoExtensions = map[string]struct{}{
	".mp4":  {},
	".m4v":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
}

type discoveredFile struct {
	RelPath string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// scanMedia walks root for video files, skipping dot-directories. Unreadable
// entries are logged and skipped; an unreadable root yields an empty result.
func scanMedia(root string) []discoveredFile {
	var files []discoveredFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Printf("catalog: skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := VideoExtensions[strings.ToLower(filepath.Ext(d.Name()))]; !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Printf("catalog: skipping %s: %v", path, err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, discoveredFile{
			RelPath: filepath.ToSlash(rel),
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		log.Printf("catalog: media directory %s unreadable, treating as empty: %v", root, err)
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files
}

// DeriveID returns the stable slug for a media file. Only the base name is used so
// a file moved between directories keeps its id.
func DeriveID(relPath string) string {
	base := filepath.Base(filepath.FromSlash(relPath))
	return Slug(strings.TrimSuffix(base, filepath.Ext(base)))
}

func disambiguateID(id, relPath string) string {
	return id + "-" + shortHash(relPath)[:6]
}

// RecordFingerprint is a cheap signature of the fields that invalidate derived data.
func RecordFingerprint(v *domain.VideoRecord) string {
	return shortHash(strings.Join([]string{
		v.ID,
		v.ModTime.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(v.SizeBytes, 10),
		string(v.TranscriptStatus),
		v.TranscriptUpdatedAt.UTC().Format(time.RFC3339Nano),
	}, "|"))
}

// CatalogFingerprint changes whenever any record's fingerprint or searchable
// metadata changes.
func CatalogFingerprint(records []domain.VideoRecord) string {
	h := sha256.New()
	for i := range records {
		r := &records[i]
		_, _ = h.Write([]byte(strings.Join([]string{
			r.ID, r.Fingerprint, r.Title, r.Category, r.Topic, r.Difficulty,
			strings.Join(r.Tags, ","), strings.Join(r.VersionTags, ","),
		}, "|")))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
