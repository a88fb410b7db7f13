package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// SidecarExtensions are probed in order next to each video file.
var SidecarExtensions = []string{".json", ".vtt", ".srt", ".txt"}

// Sidecar is a transcript read from a file stored beside a video.
type Sidecar struct {
	Path     string
	Text     string
	Segments []domain.Segment
	Language string
	ModTime  time.Time
}

var cueTagRe = regexp.MustCompile(`<[^>]*>`)

// LoadSidecar looks for a transcript next to videoPath. It returns nil when none
// exists or none contains usable text. A sidecar that cannot be read or parsed is
// skipped in favour of the next extension; its error is returned only when no
// other sidecar yields text.
func LoadSidecar(videoPath string) (*Sidecar, error) {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	var firstErr error
	for _, ext := range SidecarExtensions {
		path := base + ext
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to read sidecar %s: %w", path, err)
			}
			continue
		}

		sc, err := ParseSidecar(ext, data)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to parse sidecar %s: %w", path, err)
			}
			continue
		}
		if strings.TrimSpace(sc.Text) == "" {
			continue
		}
		sc.Path = path
		sc.ModTime = info.ModTime().UTC()
		return sc, nil
	}
	return nil, firstErr
}

// ParseSidecar decodes transcript content by file extension.
func ParseSidecar(ext string, data []byte) (*Sidecar, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return parseJSONSidecar(data)
	case ".vtt", ".srt":
		segments := ParseCues(string(data))
		return &Sidecar{Text: JoinSegments(segments), Segments: segments}, nil
	case ".txt":
		return &Sidecar{Text: strings.Join(strings.Fields(string(data)), " ")}, nil
	default:
		return nil, fmt.Errorf("unsupported sidecar extension %q", ext)
	}
}

type jsonSidecar struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []domain.Segment `json:"segments"`
}

func parseJSONSidecar(data []byte) (*Sidecar, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var segments []domain.Segment
		if err := json.Unmarshal(data, &segments); err != nil {
			return nil, err
		}
		segments = SanitizeSegments(segments)
		return &Sidecar{Text: JoinSegments(segments), Segments: segments}, nil
	}

	var doc jsonSidecar
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	segments := SanitizeSegments(doc.Segments)
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		text = JoinSegments(segments)
	}
	return &Sidecar{Text: text, Segments: segments, Language: doc.Language}, nil
}

// ParseCues reads SRT or WebVTT cue blocks. Sequence numbers, headers, NOTE blocks
// and inline markup are dropped.
func ParseCues(content string) []domain.Segment {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var segments []domain.Segment
	var current *domain.Segment
	var lines []string

	flush := func() {
		if current != nil {
			current.Text = strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
			if current.Text != "" {
				segments = append(segments, *current)
			}
		}
		current = nil
		lines = nil
	}

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		if strings.Contains(line, "-->") {
			flush()
			parts := strings.SplitN(line, "-->", 2)
			start, errStart := parseCueTimestamp(parts[0])
			endField := strings.Fields(parts[1])
			if errStart != nil || len(endField) == 0 {
				continue
			}
			end, errEnd := parseCueTimestamp(endField[0])
			if errEnd != nil {
				continue
			}
			current = &domain.Segment{Start: start, End: end}
			continue
		}
		if current == nil {
			// WEBVTT header, cue identifiers, NOTE and STYLE blocks
			continue
		}
		lines = append(lines, cueTagRe.ReplaceAllString(line, ""))
	}
	flush()

	return SanitizeSegments(segments)
}

// parseCueTimestamp accepts "HH:MM:SS,mmm", "HH:MM:SS.mmm" and "MM:SS.mmm".
func parseCueTimestamp(ts string) (float64, error) {
	ts = strings.ReplaceAll(strings.TrimSpace(ts), ",", ".")
	parts := strings.Split(ts, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		if i < len(parts)-1 {
			total = (total + v) * 60
		} else {
			total += v
		}
	}
	return total, nil
}

// SanitizeSegments drops empty segments, repairs inverted bounds and orders by start.
func SanitizeSegments(in []domain.Segment) []domain.Segment {
	var out []domain.Segment
	for _, s := range in {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" || s.Start < 0 {
			continue
		}
		if s.End < s.Start {
			s.End = s.Start
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// JoinSegments concatenates segment text with single spaces.
func JoinSegments(segments []domain.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}
