package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober reads the duration of a media container.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FFprobe shells out to the ffprobe binary.
type FFprobe struct {
	Path string
}

// NewFFprobe returns a prober for the given binary, defaulting to "ffprobe" on PATH.
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{Path: path}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration in seconds.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseFFprobeDuration(out)
}

func parseFFprobeDuration(out []byte) (float64, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}
	if parsed.Format.Duration == "" || parsed.Format.Duration == "N/A" {
		return 0, fmt.Errorf("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ffprobe duration %q: %w", parsed.Format.Duration, err)
	}
	return d, nil
}
