package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// AudioExtractor renders a time range of a media file as mono mp3.
// A duration of zero means "to the end of the file".
type AudioExtractor interface {
	Extract(ctx context.Context, path string, start, duration float64, bitrateKbps int) ([]byte, error)
}

// FFmpeg extracts audio with the ffmpeg binary.
type FFmpeg struct {
	Path string
}

func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path}
}

func (f *FFmpeg) Extract(ctx context.Context, path string, start, duration float64, bitrateKbps int) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.Path, ffmpegArgs(path, start, duration, bitrateKbps)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio for %s at %ss", path, formatSeconds(start))
	}
	return stdout.Bytes(), nil
}

func ffmpegArgs(path string, start, duration float64, bitrateKbps int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-ss", formatSeconds(start)}
	if duration > 0 {
		args = append(args, "-t", formatSeconds(duration))
	}
	return append(args,
		"-i", path,
		"-vn",
		"-ac", "1",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-f", "mp3",
		"pipe:1",
	)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
