// SPDX-License-Identifier: MIT

// Package mux is the post-shutdown collaborator of spec.md §4.5/§6: once
// the selector and all stages have stopped, it joins the written video
// and audio files into a single container via ffmpeg, mirroring
// original_source/io_sources/output.py's join_audio_and_video.
package mux

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/avdirector/director/internal/ffmpegio"
)

// Config carries the paths the join needs.
type Config struct {
	FFmpegPath string
	VideoFile  string
	AudioFile  string
	OutputFile string // defaults to "output.avi" alongside VideoFile, if empty
}

// Join invokes the ffmpeg mux collaborator. It is a no-op returning nil
// when either input file path is empty — an OutputVideoFile/OutputAudioFile
// sink may be disabled by configuration (spec.md §6 OUTPUT_VIDEO.video_file
// / OUTPUT_AUDIO.audio_file), in which case there is nothing to join.
func Join(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.VideoFile == "" || cfg.AudioFile == "" {
		if logger != nil {
			logger.Info("skipping mux: video or audio output file not configured")
		}
		return nil
	}

	out := cfg.OutputFile
	if out == "" {
		out = filepath.Join(filepath.Dir(cfg.VideoFile), "output.avi")
	}

	if err := ffmpegio.Mux(ctx, cfg.FFmpegPath, cfg.VideoFile, cfg.AudioFile, out, logger); err != nil {
		return fmt.Errorf("mux: %w", err)
	}
	return nil
}
