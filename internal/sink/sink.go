// SPDX-License-Identifier: MIT

// Package sink builds the stage.Worker functions for spec.md §4.5's five
// output kinds: OutputPreviewWindow, OutputTiledPreview,
// OutputAudioPlayback, OutputVideoFile, and OutputAudioFile. Each worker
// drains its stage's input queue on its own schedule and never produces
// output of its own (sinks are pipeline leaves).
//
// Grounded on original_source/io_sources/data_output.py's
// OutputVideoStream/OutputAudioStream/OutputVideoFile/OutputAudioFile.
package sink

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/avdirector/director/internal/capture"
	"github.com/avdirector/director/internal/ffmpegio"
	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/queue"
	"github.com/avdirector/director/internal/resize"
	"github.com/avdirector/director/internal/stage"
	"github.com/avdirector/director/internal/ticker"
	"github.com/avdirector/director/internal/wavio"
)

// PreviewDisplay is the minimal surface a preview window needs; cmd/director
// supplies an implementation backed by whatever windowing toolkit is
// actually linked in. Kept as an interface so sink has no direct UI
// dependency.
type PreviewDisplay interface {
	ShowFrame(id string, v frame.VideoFrame)
}

// PreviewWindow builds the OutputPreviewWindow worker: each tick, shows
// the latest frame from its single bound input, area-resampled to dims.
func PreviewWindow(id string, dims [2]int, interval time.Duration, display PreviewDisplay) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		ticker.Schedule(ctx, interval, func() {
			batch, ok := in.TryPop()
			if !ok {
				return
			}
			for _, data := range batch {
				f, ok := data.Payload.(frame.Frame)
				if !ok || f.Kind != frame.KindVideo {
					continue
				}
				v := resize.Area(f.Video, dims[0], dims[1])
				display.ShowFrame(id, v)
			}
		}, nil)
	}
}

// TiledPreview builds the OutputTiledPreview worker: composes the
// last-seen frame per input id into a ceil(sqrt(N)) x ceil(sqrt(N)) grid.
func TiledPreview(id string, inputIDs []frame.SourceID, dims [2]int, interval time.Duration, display PreviewDisplay) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		last := make(map[frame.SourceID]frame.VideoFrame, len(inputIDs))

		cols := int(math.Ceil(math.Sqrt(float64(len(inputIDs)))))
		if cols < 1 {
			cols = 1
		}
		rows := cols
		cellW := dims[0] / cols
		cellH := dims[1] / rows

		ticker.Schedule(ctx, interval, func() {
			for {
				batch, ok := in.TryPop()
				if !ok {
					break
				}
				for sid, data := range batch {
					f, ok := data.Payload.(frame.Frame)
					if !ok || f.Kind != frame.KindVideo {
						continue
					}
					last[sid] = f.Video
				}
			}

			tile := frame.BlackVideoFrame(dims[0], dims[1])
			for i, sid := range inputIDs {
				r, c := i/cols, i%cols
				cell, ok := last[sid]
				if !ok {
					continue
				}
				cell = resize.Area(cell, cellW, cellH)
				blitCell(tile, cell, c*cellW, r*cellH)
			}
			display.ShowFrame(id, tile)
		}, nil)
	}
}

// blitCell copies src into dst at (x0, y0), clipping at dst's bounds.
func blitCell(dst, src frame.VideoFrame, x0, y0 int) {
	for y := 0; y < src.Height; y++ {
		dy := y0 + y
		if dy >= dst.Height {
			break
		}
		for x := 0; x < src.Width; x++ {
			dx := x0 + x
			if dx >= dst.Width {
				break
			}
			srcOff := (y*src.Width + x) * 3
			dstOff := (dy*dst.Width + dx) * 3
			copy(dst.Bytes[dstOff:dstOff+3], src.Bytes[srcOff:srcOff+3])
		}
	}
}

// AudioPlayback builds the OutputAudioPlayback worker: sequentially
// writes every buffered audio frame to the device each tick. Never drops
// ("backpressure is preferred over silence gaps" — spec.md §4.5).
func AudioPlayback(session *capture.AudioOutputSession, interval time.Duration, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		defer session.Close()
		ticker.Schedule(ctx, interval, func() {
			for {
				batch, ok := in.TryPop()
				if !ok {
					return
				}
				for _, data := range batch {
					f, ok := data.Payload.(frame.Frame)
					if !ok || f.Kind != frame.KindAudio {
						continue
					}
					if err := session.Write(f.Audio); err != nil && logger != nil {
						logger.Error("audio playback write failed", "err", err)
					}
				}
			}
		}, nil)
	}
}

// VideoFile builds the OutputVideoFile worker: must emit exactly fps
// frames per wall-clock second regardless of input availability, backfilling
// with the last frame seen when input falls behind (spec.md §4.5's key
// failure-masking mechanism).
func VideoFile(path, ffmpegPath string, fps int, dims [2]int, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		enc, err := ffmpegio.OpenVideoEncoder(ctx, ffmpegio.VideoEncoderConfig{
			FFmpegPath: ffmpegPath, Path: path, Width: dims[0], Height: dims[1], FPS: fps, Logger: logger,
		})
		if err != nil {
			if logger != nil {
				logger.Error("video file sink failed to open", "path", path, "err", err)
			}
			return
		}
		defer enc.Close()

		lastFrame := frame.BlackVideoFrame(dims[0], dims[1])
		start := time.Now()
		framesWritten := 0
		failed := false

		tick := func() {
			for framesBehind(start, fps, framesWritten) > 0 {
				batch, ok := in.TryPop()
				if !ok {
					break
				}
				for _, data := range batch {
					f, isFrame := data.Payload.(frame.Frame)
					if !isFrame || f.Kind != frame.KindVideo {
						continue
					}
					lastFrame = resize.Area(f.Video, dims[0], dims[1])
					if err := enc.WriteFrame(lastFrame); err != nil {
						failed = true
						return
					}
					framesWritten++
				}
			}

			for framesBehind(start, fps, framesWritten) > 0 {
				if err := enc.WriteFrame(lastFrame); err != nil {
					failed = true
					return
				}
				framesWritten++
			}
		}

		interval := time.Second / time.Duration(fps)
		ticker.Schedule(ctx, interval, tick, func() bool { return failed })
	}
}

func framesBehind(start time.Time, fps, framesWritten int) int {
	elapsed := time.Since(start)
	due := int(math.Floor(float64(fps) * elapsed.Seconds()))
	return due - framesWritten
}

// AudioFile builds the OutputAudioFile worker: writes every received
// audio frame in arrival order; never drops.
func AudioFile(path string, sampleRate, channels int, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		w, err := wavio.Create(path, wavio.Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: 16})
		if err != nil {
			if logger != nil {
				logger.Error("audio file sink failed to open", "path", path, "err", err)
			}
			return
		}
		defer w.Close()

		for {
			batch, ok := in.TryPop()
			if !ok {
				if in.Closed() {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
				continue
			}
			for _, data := range batch {
				f, isFrame := data.Payload.(frame.Frame)
				if !isFrame || f.Kind != frame.KindAudio {
					continue
				}
				if err := w.WriteFrame(f.Audio); err != nil {
					if logger != nil {
						logger.Error("audio file write failed", "err", err)
					}
					return
				}
			}
		}
	}
}
