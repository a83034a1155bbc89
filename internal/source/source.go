// SPDX-License-Identifier: MIT

// Package source builds the stage.Worker functions for spec.md §4.5's four
// input kinds: InputLiveAudio, InputLiveVideo, InputFileAudio, and
// InputFileVideo. Each worker schedules its own production rate via
// internal/ticker and pushes frame.Frame values wrapped in
// stage.PipelineData to its stage's output queue; none of them read from
// the input queue a source stage is given (sources have no upstream).
//
// Grounded on original_source/io_sources/data_sources.py's
// InputAudioStream/InputVideoStream/InputAudioFile/InputVideoFile, reworked
// from one-process-per-source (multiprocessing.Process) to
// one-goroutine-per-source.
package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/avdirector/director/internal/capture"
	"github.com/avdirector/director/internal/ffmpegio"
	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/lock"
	"github.com/avdirector/director/internal/queue"
	"github.com/avdirector/director/internal/resize"
	"github.com/avdirector/director/internal/stage"
	"github.com/avdirector/director/internal/ticker"
	"github.com/avdirector/director/internal/wavio"
)

// lockDirName is the directory (relative to os.TempDir()) holding the
// exclusive per-source lock files that keep two director processes from
// opening the same device or file concurrently (spec.md §5: each input is
// "owned by exactly one stage").
const lockDirName = "director-locks"

// acquireSourceLock takes an exclusive lock keyed off a source's device ID
// or file path, sanitized into a lock filename. The returned release func
// is always safe to call, even if acquisition failed (it is then a no-op).
func acquireSourceLock(logger *slog.Logger, key string) (release func(), ok bool) {
	lockPath := filepath.Join(lockFileDir(), sanitizeLockKey(key)+".lock")

	fl, err := lock.NewFileLock(lockPath)
	if err != nil {
		if logger != nil {
			logger.Error("source lock setup failed", "key", key, "err", err)
		}
		return func() {}, false
	}

	if err := fl.Acquire(lock.DefaultAcquireTimeout); err != nil {
		if logger != nil {
			logger.Error("source already in use by another process", "key", key, "err", err)
		}
		return func() {}, false
	}

	return func() { _ = fl.Close() }, true
}

func sanitizeLockKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "source"
	}
	return string(out)
}

func lockFileDir() string {
	return filepath.Join(os.TempDir(), lockDirName)
}

// LiveAudio builds the InputLiveAudio worker (spec.md §4.5): every
// interval, drains the audio accumulated since the previous tick and
// pushes it as one AudioFrame. A background goroutine keeps draining the
// device so a slow tick doesn't block capture.
func LiveAudio(id frame.SourceID, session *capture.AudioSession, interval time.Duration, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		defer session.Close()

		release, ok := acquireSourceLock(logger, id.String())
		defer release()
		if !ok {
			return
		}

		buf := queue.NewBounded[frame.AudioFrame](0)
		readErr := make(chan struct{})

		go func() {
			defer close(readErr)
			for {
				af, err := session.Read()
				if err != nil {
					if logger != nil {
						logger.Warn("live audio capture ended", "source", id.String(), "err", err)
					}
					return
				}
				buf.TryPush(af)
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()

		var seq uint64
		ticker.Schedule(ctx, interval, func() {
			drained := buf.PopAll()
			if len(drained) == 0 {
				return
			}
			merged := mergeAudio(drained)
			seq++
			out.TryPush(stage.PipelineData{SourceID: id, Payload: frame.NewAudioFrame(seq, merged)})
		}, func() bool {
			select {
			case <-readErr:
				return true
			default:
				return false
			}
		})
	}
}

func mergeAudio(frames []frame.AudioFrame) frame.AudioFrame {
	first := frames[0]
	total := 0
	for _, f := range frames {
		total += len(f.Samples)
	}
	samples := make([]byte, 0, total)
	for _, f := range frames {
		samples = append(samples, f.Samples...)
	}
	return frame.AudioFrame{SampleRate: first.SampleRate, Format: first.Format, Channels: first.Channels, Samples: samples}
}

// LiveVideo builds the InputLiveVideo worker: every interval, reads one
// frame from the camera and area-resamples it to target dimensions if
// needed.
func LiveVideo(id frame.SourceID, session *capture.VideoSession, targetWidth, targetHeight int, interval time.Duration, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		defer session.Close()

		release, ok := acquireSourceLock(logger, id.String())
		defer release()
		if !ok {
			return
		}

		var seq uint64
		ended := false
		ticker.Schedule(ctx, interval, func() {
			v, err := session.Read()
			if err != nil {
				if logger != nil {
					logger.Warn("live video capture ended", "source", id.String(), "err", err)
				}
				ended = true
				return
			}
			v = resize.Area(v, targetWidth, targetHeight)
			seq++
			out.TryPush(stage.PipelineData{SourceID: id, Payload: frame.NewVideoFrame(seq, v)})
		}, func() bool { return ended })
	}
}

// FileAudio builds the InputFileAudio worker (spec.md §4.5): reads a WAV
// file on a catch-up schedule driven by wall-clock elapsed time, emitting
// one fixed-size AudioFrame per underlying chunk. EOF is terminal.
func FileAudio(id frame.SourceID, path string, interval time.Duration, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		release, ok := acquireSourceLock(logger, path)
		defer release()
		if !ok {
			return
		}

		r, err := wavio.Open(path)
		if err != nil {
			if logger != nil {
				logger.Error("file audio source failed to open", "source", id.String(), "path", path, "err", err)
			}
			return
		}
		defer r.Close()

		chunkSize := int(math.Floor(interval.Seconds() * float64(r.Format.SampleRate)))
		if chunkSize <= 0 {
			chunkSize = 1
		}

		start := time.Now()
		chunksProcessed := 0
		var seq uint64
		eof := false

		ticker.Schedule(ctx, interval, func() {
			elapsed := time.Since(start)
			chunksToGo := int(math.Floor(elapsed.Seconds()/interval.Seconds())) - chunksProcessed
			for i := 0; i < chunksToGo; i++ {
				af, readErr := r.ReadChunk(chunkSize)
				if len(af.Samples) > 0 {
					seq++
					out.TryPush(stage.PipelineData{SourceID: id, Payload: frame.NewAudioFrame(seq, af)})
				}
				chunksProcessed++
				if readErr != nil {
					if !errors.Is(readErr, io.EOF) && logger != nil {
						logger.Error("file audio read error", "source", id.String(), "err", readErr)
					}
					eof = true
					return
				}
			}
		}, func() bool { return eof })
	}
}

// FileVideo builds the InputFileVideo worker: decodes the container via
// ffmpegio and paces emission using the file's own declared frame rate
// (probed once at open) as the authoritative clock, catching up the same
// way FileAudio does but never emitting more than the single most recent
// decoded frame per tick.
func FileVideo(id frame.SourceID, path string, ffmpegPath string, width, height int, tickInterval time.Duration, logger *slog.Logger) stage.Worker {
	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		release, ok := acquireSourceLock(logger, path)
		defer release()
		if !ok {
			return
		}

		fps, err := ffmpegio.Probe(ffmpegPath, path)
		if err != nil || fps <= 0 {
			fps = 30
		}

		dec, err := ffmpegio.OpenVideoDecoder(ctx, ffmpegio.VideoDecoderConfig{
			FFmpegPath: ffmpegPath, Path: path, Width: width, Height: height, Logger: logger,
		})
		if err != nil {
			if logger != nil {
				logger.Error("file video source failed to open", "source", id.String(), "path", path, "err", err)
			}
			return
		}
		defer dec.Close()

		start := time.Now()
		framesDecoded := 0
		var seq uint64
		eof := false

		ticker.Schedule(ctx, tickInterval, func() {
			elapsed := time.Since(start)
			framesToGo := int(math.Floor(elapsed.Seconds()*fps)) - framesDecoded
			if framesToGo <= 0 {
				return
			}
			var latest frame.VideoFrame
			have := false
			for i := 0; i < framesToGo; i++ {
				v, readErr := dec.ReadFrame()
				framesDecoded++
				if readErr != nil {
					eof = true
					break
				}
				latest = v
				have = true
			}
			if have {
				seq++
				out.TryPush(stage.PipelineData{SourceID: id, Payload: frame.NewVideoFrame(seq, latest)})
			}
		}, func() bool { return eof })
	}
}
