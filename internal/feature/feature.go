// SPDX-License-Identifier: MIT

// Package feature builds the stage.Worker functions for spec.md §4.5's two
// feature variants, AudioFeature and VideoMotionFeature. Both share a
// common shape: drain the stage's input queue, reduce each source's
// drained frames to a single activity scalar, identify the argmax source,
// append its video id to a bounded sliding window, and push a normalized
// Distribution<SourceID> vote built from the window's tallies.
//
// Grounded on original_source/features/audio_feature.py and
// video_movement_feature.py, reworked from the window's thrash-limited
// "last_selected" choice to a pure normalized-Counter vote per the
// supplied spec (the thrash/hysteresis logic moves to the selector).
package feature

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/avdirector/director/internal/distribution"
	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/queue"
	"github.com/avdirector/director/internal/resize"
	"github.com/avdirector/director/internal/stage"
	"github.com/avdirector/director/internal/ticker"
)

// window is the bounded deque of video ids used by both feature variants
// to build their vote distribution (spec.md §4.5 step 3).
type window struct {
	cap   int
	items []frame.SourceID
}

func newWindow(capacity int) *window {
	if capacity < 1 {
		capacity = 1
	}
	return &window{cap: capacity}
}

func (w *window) push(id frame.SourceID) {
	w.items = append(w.items, id)
	if len(w.items) > w.cap {
		w.items = w.items[len(w.items)-w.cap:]
	}
}

// vote builds Distribution(Counter(window)) over allIDs, adding a 0.0 entry
// for every id not present in the window, and normalizes so sum = 1
// (spec.md §4.5 step 4). allIDs establishes the stable tie-break order.
func (w *window) vote(allIDs []frame.SourceID) *distribution.Distribution[frame.SourceID] {
	d := distribution.NewFromKeys(allIDs, 0)
	for _, id := range w.items {
		d.Set(id, d.Get(id)+1)
	}
	if d.Total() > 0 {
		_ = d.Normalize()
	}
	return d
}

// maxAbsSample decodes samples per format (little-endian, matching
// internal/wavio's wire encoding) and returns the largest-magnitude sample
// value (spec.md §4.5 step 2: "max(|sample|) over all drained samples").
// A trailing partial sample (fewer bytes than the format's width) is
// ignored rather than decoded out of bounds.
func maxAbsSample(samples []byte, format frame.SampleFormat) float64 {
	max := 0.0
	switch format {
	case frame.SampleFormatF32:
		for i := 0; i+4 <= len(samples); i += 4 {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(samples[i : i+4])))
			if v < 0 {
				v = -v
			}
			if v > max {
				max = v
			}
		}
	default: // SampleFormatI16
		for i := 0; i+2 <= len(samples); i += 2 {
			v := float64(int16(binary.LittleEndian.Uint16(samples[i : i+2])))
			if v < 0 {
				v = -v
			}
			if v > max {
				max = v
			}
		}
	}
	return max
}

// AudioFeature builds the AudioFeature worker. audioToVideo maps each
// audio input's SourceID to the video SourceID it should cast a vote for
// (spec.md §4.5: "audio feature uses the audio→video map").
func AudioFeature(id frame.SourceID, audioInputs []frame.SourceID, audioToVideo map[frame.SourceID]frame.SourceID, windowLength int, interval time.Duration) stage.Worker {
	videoIDs := make([]frame.SourceID, 0, len(audioInputs))
	seen := make(map[frame.SourceID]bool, len(audioInputs))
	for _, aid := range audioInputs {
		vid := audioToVideo[aid]
		if !seen[vid] {
			seen[vid] = true
			videoIDs = append(videoIDs, vid)
		}
	}

	w := newWindow(windowLength)

	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		ticker.Schedule(ctx, interval, func() {
			batches := in.PopAll()
			if len(batches) == 0 {
				return
			}

			concatenated := make(map[frame.SourceID][]byte, len(audioInputs))
			formats := make(map[frame.SourceID]frame.SampleFormat, len(audioInputs))
			for _, batch := range batches {
				for sid, data := range batch {
					f, ok := data.Payload.(frame.Frame)
					if !ok || f.Kind != frame.KindAudio {
						continue
					}
					concatenated[sid] = append(concatenated[sid], f.Audio.Samples...)
					formats[sid] = f.Audio.Format
				}
			}

			var argmaxSource frame.SourceID
			haveArgmax := false
			bestActivity := 0.0
			for _, aid := range audioInputs {
				activity := maxAbsSample(concatenated[aid], formats[aid])
				if !haveArgmax || activity > bestActivity {
					argmaxSource = aid
					bestActivity = activity
					haveArgmax = true
				}
			}
			if !haveArgmax {
				return
			}

			w.push(audioToVideo[argmaxSource])
			vote := w.vote(videoIDs)
			out.TryPush(stage.PipelineData{SourceID: id, Payload: vote})
		}, nil)
	}
}

// VideoMotionFeature builds the VideoMotionFeature worker. videoInputs
// establishes the stable tie-break and vote key order.
func VideoMotionFeature(id frame.SourceID, videoInputs []frame.SourceID, windowLength int, diffWidth, diffHeight int, interval time.Duration) stage.Worker {
	w := newWindow(windowLength)

	return func(ctx context.Context, in *queue.Bounded[stage.InputBatch], out *queue.Bounded[stage.PipelineData]) {
		lastFrame := make(map[frame.SourceID]frame.VideoFrame, len(videoInputs))

		ticker.Schedule(ctx, interval, func() {
			batches := in.PopAll()
			if len(batches) == 0 {
				return
			}

			// Concatenate: keep only the most recent frame seen per source
			// this tick, since activity is computed frame-to-frame, not
			// sample-accumulated like audio.
			current := make(map[frame.SourceID]frame.VideoFrame, len(videoInputs))
			for _, batch := range batches {
				for sid, data := range batch {
					f, ok := data.Payload.(frame.Frame)
					if !ok || f.Kind != frame.KindVideo {
						continue
					}
					current[sid] = f.Video
				}
			}

			var argmaxSource frame.SourceID
			haveArgmax := false
			bestActivity := 0.0
			for _, vid := range videoInputs {
				cur, haveCur := current[vid]
				prev, havePrev := lastFrame[vid]
				if !haveCur {
					continue
				}
				if havePrev {
					activity := resize.AbsDiffThresholdRatio(cur, prev, diffWidth, diffHeight)
					if !haveArgmax || activity > bestActivity {
						argmaxSource = vid
						bestActivity = activity
						haveArgmax = true
					}
				}
				lastFrame[vid] = cur
			}

			if !haveArgmax {
				// No source had both a current and a prior frame this tick
				// (e.g. the very first tick): nothing to vote on yet.
				return
			}

			w.push(argmaxSource)
			vote := w.vote(videoInputs)
			out.TryPush(stage.PipelineData{SourceID: id, Payload: vote})
		}, nil)
	}
}
