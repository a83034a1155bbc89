// SPDX-License-Identifier: MIT

package sink

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdirector/director/internal/capture"
	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/queue"
	"github.com/avdirector/director/internal/stage"
	"github.com/avdirector/director/internal/wavio"
)

type fakeDisplay struct {
	mu    sync.Mutex
	shown map[string]frame.VideoFrame
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{shown: make(map[string]frame.VideoFrame)}
}

func (d *fakeDisplay) ShowFrame(id string, v frame.VideoFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown[id] = v
}

func (d *fakeDisplay) get(id string) (frame.VideoFrame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.shown[id]
	return v, ok
}

func solidVideoFrame(w, h int, val byte) frame.VideoFrame {
	b := make([]byte, w*h*3)
	for i := range b {
		b[i] = val
	}
	return frame.VideoFrame{Width: w, Height: h, Channels: 3, Bytes: b}
}

func TestPreviewWindowShowsLatestFrame(t *testing.T) {
	in := queue.NewBounded[stage.InputBatch](4)
	out := queue.NewBounded[stage.PipelineData](0)
	display := newFakeDisplay()

	worker := PreviewWindow("cam0", [2]int{8, 8}, 5*time.Millisecond, display)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	sid := frame.SourceID{Kind: frame.KindVideo, ID: "cam0"}
	in.TryPush(stage.InputBatch{sid: stage.PipelineData{SourceID: sid, Payload: frame.NewVideoFrame(1, solidVideoFrame(4, 4, 200))}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker(ctx, in, out)
	}()
	<-ctx.Done()
	<-done

	v, ok := display.get("cam0")
	require.True(t, ok, "expected a frame to have been shown")
	assert.Equal(t, 8, v.Width)
	assert.Equal(t, 8, v.Height)
}

func TestTiledPreviewComposesGrid(t *testing.T) {
	in := queue.NewBounded[stage.InputBatch](4)
	out := queue.NewBounded[stage.PipelineData](0)
	display := newFakeDisplay()

	ids := []frame.SourceID{
		{Kind: frame.KindVideo, ID: "a"},
		{Kind: frame.KindVideo, ID: "b"},
		{Kind: frame.KindVideo, ID: "c"},
	}
	worker := TiledPreview("tile", ids, [2]int{12, 12}, 5*time.Millisecond, display)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	batch := stage.InputBatch{
		ids[0]: stage.PipelineData{SourceID: ids[0], Payload: frame.NewVideoFrame(1, solidVideoFrame(4, 4, 10))},
		ids[1]: stage.PipelineData{SourceID: ids[1], Payload: frame.NewVideoFrame(1, solidVideoFrame(4, 4, 20))},
	}
	in.TryPush(batch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker(ctx, in, out)
	}()
	<-ctx.Done()
	<-done

	v, ok := display.get("tile")
	require.True(t, ok)
	assert.Equal(t, 12, v.Width)
	assert.Equal(t, 12, v.Height)
}

func TestBlitCellClipsAtDestinationBounds(t *testing.T) {
	dst := frame.BlackVideoFrame(4, 4)
	src := solidVideoFrame(4, 4, 99)

	blitCell(dst, src, 2, 2)

	// top-left of the tile (outside the pasted cell) stays black
	assert.Equal(t, byte(0), dst.Bytes[0])
	// the visible corner of the pasted cell at (2,2) is copied
	off := (2*dst.Width + 2) * 3
	assert.Equal(t, byte(99), dst.Bytes[off])
}

func TestFramesBehindTracksWallClock(t *testing.T) {
	start := time.Now().Add(-1 * time.Second)
	behind := framesBehind(start, 10, 0)
	assert.GreaterOrEqual(t, behind, 9)

	caughtUp := framesBehind(start, 10, 100)
	assert.LessOrEqual(t, caughtUp, 0)
}

func TestAudioFileWritesFramesAndStopsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	in := queue.NewBounded[stage.InputBatch](4)
	out := queue.NewBounded[stage.PipelineData](0)

	worker := AudioFile(path, 8000, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sid := frame.SourceID{Kind: frame.KindAudio, ID: "mic0"}
	samples := make([]byte, 16)
	in.TryPush(stage.InputBatch{sid: stage.PipelineData{SourceID: sid, Payload: frame.NewAudioFrame(1, frame.AudioFrame{Samples: samples})}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker(ctx, in, out)
	}()

	time.Sleep(20 * time.Millisecond)
	in.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audio file worker did not stop after queue closed")
	}

	r, err := wavio.Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 8000, r.Format.SampleRate)
}

func TestAudioPlaybackWritesFramesAndClosesSession(t *testing.T) {
	session := &capture.AudioOutputSession{}
	in := queue.NewBounded[stage.InputBatch](4)
	out := queue.NewBounded[stage.PipelineData](0)

	worker := AudioPlayback(session, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	sid := frame.SourceID{Kind: frame.KindAudio, ID: "mic0"}
	samples := make([]byte, 16)
	in.TryPush(stage.InputBatch{sid: stage.PipelineData{SourceID: sid, Payload: frame.NewAudioFrame(1, frame.AudioFrame{Samples: samples})}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		worker(ctx, in, out)
	}()
	<-ctx.Done()
	<-done

	assert.Equal(t, 16, session.Buffered())
	assert.True(t, session.Closed())
}
