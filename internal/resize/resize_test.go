// SPDX-License-Identifier: MIT

package resize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avdirector/director/internal/frame"
)

func solidFrame(w, h int, r, g, b byte) frame.VideoFrame {
	v := frame.VideoFrame{Width: w, Height: h, Channels: 3, Bytes: make([]byte, w*h*3)}
	for i := 0; i < len(v.Bytes); i += 3 {
		v.Bytes[i] = r
		v.Bytes[i+1] = g
		v.Bytes[i+2] = b
	}
	return v
}

func TestAreaNoOpWhenAlreadyTargetSize(t *testing.T) {
	v := solidFrame(8, 8, 10, 20, 30)
	out := Area(v, 8, 8)
	assert.Equal(t, v.Bytes, out.Bytes)
}

func TestAreaProducesRequestedDimensions(t *testing.T) {
	v := solidFrame(16, 16, 100, 100, 100)
	out := Area(v, 4, 4)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
	assert.Equal(t, 4*4*3, len(out.Bytes))
}

func TestAreaUpscaleProducesRequestedDimensions(t *testing.T) {
	v := solidFrame(2, 2, 50, 50, 50)
	out := Area(v, 8, 8)
	assert.Equal(t, 8, out.Width)
	assert.Equal(t, 8, out.Height)
}

func TestAbsDiffThresholdRatioFullChange(t *testing.T) {
	a := solidFrame(4, 4, 0, 0, 0)
	b := solidFrame(4, 4, 255, 255, 255)
	ratio := AbsDiffThresholdRatio(a, b, 4, 4)
	assert.InDelta(t, 1.0, ratio, 1e-9)
}

func TestAbsDiffThresholdRatioNoChange(t *testing.T) {
	a := solidFrame(4, 4, 10, 10, 10)
	b := solidFrame(4, 4, 10, 10, 10)
	ratio := AbsDiffThresholdRatio(a, b, 4, 4)
	assert.InDelta(t, 0.0, ratio, 1e-9)
}

func TestAbsDiffThresholdRatioBelowThreshold(t *testing.T) {
	a := solidFrame(4, 4, 10, 10, 10)
	b := solidFrame(4, 4, 20, 20, 20) // diff = 10, below the 25 threshold
	ratio := AbsDiffThresholdRatio(a, b, 4, 4)
	assert.InDelta(t, 0.0, ratio, 1e-9)
}
