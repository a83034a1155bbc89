// SPDX-License-Identifier: MIT

// Package capture drives live camera and microphone input for InputLiveVideo
// and InputLiveAudio (spec.md §4.5) via pion/mediadevices, the same capture
// library petervdpas-goop2 uses for its browser self-view path. Unlike
// goop2, capture never builds a WebRTC PeerConnection: it reads raw frames
// straight off the device driver and converts them into frame.Frame.
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/avdirector/director/internal/frame"
)

// ErrDeviceBusy is returned when a device is already claimed by this
// process or cannot be opened by the driver (most commonly: another
// process holds it, or it was unplugged).
var ErrDeviceBusy = errors.New("capture: device busy or unavailable")

// Device describes one enumerated capture device, mirroring
// mediadevices.EnumerateDevices() so callers (cmd/director-setup) can
// present a picker without importing mediadevices directly.
type Device struct {
	ID    string
	Label string
	Kind  frame.Kind
}

// EnumerateDevices lists the cameras and microphones pion/mediadevices can
// see on this platform. On non-Linux builds it always returns an empty
// list — see capture_other.go.
func EnumerateDevices() []Device {
	return enumerateDevices()
}

// imageToVideoFrame converts whatever concrete image.Image the driver
// handed back (YCbCr, NRGBA, etc, depending on negotiated frame format)
// into the pipeline's RGB24 VideoFrame.
func imageToVideoFrame(img image.Image) frame.VideoFrame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := frame.VideoFrame{Width: w, Height: h, Channels: 3, Bytes: make([]byte, w*h*3)}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out.Bytes[i+0] = byte(r >> 8)
			out.Bytes[i+1] = byte(g >> 8)
			out.Bytes[i+2] = byte(b >> 8)
			i += 3
		}
	}
	return out
}

// closer is the common shutdown surface for both live audio and live video
// capture sessions: releases the underlying driver track(s).
type closer struct {
	mu     sync.Mutex
	closed bool
	fn     func()
}

func (c *closer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.fn != nil {
		c.fn()
	}
	return nil
}

// Closed reports whether Close has already run.
func (c *closer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func fmtDeviceErr(label string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDeviceBusy, label, err)
}
