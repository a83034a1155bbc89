// SPDX-License-Identifier: MIT

//go:build linux

package capture

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"

	dframe "github.com/avdirector/director/internal/frame"
)

func enumerateDevices() []Device {
	raw := mediadevices.EnumerateDevices()
	out := make([]Device, 0, len(raw))
	for _, d := range raw {
		k := dframe.KindVideo
		if d.Kind == mediadevices.AudioInput {
			k = dframe.KindAudio
		}
		out = append(out, Device{ID: d.DeviceID, Label: d.Label, Kind: k})
	}
	return out
}

func videoConstrain(c *mediadevices.MediaTrackConstraints, width, height int) {
	// Exclude MJPEG the same way goop2's call package does: some cameras
	// expose a malformed MJPEG node, and raw formats avoid decode surprises.
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: width}
	c.Height = prop.IntRanged{Max: height}
}

// VideoSession is an open camera capture, yielding successive VideoFrame
// values via Read.
type VideoSession struct {
	closer
	reader mediadevices.VideoReader
}

// OpenVideo claims a camera device by ID (empty string: first available)
// and returns a session producing frames resampled to width x height by the
// driver's own negotiation (final resize to the stage's target_dims still
// happens in internal/resize, since drivers only negotiate coarse caps).
func OpenVideo(deviceID string, width, height int) (*VideoSession, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			videoConstrain(c, width, height)
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
		},
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmtDeviceErr("camera "+deviceID, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmtDeviceErr("camera "+deviceID, fmt.Errorf("no video track negotiated"))
	}
	track := tracks[0]
	videoTrack, ok := track.(*mediadevices.VideoTrack)
	if !ok {
		track.Close()
		return nil, fmtDeviceErr("camera "+deviceID, fmt.Errorf("unexpected track type"))
	}
	reader := videoTrack.NewReader(false)
	return &VideoSession{
		closer: closer{fn: func() { track.Close() }},
		reader: reader,
	}, nil
}

// Read blocks until the next frame is available.
func (s *VideoSession) Read() (dframe.VideoFrame, error) {
	img, release, err := s.reader.Read()
	if err != nil {
		return dframe.VideoFrame{}, err
	}
	defer release()
	return imageToVideoFrame(img), nil
}

// AudioSession is an open microphone capture, yielding successive
// AudioFrame values via Read.
type AudioSession struct {
	closer
	reader mediadevices.AudioReader
}

// OpenAudio claims a microphone device by ID (empty string: first
// available).
func OpenAudio(deviceID string) (*AudioSession, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
		},
	}
	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmtDeviceErr("microphone "+deviceID, err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmtDeviceErr("microphone "+deviceID, fmt.Errorf("no audio track negotiated"))
	}
	track := tracks[0]
	audioTrack, ok := track.(*mediadevices.AudioTrack)
	if !ok {
		track.Close()
		return nil, fmtDeviceErr("microphone "+deviceID, fmt.Errorf("unexpected track type"))
	}
	reader := audioTrack.NewReader(false)
	return &AudioSession{
		closer: closer{fn: func() { track.Close() }},
		reader: reader,
	}, nil
}

// Read blocks until the next audio chunk is available.
func (s *AudioSession) Read() (dframe.AudioFrame, error) {
	chunk, release, err := s.reader.Read()
	if err != nil {
		return dframe.AudioFrame{}, err
	}
	defer release()
	return waveToAudioFrame(chunk), nil
}

func waveToAudioFrame(chunk wave.Audio) dframe.AudioFrame {
	info := chunk.ChunkInfo()
	switch v := chunk.(type) {
	case *wave.Int16Interleaved:
		samples := make([]byte, len(v.Data)*2)
		for i, s := range v.Data {
			samples[i*2] = byte(s)
			samples[i*2+1] = byte(s >> 8)
		}
		return dframe.AudioFrame{SampleRate: info.SamplingRate, Format: dframe.SampleFormatI16, Channels: info.Channels, Samples: samples}
	case *wave.Float32Interleaved:
		samples := make([]byte, len(v.Data)*4)
		for i, s := range v.Data {
			bits := floatBitsLE(s)
			copy(samples[i*4:i*4+4], bits[:])
		}
		return dframe.AudioFrame{SampleRate: info.SamplingRate, Format: dframe.SampleFormatF32, Channels: info.Channels, Samples: samples}
	default:
		return dframe.AudioFrame{SampleRate: info.SamplingRate, Channels: info.Channels}
	}
}

func floatBitsLE(f float32) [4]byte {
	bits := math.Float32bits(f)
	return [4]byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
}

// AudioOutputSession is an open speaker/playback device. Write appends PCM
// samples to its ring buffer; malgo's data callback drains it on the
// device's own clock, padding with silence on underrun rather than
// blocking the caller (spec.md's OutputAudioPlayback must never block on
// a slow or disconnected output device).
type AudioOutputSession struct {
	closer
	bufMu sync.Mutex
	buf   []byte
}

// OpenAudioOutput claims a playback device by index into malgo's own
// enumeration (empty string: system default), matching the same small
// integer id convention internal/config uses for capture devices.
func OpenAudioOutput(deviceID string, sampleRate, channels int) (*AudioOutputSession, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmtDeviceErr("audio output "+deviceID, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)

	if deviceID != "" {
		if idx, convErr := strconv.Atoi(deviceID); convErr == nil {
			if devices, devErr := ctx.Devices(malgo.Playback); devErr == nil && idx >= 0 && idx < len(devices) {
				deviceConfig.Playback.DeviceID = &devices[idx].ID
			}
		}
	}

	s := &AudioOutputSession{}

	onSendFrames := func(pOutput, _ []byte, _ uint32) {
		s.bufMu.Lock()
		n := copy(pOutput, s.buf)
		s.buf = s.buf[n:]
		s.bufMu.Unlock()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmtDeviceErr("audio output "+deviceID, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmtDeviceErr("audio output "+deviceID, err)
	}

	s.closer = closer{fn: func() {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
	}}
	return s, nil
}

// Write appends one frame's PCM samples to the playback buffer. Never
// blocks and never drops (spec.md §4.5's OutputAudioPlayback contract);
// unbounded growth is the caller's problem if the device stalls entirely,
// the same tradeoff original_source/io_sources/data_output.py accepts.
func (s *AudioOutputSession) Write(af dframe.AudioFrame) error {
	s.bufMu.Lock()
	s.buf = append(s.buf, af.Samples...)
	s.bufMu.Unlock()
	return nil
}

// Buffered returns the number of PCM bytes not yet drained by the device's
// data callback.
func (s *AudioOutputSession) Buffered() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.buf)
}
