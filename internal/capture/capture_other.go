// SPDX-License-Identifier: MIT

//go:build !linux

package capture

import (
	"errors"

	dframe "github.com/avdirector/director/internal/frame"
)

// errNoCaptureDriver is returned on platforms where no camera/microphone
// driver is wired. Live capture in this project targets Linux (V4L2 +
// malgo, the same stack petervdpas-goop2 gates behind its own linux build
// tag); on other platforms only InputFileVideo/InputFileAudio are usable.
var errNoCaptureDriver = errors.New("capture: live capture is only supported on linux")

func enumerateDevices() []Device { return nil }

// VideoSession stub for non-Linux builds.
type VideoSession struct{ closer }

// OpenVideo always fails on non-Linux builds.
func OpenVideo(deviceID string, width, height int) (*VideoSession, error) {
	return nil, errNoCaptureDriver
}

// Read never returns data on non-Linux builds.
func (s *VideoSession) Read() (dframe.VideoFrame, error) {
	return dframe.VideoFrame{}, errNoCaptureDriver
}

// AudioSession stub for non-Linux builds.
type AudioSession struct{ closer }

// OpenAudio always fails on non-Linux builds.
func OpenAudio(deviceID string) (*AudioSession, error) {
	return nil, errNoCaptureDriver
}

// Read never returns data on non-Linux builds.
func (s *AudioSession) Read() (dframe.AudioFrame, error) {
	return dframe.AudioFrame{}, errNoCaptureDriver
}

// AudioOutputSession stub for non-Linux builds.
type AudioOutputSession struct{ closer }

// OpenAudioOutput always fails on non-Linux builds.
func OpenAudioOutput(deviceID string, sampleRate, channels int) (*AudioOutputSession, error) {
	return nil, errNoCaptureDriver
}

// Write never succeeds on non-Linux builds.
func (s *AudioOutputSession) Write(af dframe.AudioFrame) error {
	return errNoCaptureDriver
}

// Buffered is always 0 on non-Linux builds.
func (s *AudioOutputSession) Buffered() int { return 0 }
