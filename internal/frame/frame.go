// SPDX-License-Identifier: MIT

// Package frame defines the media data types that move through the
// pipeline fabric: video bitmaps, audio buffers, and the source identity
// they are tagged with.
package frame

import "fmt"

// Kind discriminates the two media types a Frame can carry, and the two
// kinds of SourceID.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SourceID is a stable identifier for an input stage: a device index or a
// file path, tagged with its media kind so that audio and video identities
// never collide when used as Distribution keys.
type SourceID struct {
	Kind Kind
	ID   string
}

func (s SourceID) String() string {
	return s.Kind.String() + ":" + s.ID
}

// SampleFormat is the audio sample encoding.
type SampleFormat int

const (
	SampleFormatI16 SampleFormat = iota
	SampleFormatF32
)

// VideoFrame is one decoded video bitmap. Channels is always 3 (RGB24) in
// this design; canonical dimensions are 640x480 unless a stage is
// configured otherwise.
type VideoFrame struct {
	Width    int
	Height   int
	Channels int
	Bytes    []byte
}

// AudioFrame is one buffer of interleaved, single-channel audio samples.
type AudioFrame struct {
	SampleRate int
	Format     SampleFormat
	Channels   int
	Samples    []byte
}

// Frame is a tagged union of VideoFrame and AudioFrame, carrying the
// monotonic sequence number assigned by the producing source.
type Frame struct {
	Kind  Kind
	Seq   uint64
	Video VideoFrame
	Audio AudioFrame
}

// NewVideoFrame builds a Frame wrapping a VideoFrame.
func NewVideoFrame(seq uint64, v VideoFrame) Frame {
	return Frame{Kind: KindVideo, Seq: seq, Video: v}
}

// NewAudioFrame builds a Frame wrapping an AudioFrame.
func NewAudioFrame(seq uint64, a AudioFrame) Frame {
	return Frame{Kind: KindAudio, Seq: seq, Audio: a}
}

// BlackVideoFrame returns a zeroed RGB24 bitmap of the given dimensions,
// used as the "last_frame" seed for OutputVideoFile per spec.md §4.5.
func BlackVideoFrame(width, height int) VideoFrame {
	return VideoFrame{
		Width:    width,
		Height:   height,
		Channels: 3,
		Bytes:    make([]byte, width*height*3),
	}
}
