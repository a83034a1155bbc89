// SPDX-License-Identifier: MIT

// Package wavio reads and writes the canonical WAV container spec.md §6
// names for audio file I/O: little-endian PCM, mono or multi-channel,
// i16 or f32 samples. No library in the retrieval pack reads or writes
// WAV (the closest candidates are codec libraries for RTSP/Opus/AAC
// streaming, not file containers), and the system the spec was distilled
// from leans on Python's own stdlib `wave` module for exactly this job —
// so this is a small, deliberately minimal RIFF/WAVE reader and writer
// rather than an adopted dependency.
package wavio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/avdirector/director/internal/frame"
)

// ErrNotWAV is returned when a file lacks the RIFF/WAVE magic.
var ErrNotWAV = errors.New("wavio: not a RIFF/WAVE file")

// Format mirrors the WAVE fmt chunk fields this package understands.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int // 16 (i16) or 32 (f32, IEEE float)
	Float         bool
}

const (
	fmtPCM   = 1
	fmtFloat = 3
)

// Reader reads successive fixed-size sample chunks from a WAV file, the
// shape InputFileAudio needs for its catch-up discipline (spec.md §4.5):
// "reads exactly that many fixed-size chunks."
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	Format Format

	dataRemaining int64 // bytes left in the data chunk
}

// Open parses the RIFF header and seeks to the start of the data chunk.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd := bufio.NewReader(f)

	var riffHeader [12]byte
	if _, err := io.ReadFull(rd, riffHeader[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("wavio: read RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		f.Close()
		return nil, ErrNotWAV
	}

	var format Format
	haveFmt := false
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(rd, chunkHeader[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("wavio: read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(rd, body); err != nil {
				f.Close()
				return nil, fmt.Errorf("wavio: read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			format.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			format.Float = audioFormat == fmtFloat
			haveFmt = true
			if chunkSize%2 == 1 {
				rd.Discard(1)
			}
		case "data":
			if !haveFmt {
				f.Close()
				return nil, fmt.Errorf("wavio: data chunk before fmt chunk")
			}
			return &Reader{f: f, r: rd, Format: format, dataRemaining: chunkSize}, nil
		default:
			if _, err := rd.Discard(int(chunkSize)); err != nil {
				f.Close()
				return nil, fmt.Errorf("wavio: skip chunk %q: %w", chunkID, err)
			}
			if chunkSize%2 == 1 {
				rd.Discard(1)
			}
		}
	}
}

// ReadChunk reads exactly nSamples interleaved samples (nSamples *
// Channels * bytesPerSample bytes), returning io.EOF once the data chunk
// is exhausted (possibly with a short final AudioFrame first).
func (r *Reader) ReadChunk(nSamples int) (frame.AudioFrame, error) {
	bytesPerSample := r.Format.BitsPerSample / 8
	want := int64(nSamples * r.Format.Channels * bytesPerSample)
	if want > r.dataRemaining {
		want = r.dataRemaining
	}
	if want <= 0 {
		return frame.AudioFrame{}, io.EOF
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(r.r, buf)
	r.dataRemaining -= int64(n)
	buf = buf[:n]
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return frame.AudioFrame{}, fmt.Errorf("wavio: read chunk: %w", err)
	}

	sampleFormat := frame.SampleFormatI16
	if r.Format.Float {
		sampleFormat = frame.SampleFormatF32
	}
	out := frame.AudioFrame{
		SampleRate: r.Format.SampleRate,
		Format:     sampleFormat,
		Channels:   r.Format.Channels,
		Samples:    buf,
	}
	if r.dataRemaining <= 0 {
		return out, io.EOF
	}
	return out, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Writer writes a WAV file incrementally, patching the RIFF/data sizes on
// Close the way OutputAudioFile needs ("writes every received audio frame
// in arrival order; never drops" — spec.md §4.5): each AudioFrame is
// appended immediately rather than buffered in memory.
type Writer struct {
	f             *os.File
	format        Format
	dataBytes     int64
	headerWritten bool
}

// Create opens path for writing and reserves space for the header, which
// is finalized on Close once the total sample count is known.
func Create(path string, format Format) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, format: format}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		return nil, err
	}
	w.headerWritten = true
	return w, nil
}

func (w *Writer) writeHeader(dataBytes int64) error {
	bitsPerSample := w.format.BitsPerSample
	if bitsPerSample == 0 {
		bitsPerSample = 16
	}
	audioFormat := uint16(fmtPCM)
	if w.format.Float {
		audioFormat = fmtFloat
	}
	byteRate := w.format.SampleRate * w.format.Channels * bitsPerSample / 8
	blockAlign := w.format.Channels * bitsPerSample / 8

	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataBytes))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], audioFormat)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(w.format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(w.format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataBytes))

	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("wavio: write header: %w", err)
	}
	if _, err := w.f.Seek(44+dataBytes, io.SeekStart); err != nil {
		return fmt.Errorf("wavio: seek past header: %w", err)
	}
	return nil
}

// WriteFrame appends a's samples to the file.
func (w *Writer) WriteFrame(a frame.AudioFrame) error {
	n, err := w.f.Write(a.Samples)
	if err != nil {
		return fmt.Errorf("wavio: write frame: %w", err)
	}
	w.dataBytes += int64(n)
	return nil
}

// Close patches the RIFF and data chunk sizes now that the total byte
// count is known, then closes the file.
func (w *Writer) Close() error {
	if err := w.writeHeader(w.dataBytes); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
