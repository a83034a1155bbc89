// SPDX-License-Identifier: MIT

// Package ffmpegio wraps `ffmpeg`/`ffprobe` child processes for the three
// places spec.md §6 needs a raw-bitmap/container boundary that no pack
// library covers: decoding a file-source video's frames for
// InputFileVideo, encoding OutputVideoFile's AVI/XVID container, and the
// post-shutdown mux collaborator that joins the final video and audio
// files.
//
// The process lifecycle here follows the same os/exec.Cmd-with-context
// shape the teacher's stream manager used for its long-lived FFmpeg
// children — simplified because decode/encode/mux are bounded
// (EOF-terminal or one-shot), not restart-forever daemons, so no
// restart/backoff loop applies here (that lives in internal/supervisor
// instead, for the stages themselves).
package ffmpegio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/avdirector/director/internal/frame"
)

// DefaultFFmpegPath and DefaultFFprobePath match the teacher's convention
// of defaulting to the binary name and relying on $PATH; each function that
// takes a binary path falls back to them when that path is empty.
const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
)

// ErrClosed is returned by Read/Write calls made after Close.
var ErrClosed = errors.New("ffmpegio: closed")

// Probe returns the declared frame rate of path's first video stream,
// used by InputFileVideo as "the authoritative clock" per spec.md §4.5.
func Probe(ffprobePath, path string) (fps float64, err error) {
	if ffprobePath == "" {
		ffprobePath = DefaultFFprobePath
	}
	// #nosec G204 - ffprobePath/path come from validated configuration
	cmd := exec.Command(ffprobePath, "-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseFrameRate(strings.TrimSpace(string(out)))
}

func parseFrameRate(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("ffmpegio: empty frame rate from ffprobe")
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("ffmpegio: bad frame rate %q: %w", s, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("ffmpegio: bad frame rate %q", s)
		}
		return n / d, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ffmpegio: bad frame rate %q: %w", s, err)
	}
	return v, nil
}

// VideoDecoderConfig configures a file-video decode session.
type VideoDecoderConfig struct {
	FFmpegPath string
	Path       string
	Width      int
	Height     int
	Logger     *slog.Logger
}

// VideoDecoder reads successive RGB24 frames out of an arbitrary
// ffmpeg-readable container, decoded to the stage's target dimensions.
type VideoDecoder struct {
	cfg      VideoDecoderConfig
	cmd      *exec.Cmd
	stdout   *bufio.Reader
	frameLen int

	mu     sync.Mutex
	closed bool
}

// OpenVideoDecoder launches ffmpeg to decode cfg.Path to a stream of raw
// RGB24 frames at cfg.Width x cfg.Height on stdout.
func OpenVideoDecoder(ctx context.Context, cfg VideoDecoderConfig) (*VideoDecoder, error) {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	size := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	// #nosec G204 - ffmpegPath/Path come from validated configuration
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-y", "-i", cfg.Path,
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-s", size,
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpegio: decoder stdout pipe: %w", err)
	}
	cmd.Stderr = decoderLog(cfg.Logger, cfg.Path)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpegio: decoder start: %w", err)
	}

	return &VideoDecoder{
		cfg:      cfg,
		cmd:      cmd,
		stdout:   bufio.NewReaderSize(stdout, 1<<20),
		frameLen: cfg.Width * cfg.Height * 3,
	}, nil
}

// ReadFrame reads exactly one RGB24 frame. Returns io.EOF when the file is
// exhausted — the caller (InputFileVideo's worker) treats this as terminal
// per spec.md §4.5.
func (d *VideoDecoder) ReadFrame() (frame.VideoFrame, error) {
	buf := make([]byte, d.frameLen)
	if _, err := io.ReadFull(d.stdout, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return frame.VideoFrame{}, err
	}
	return frame.VideoFrame{Width: d.cfg.Width, Height: d.cfg.Height, Channels: 3, Bytes: buf}, nil
}

// Close terminates the decoder process and releases its pipes.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}

// VideoEncoderConfig configures an OutputVideoFile encode session.
type VideoEncoderConfig struct {
	FFmpegPath string
	Path       string
	Width      int
	Height     int
	FPS        int
	Logger     *slog.Logger
}

// VideoEncoder writes successive RGB24 frames to an AVI/XVID container via
// ffmpeg, matching spec.md §6's "video-file output container = AVI with
// XVID codec at the configured frame rate".
type VideoEncoder struct {
	cfg    VideoEncoderConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

// OpenVideoEncoder launches ffmpeg to encode incoming RGB24 frames to
// cfg.Path as AVI/XVID at cfg.FPS.
func OpenVideoEncoder(ctx context.Context, cfg VideoEncoderConfig) (*VideoEncoder, error) {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	size := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	// #nosec G204 - ffmpegPath/Path come from validated configuration
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-y",
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-s", size, "-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an", "-vcodec", "mpeg4", "-vtag", "XVID",
		cfg.Path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpegio: encoder stdin pipe: %w", err)
	}
	cmd.Stderr = decoderLog(cfg.Logger, cfg.Path)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpegio: encoder start: %w", err)
	}

	return &VideoEncoder{cfg: cfg, cmd: cmd, stdin: stdin}, nil
}

// WriteFrame writes one RGB24 frame, resizing is the caller's
// responsibility (OutputVideoFile always calls internal/resize.Area first).
func (e *VideoEncoder) WriteFrame(v frame.VideoFrame) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, err := e.stdin.Write(v.Bytes)
	return err
}

// Close closes stdin (signalling EOF to ffmpeg) and waits for the encoder
// to finish flushing the container.
func (e *VideoEncoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stdin.Close()
	return e.cmd.Wait()
}

// Mux joins the final video and audio files into one output container,
// spec.md §6's post-shutdown mux collaborator:
//
//	ffmpeg -y -i <video> -i <audio> -shortest -async 1 -vsync 1 -codec copy <output>
func Mux(ctx context.Context, ffmpegPath, videoPath, audioPath, outPath string, logger *slog.Logger) error {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	// #nosec G204 - all paths come from validated configuration
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-shortest", "-async", "1", "-vsync", "1",
		"-codec", "copy",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if logger != nil {
		logger.Info("muxing final output", "video", videoPath, "audio", audioPath, "out", outPath)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpegio: mux failed: %w: %s", err, stderr.String())
	}
	return nil
}

// decoderLog returns an io.Writer for a child's stderr. When a logger is
// configured it fans each line out as a structured slog event (the
// manager.go logf/logError convention); otherwise it is discarded.
func decoderLog(logger *slog.Logger, subject string) io.Writer {
	if logger == nil {
		return io.Discard
	}
	return &slogStderrWriter{logger: logger, subject: subject}
}

// slogStderrWriter adapts an ffmpeg child's raw stderr lines to
// structured log events, line-buffering partial writes so each log record
// is one complete line.
type slogStderrWriter struct {
	logger  *slog.Logger
	subject string
	buf     bytes.Buffer
	mu      sync.Mutex
}

func (w *slogStderrWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Put back the partial line for next Write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			w.logger.Debug("ffmpeg", "subject", w.subject, "line", line)
		}
	}
	return len(p), nil
}
