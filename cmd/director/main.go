// Package main implements the director daemon: the real-time
// multi-camera auto-director pipeline of spec.md §1.
//
// Usage:
//
//	director [options]
//
// Options:
//
//	--config=PATH      Path to config file (default: /etc/director/config.yaml)
//	--health-addr=ADDR  Address for the /healthz and /metrics endpoints (default: :8080)
//	--log-level=LEVEL  Log level: debug, info, warn, error (default: info)
//	--help             Show this help message
//
// The daemon builds its stage graph from the loaded configuration (live
// capture devices or file playback per MODE.live_mode), runs the
// selector's tick loop under supervision, and, on shutdown, joins the
// persistent video/audio output files via ffmpeg.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/avdirector/director/internal/capture"
	"github.com/avdirector/director/internal/config"
	"github.com/avdirector/director/internal/distribution"
	"github.com/avdirector/director/internal/feature"
	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/health"
	"github.com/avdirector/director/internal/mux"
	"github.com/avdirector/director/internal/selector"
	"github.com/avdirector/director/internal/sink"
	"github.com/avdirector/director/internal/source"
	"github.com/avdirector/director/internal/stage"
	"github.com/avdirector/director/internal/supervisor"
)

// Build information (set by ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to configuration file")
	healthAddr = flag.String("health-addr", ":8080", "Address for the /healthz and /metrics endpoints")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

// Pipeline constants not yet exposed through config.SelectorConfig: frame
// dimensions and the tick/production cadence are spec.md §6 defaults, not
// operator-tunable sections.
const (
	videoWidth     = 640
	videoHeight    = 480
	sourceInterval = 100 * time.Millisecond
	tickInterval   = 100 * time.Millisecond
	sampleRate     = 16000
	queueCapacity  = 8
)

var previewDims = [2]int{320, 240}

// filePreviewDisplay implements sink.PreviewDisplay by writing each
// input's latest frame as a PNG snapshot, overwritten in place. No GUI
// toolkit appears anywhere in the example pack this module draws its
// dependency stack from, so a file-based preview is the dependency-free
// substitute for an on-screen window.
type filePreviewDisplay struct {
	dir string
}

func newFilePreviewDisplay(dir string) (*filePreviewDisplay, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &filePreviewDisplay{dir: dir}, nil
}

func (f *filePreviewDisplay) ShowFrame(id string, v frame.VideoFrame) {
	img := image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			i := (y*v.Width + x) * v.Channels
			if i+2 >= len(v.Bytes) {
				continue
			}
			img.Set(x, y, color.RGBA{R: v.Bytes[i], G: v.Bytes[i+1], B: v.Bytes[i+2], A: 255})
		}
	}

	path := filepath.Join(f.dir, sanitizePreviewName(id)+".png")
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return
	}
	_ = file.Close()
	_ = os.Rename(tmp, path)
}

func sanitizePreviewName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)
	logger.Info("director starting", "version", Version, "commit", Commit, "built", BuildTime)

	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ffmpegPath, err := findFFmpegPath()
	if err != nil {
		logger.Error("ffmpeg not found", "err", err)
		os.Exit(1)
	}
	logger.Info("using ffmpeg", "path", ffmpegPath)

	d, err := buildDirector(cfg, ffmpegPath, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	sup := supervisor.New(supervisor.Config{
		Name:   "director",
		Logger: logger,
	})
	if err := sup.Add(d); err != nil {
		logger.Error("failed to register selector service", "err", err)
		os.Exit(1)
	}

	handler := health.NewHandler(supervisorStatusAdapter{sup}).WithSelection(d)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var healthWG sync.WaitGroup
	healthWG.Add(1)
	go func() {
		defer healthWG.Done()
		if err := health.ListenAndServe(ctx, *healthAddr, handler); err != nil {
			logger.Error("health server stopped", "err", err)
		}
	}()

	logger.Info("director running", "health_addr", *healthAddr)
	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor error", "err", err)
	}
	healthWG.Wait()

	logger.Info("joining output files")
	joinCtx, joinCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer joinCancel()
	if err := mux.Join(joinCtx, mux.Config{
		FFmpegPath: ffmpegPath,
		VideoFile:  cfg.OutputVideo.VideoFilename,
		AudioFile:  cfg.OutputAudio.AudioFilename,
	}, logger); err != nil {
		logger.Error("mux join failed", "err", err)
	}

	logger.Info("shutdown complete")
}

// director wraps the selector as a supervisor.Service and exposes its
// elected-source state to internal/health.
type director struct {
	sel      *selector.Selector
	mu       sync.Mutex
	switches int
	since    time.Time
}

func (d *director) Name() string { return "selector" }

// Run ticks the selector on tickInterval until ctx is cancelled, per
// spec.md §4.1's single top-level ticker driving all stage scheduling.
func (d *director) Run(ctx context.Context) error {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	defer d.sel.Close()

	prev, hasPrev := frame.SourceID{}, false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := d.sel.Tick(ctx); err != nil {
				return err
			}
			state := d.sel.State()
			if state.HasLastSelected && (!hasPrev || state.LastSelected != prev) {
				d.mu.Lock()
				d.switches++
				d.since = time.Now()
				d.mu.Unlock()
				prev, hasPrev = state.LastSelected, true
			}
		}
	}
}

// Selection implements health.SelectionProvider.
func (d *director) Selection() health.SelectionInfo {
	state := d.sel.State()
	d.mu.Lock()
	defer d.mu.Unlock()
	info := health.SelectionInfo{SwitchCount: d.switches, ElectedSince: d.since}
	if state.HasLastSelected {
		info.ElectedSource = state.LastSelected.String()
	}
	return info
}

// supervisorStatusAdapter adapts supervisor.Status() to health.StatusProvider.
type supervisorStatusAdapter struct {
	sup *supervisor.Supervisor
}

func (a supervisorStatusAdapter) Services() []health.ServiceInfo {
	statuses := a.sup.Status()
	out := make([]health.ServiceInfo, 0, len(statuses))
	for _, s := range statuses {
		info := health.ServiceInfo{
			Name:     s.Name,
			State:    s.State.String(),
			Uptime:   s.Uptime,
			Healthy:  s.State == supervisor.ServiceStateRunning,
			Restarts: s.Restarts,
		}
		if s.LastError != nil {
			info.Error = s.LastError.Error()
		}
		out = append(out, info)
	}
	return out
}

// buildDirector constructs the complete stage graph from cfg (sources,
// features, sinks) and wires it into a selector, per spec.md §4.5's data
// flow: input stages → feature stages (+ direct fan-out to preview sinks)
// → selector tally → main-video output sink; main-audio input stage →
// audio output sinks directly, never gated by the vote.
func buildDirector(cfg *config.Config, ffmpegPath string, logger *slog.Logger) (*director, error) {
	var (
		videoStages   []*stage.Stage
		audioStages   []*stage.Stage
		videoInputMap = make(map[frame.SourceID]stage.Reader)
		audioToVideo  = make(map[frame.SourceID]frame.SourceID)
	)

	var mainAudioReader stage.Reader

	if cfg.Mode.LiveMode {
		for _, camID := range cfg.Live.ActiveCameraIDs {
			id := frame.SourceID{Kind: frame.KindVideo, ID: strconv.Itoa(camID)}
			session, err := capture.OpenVideo(strconv.Itoa(camID), videoWidth, videoHeight)
			if err != nil {
				return nil, fmt.Errorf("open camera %d: %w", camID, err)
			}
			worker := source.LiveVideo(id, session, videoWidth, videoHeight, sourceInterval, logger)
			st := stage.New(id, worker, nil, queueCapacity, queueCapacity, true, true, logger)
			videoStages = append(videoStages, st)
			videoInputMap[id] = st
		}

		for _, micID := range cfg.Live.ActiveMicrophoneIDs {
			id := frame.SourceID{Kind: frame.KindAudio, ID: strconv.Itoa(micID)}
			session, err := capture.OpenAudio(strconv.Itoa(micID))
			if err != nil {
				return nil, fmt.Errorf("open microphone %d: %w", micID, err)
			}
			worker := source.LiveAudio(id, session, sourceInterval, logger)
			st := stage.New(id, worker, nil, queueCapacity, queueCapacity, true, true, logger)
			audioStages = append(audioStages, st)
			if len(videoStages) > 0 {
				audioToVideo[id] = videoStages[(len(audioStages)-1)%len(videoStages)].ID()
			}
			if micID == cfg.Live.AudioInputDeviceID {
				mainAudioReader = st
			}
		}
	} else {
		for _, path := range cfg.Files.VideoFilenames {
			id := frame.SourceID{Kind: frame.KindVideo, ID: path}
			worker := source.FileVideo(id, path, ffmpegPath, videoWidth, videoHeight, sourceInterval, logger)
			st := stage.New(id, worker, nil, queueCapacity, queueCapacity, true, true, logger)
			videoStages = append(videoStages, st)
			videoInputMap[id] = st
		}

		for _, path := range cfg.Files.AudioFilenames {
			id := frame.SourceID{Kind: frame.KindAudio, ID: path}
			worker := source.FileAudio(id, path, sourceInterval, logger)
			st := stage.New(id, worker, nil, queueCapacity, queueCapacity, true, true, logger)
			audioStages = append(audioStages, st)
			if len(videoStages) > 0 {
				audioToVideo[id] = videoStages[(len(audioStages)-1)%len(videoStages)].ID()
			}
			if path == cfg.Files.MainAudioFile {
				mainAudioReader = st
			}
		}
	}

	if mainAudioReader == nil && len(audioStages) > 0 {
		mainAudioReader = audioStages[0]
	}

	videoIDs := make([]frame.SourceID, 0, len(videoStages))
	videoReaders := make([]stage.Reader, 0, len(videoStages))
	for _, st := range videoStages {
		videoIDs = append(videoIDs, st.ID())
		videoReaders = append(videoReaders, st)
	}
	audioIDs := make([]frame.SourceID, 0, len(audioStages))
	audioReaders := make([]stage.Reader, 0, len(audioStages))
	for _, st := range audioStages {
		audioIDs = append(audioIDs, st.ID())
		audioReaders = append(audioReaders, st)
	}

	allStages := append([]*stage.Stage{}, videoStages...)
	allStages = append(allStages, audioStages...)

	var features []selector.Feature
	featureWeights := distribution.New[frame.SourceID](nil)

	if len(audioIDs) > 0 {
		audioFeatureID := frame.SourceID{Kind: frame.KindAudio, ID: "feature:audio"}
		worker := feature.AudioFeature(audioFeatureID, audioIDs, audioToVideo, cfg.Selector.WindowLength, sourceInterval)
		st := stage.New(audioFeatureID, worker, audioReaders, queueCapacity, queueCapacity, true, true, logger)
		allStages = append(allStages, st)
		features = append(features, st)
		featureWeights.Set(audioFeatureID, cfg.Selector.AudioFeatureWeight)
	}

	if len(videoIDs) > 0 {
		videoFeatureID := frame.SourceID{Kind: frame.KindVideo, ID: "feature:video"}
		worker := feature.VideoMotionFeature(videoFeatureID, videoIDs, cfg.Selector.WindowLength, videoWidth, videoHeight, sourceInterval)
		st := stage.New(videoFeatureID, worker, videoReaders, queueCapacity, queueCapacity, true, true, logger)
		allStages = append(allStages, st)
		features = append(features, st)
		featureWeights.Set(videoFeatureID, cfg.Selector.VideoFeatureWeight)
	}

	previewDisplay, err := newFilePreviewDisplay(filepath.Join(os.TempDir(), "director-previews"))
	if err != nil {
		return nil, err
	}
	for _, st := range videoStages {
		previewID := frame.SourceID{Kind: frame.KindVideo, ID: "preview:" + st.ID().ID}
		worker := sink.PreviewWindow(previewID.ID, previewDims, sourceInterval, previewDisplay)
		preview := stage.New(previewID, worker, []stage.Reader{st}, queueCapacity, queueCapacity, true, true, logger)
		allStages = append(allStages, preview)
	}

	var mainVideo []selector.MainVideoSink

	if cfg.OutputVideo.VideoFile && len(videoIDs) > 0 {
		sinkID := frame.SourceID{Kind: frame.KindVideo, ID: "sink:video-file"}
		fps := int(time.Second / sourceInterval)
		worker := sink.VideoFile(cfg.OutputVideo.VideoFilename, ffmpegPath, fps, [2]int{videoWidth, videoHeight}, logger)
		st := stage.New(sinkID, worker, []stage.Reader{videoReaders[0]}, queueCapacity, queueCapacity, true, true, logger)
		allStages = append(allStages, st)
		mainVideo = append(mainVideo, st)
	}

	if cfg.OutputAudio.AudioFile && mainAudioReader != nil {
		sinkID := frame.SourceID{Kind: frame.KindAudio, ID: "sink:audio-file"}
		worker := sink.AudioFile(cfg.OutputAudio.AudioFilename, sampleRate, 1, logger)
		st := stage.New(sinkID, worker, []stage.Reader{mainAudioReader}, queueCapacity, queueCapacity, true, true, logger)
		allStages = append(allStages, st)
	}

	if cfg.OutputAudio.AudioOutputDeviceID >= 0 && mainAudioReader != nil {
		session, err := capture.OpenAudioOutput(strconv.Itoa(cfg.OutputAudio.AudioOutputDeviceID), sampleRate, 1)
		if err != nil {
			return nil, fmt.Errorf("open audio output %d: %w", cfg.OutputAudio.AudioOutputDeviceID, err)
		}
		sinkID := frame.SourceID{Kind: frame.KindAudio, ID: "sink:audio-playback"}
		worker := sink.AudioPlayback(session, sourceInterval, logger)
		st := stage.New(sinkID, worker, []stage.Reader{mainAudioReader}, queueCapacity, queueCapacity, true, true, logger)
		allStages = append(allStages, st)
	}

	if cfg.OutputVideo.VideoFile {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputVideo.VideoFilename), 0750); err != nil {
			return nil, fmt.Errorf("create video output dir: %w", err)
		}
	}
	if cfg.OutputAudio.AudioFile {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputAudio.AudioFilename), 0750); err != nil {
			return nil, fmt.Errorf("create audio output dir: %w", err)
		}
	}

	sel, err := selector.New(selector.Config{
		AllStages:     allStages,
		Features:      features,
		FeatureWeight: featureWeights,
		VideoInputMap: videoInputMap,
		MainVideo:     mainVideo,
		ThrashLimit:   uint32(cfg.Selector.ThrashLimit),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("construct selector: %w", err)
	}

	return &director{sel: sel}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfiguration loads the config file, returning DefaultConfig() if it
// doesn't exist (no file is written).
func loadConfiguration(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// findFFmpegPath locates the ffmpeg binary.
func findFFmpegPath() (string, error) {
	paths := []string{
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		p := filepath.Join(dir, "ffmpeg")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found in common locations or PATH")
}

func printUsage() {
	fmt.Println("director - multi-camera auto-director daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: director [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Elects the most interesting of N camera feeds in real time,")
	fmt.Println("writing previews and persistent audio/video output files.")
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
