// SPDX-License-Identifier: MIT

// Command director-setup is an interactive wizard that writes a director
// config.yaml (internal/config §6): pick live cameras and microphones (or
// fall back to file playback), choose which output sinks to enable, and
// save the result. It never starts the director itself.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/avdirector/director/internal/audio"
	"github.com/avdirector/director/internal/capture"
	"github.com/avdirector/director/internal/config"
	"github.com/avdirector/director/internal/frame"
)

func main() {
	configPath := flag.String("config", config.ConfigFilePath, "path to write the config file")
	flag.Parse()

	if err := runWizard(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
}

func runWizard(configPath string) error {
	fmt.Println("Director Setup Wizard")
	fmt.Println("======================")
	fmt.Println()

	cfg := config.DefaultConfig()

	liveMode, err := chooseLiveMode()
	if err != nil {
		return err
	}
	cfg.Mode.LiveMode = liveMode

	if liveMode {
		if err := chooseLiveDevices(cfg); err != nil {
			return err
		}
	} else {
		if err := chooseFiles(cfg); err != nil {
			return err
		}
	}

	if err := chooseOutputs(cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	return nil
}

func chooseLiveMode() (bool, error) {
	var liveMode bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Capture from live cameras/microphones?").
				Affirmative("Live devices").
				Negative("Play back files").
				Value(&liveMode),
		),
	)
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("setup cancelled: %w", err)
	}
	return liveMode, nil
}

// chooseLiveDevices lists cameras and microphones via capture.EnumerateDevices
// (spec.md §4.5's InputLiveVideo/InputLiveAudio sources address devices by
// small integer ID, the same convention internal/config.LiveConfig uses). After
// the pickers it prints the USB audio devices found under /proc/asound via
// internal/audio (card number and sanitized name) as a separate list.
func chooseLiveDevices(cfg *config.Config) error {
	devices := capture.EnumerateDevices()
	alsaDevices, _ := audio.DetectDevices("/proc/asound")

	var cameras, mics []capture.Device
	for _, d := range devices {
		switch d.Kind {
		case frame.KindVideo:
			cameras = append(cameras, d)
		case frame.KindAudio:
			mics = append(mics, d)
		}
	}

	if len(cameras) == 0 {
		fmt.Println("  [!] No cameras detected — keeping the default camera indexes.")
	}
	if len(mics) == 0 {
		fmt.Println("  [!] No microphones detected — keeping the default microphone indexes.")
	}

	cameraIDs, err := selectDeviceIDs("Active cameras", cameras, len(cfg.Live.ActiveCameraIDs))
	if err != nil {
		return err
	}
	if len(cameraIDs) > 0 {
		cfg.Live.ActiveCameraIDs = cameraIDs
	}

	micIDs, err := selectDeviceIDs("Active microphones", mics, len(cfg.Live.ActiveMicrophoneIDs))
	if err != nil {
		return err
	}
	if len(micIDs) > 0 {
		cfg.Live.ActiveMicrophoneIDs = micIDs
	}
	printALSADevices(alsaDevices)

	if len(micIDs) > 0 {
		audioDeviceID, err := chooseMainAudioDevice(micIDs)
		if err != nil {
			return err
		}
		cfg.Live.AudioInputDeviceID = audioDeviceID
	}

	return nil
}

// selectDeviceIDs offers a multi-select over enumerated devices, labelled by
// their position (spec.md's active_*_ids are plain integer indexes, not the
// driver's own device-id strings). Returns nil (leaving the caller's default
// untouched) if nothing was detected.
func selectDeviceIDs(title string, devices []capture.Device, defaultCount int) ([]int, error) {
	if len(devices) == 0 {
		return nil, nil
	}

	var options []huh.Option[int]
	for i, d := range devices {
		label := fmt.Sprintf("%d: %s", i, d.Label)
		options = append(options, huh.NewOption(label, i).Selected(i < defaultCount))
	}

	var chosen []int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title(title).
				Options(options...).
				Value(&chosen),
		),
	)
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("setup cancelled: %w", err)
	}

	sort.Ints(chosen)
	return chosen, nil
}

func chooseMainAudioDevice(micIDs []int) (int, error) {
	if len(micIDs) == 1 {
		return micIDs[0], nil
	}

	var options []huh.Option[int]
	for _, id := range micIDs {
		options = append(options, huh.NewOption(strconv.Itoa(id), id))
	}

	chosen := micIDs[0]
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Which microphone feeds the main (always-on) audio output?").
				Options(options...).
				Value(&chosen),
		),
	)
	if err := form.Run(); err != nil {
		return 0, fmt.Errorf("setup cancelled: %w", err)
	}
	return chosen, nil
}

func printALSADevices(devices []*audio.Device) {
	if len(devices) == 0 {
		return
	}
	fmt.Println("  USB audio devices seen on this host:")
	for _, d := range devices {
		fmt.Printf("    - card %d: %s (%s)\n", d.CardNumber, d.Name, d.FriendlyName())
	}
}

func chooseFiles(cfg *config.Config) error {
	var videoFiles, audioFiles string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Video files to play back (comma-separated paths)").
				Value(&videoFiles),
			huh.NewInput().
				Title("Audio files to play back (comma-separated paths, optional)").
				Value(&audioFiles),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg.Files.VideoFilenames = splitNonEmpty(videoFiles)
	cfg.Files.AudioFilenames = splitNonEmpty(audioFiles)
	if len(cfg.Files.AudioFilenames) > 0 {
		cfg.Files.MainAudioFile = cfg.Files.AudioFilenames[0]
	}
	return nil
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			field := trimSpace(s[start:i])
			if field != "" {
				out = append(out, field)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func chooseOutputs(cfg *config.Config) error {
	videoFile := cfg.OutputVideo.VideoFile
	videoPath := cfg.OutputVideo.VideoFilename
	audioFile := cfg.OutputAudio.AudioFile
	audioPath := cfg.OutputAudio.AudioFilename

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write the elected video feed to a file?").
				Value(&videoFile),
			huh.NewInput().
				Title("Video output path").
				Value(&videoPath),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write the main audio feed to a file?").
				Value(&audioFile),
			huh.NewInput().
				Title("Audio output path").
				Value(&audioPath),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg.OutputVideo.VideoFile = videoFile
	cfg.OutputVideo.VideoFilename = videoPath
	cfg.OutputAudio.AudioFile = audioFile
	cfg.OutputAudio.AudioFilename = audioPath
	return nil
}
