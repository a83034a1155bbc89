// SPDX-License-Identifier: MIT

// Package config implements the director's external configuration
// interface (spec.md §6): a flat key-value store with MODE, LIVE, FILES,
// OUTPUT_AUDIO, and OUTPUT_VIDEO sections, loaded from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/director/config.yaml"

// Config represents the complete director configuration (spec.md §6).
type Config struct {
	Mode        ModeConfig        `yaml:"mode" koanf:"mode"`
	Live        LiveConfig        `yaml:"live" koanf:"live"`
	Files       FilesConfig       `yaml:"files" koanf:"files"`
	OutputAudio OutputAudioConfig `yaml:"output_audio" koanf:"output_audio"`
	OutputVideo OutputVideoConfig `yaml:"output_video" koanf:"output_video"`
	Selector    SelectorConfig    `yaml:"selector" koanf:"selector"`
}

// ModeConfig selects live devices vs file playback (spec.md §6 MODE).
type ModeConfig struct {
	LiveMode bool `yaml:"live_mode" koanf:"live_mode"`
}

// LiveConfig names the live devices to capture from (spec.md §6 LIVE).
type LiveConfig struct {
	ActiveMicrophoneIDs []int `yaml:"active_microphone_ids" koanf:"active_microphone_ids"`
	ActiveCameraIDs     []int `yaml:"active_camera_ids" koanf:"active_camera_ids"`
	AudioInputDeviceID  int   `yaml:"audio_input_device_id" koanf:"audio_input_device_id"`
}

// FilesConfig names the file inputs to play back (spec.md §6 FILES).
type FilesConfig struct {
	AudioFilenames []string `yaml:"audio_filenames" koanf:"audio_filenames"`
	VideoFilenames []string `yaml:"video_filenames" koanf:"video_filenames"`
	MainAudioFile  string   `yaml:"main_audio_file" koanf:"main_audio_file"`
}

// OutputAudioConfig configures the audio sinks (spec.md §6 OUTPUT_AUDIO).
// AudioOutputDeviceID < 0 disables OutputAudioPlayback entirely (no speaker
// device claimed); this project's own addition, since spec.md's original
// config surface assumes a playback device is always present.
type OutputAudioConfig struct {
	AudioOutputDeviceID int    `yaml:"audio_output_device_id" koanf:"audio_output_device_id"`
	AudioFile           bool   `yaml:"audio_file" koanf:"audio_file"`
	AudioFilename       string `yaml:"audio_filename" koanf:"audio_filename"`
}

// OutputVideoConfig configures the video-file sink (spec.md §6 OUTPUT_VIDEO).
type OutputVideoConfig struct {
	VideoFile     bool   `yaml:"video_file" koanf:"video_file"`
	VideoFilename string `yaml:"video_filename" koanf:"video_filename"`
}

// SelectorConfig carries the selector/feature tuning parameters spec.md
// §4.5/§4.6 name but leaves to configuration: window lengths, the
// selector's thrash limit, and relative feature weights. Not one of
// spec.md §6's literal sections, but required to drive internal/selector
// and internal/feature from the config file rather than hardcoded
// constants.
type SelectorConfig struct {
	WindowLength       int     `yaml:"window_length" koanf:"window_length"`
	ThrashLimit        int     `yaml:"thrash_limit" koanf:"thrash_limit"`
	AudioFeatureWeight float64 `yaml:"audio_feature_weight" koanf:"audio_feature_weight"`
	VideoFeatureWeight float64 `yaml:"video_feature_weight" koanf:"video_feature_weight"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file, atomically: write to a
// temp file in the same directory, sync to disk, then rename to the
// target path. os.Rename is atomic on most filesystems, so a crash
// mid-write leaves either the old file or the new file, never a
// partially-written one.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config may name device ids and file paths; restrict to owner+group.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Mode.LiveMode {
		if len(c.Live.ActiveCameraIDs) == 0 {
			return fmt.Errorf("live: active_camera_ids must name at least one camera")
		}
		if len(c.Live.ActiveMicrophoneIDs) > 0 && !containsInt(c.Live.ActiveMicrophoneIDs, c.Live.AudioInputDeviceID) {
			return fmt.Errorf("live: audio_input_device_id %d must appear in active_microphone_ids", c.Live.AudioInputDeviceID)
		}
	} else {
		if len(c.Files.VideoFilenames) == 0 {
			return fmt.Errorf("files: video_filenames must name at least one file")
		}
	}

	if c.OutputAudio.AudioFile && c.OutputAudio.AudioFilename == "" {
		return fmt.Errorf("output_audio: audio_filename required when audio_file is enabled")
	}
	if c.OutputVideo.VideoFile && c.OutputVideo.VideoFilename == "" {
		return fmt.Errorf("output_video: video_filename required when video_file is enabled")
	}

	if err := c.Selector.Validate(); err != nil {
		return fmt.Errorf("selector: %w", err)
	}

	return nil
}

// Validate checks selector/feature tuning parameters for invalid values.
func (s *SelectorConfig) Validate() error {
	if s.WindowLength <= 0 {
		return fmt.Errorf("window_length must be positive")
	}
	if s.ThrashLimit < 0 {
		return fmt.Errorf("thrash_limit must not be negative")
	}
	if s.AudioFeatureWeight < 0 || s.VideoFeatureWeight < 0 {
		return fmt.Errorf("feature weights must not be negative")
	}
	if s.AudioFeatureWeight == 0 && s.VideoFeatureWeight == 0 {
		return fmt.Errorf("at least one feature weight must be positive")
	}
	return nil
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration with sensible defaults, used when
// no config file exists or for testing.
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeConfig{LiveMode: false},
		Live: LiveConfig{
			ActiveMicrophoneIDs: []int{0},
			ActiveCameraIDs:     []int{0},
			AudioInputDeviceID:  0,
		},
		Files: FilesConfig{
			AudioFilenames: []string{},
			VideoFilenames: []string{},
		},
		OutputAudio: OutputAudioConfig{
			AudioOutputDeviceID: -1,
			AudioFile:           true,
			AudioFilename:       "output_files/audio.wav",
		},
		OutputVideo: OutputVideoConfig{
			VideoFile:     true,
			VideoFilename: "output_files/video.avi",
		},
		Selector: SelectorConfig{
			WindowLength:       10,
			ThrashLimit:        3,
			AudioFeatureWeight: 0.4,
			VideoFeatureWeight: 0.6,
		},
	}
}
