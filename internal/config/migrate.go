package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MigrateFromFlatFile migrates configuration from the legacy flat
// key-value-with-sections format (spec.md §6's own description of the
// director's external configuration interface, before it was given a
// YAML encoding) into a Config.
//
// The legacy format is one "SECTION.key = value" assignment per line,
// grouped loosely by section name, e.g.:
//
//	MODE.live_mode = false
//	FILES.video_filenames = camera1.mp4, camera2.mp4
//	FILES.main_audio_file = mic1.wav
//	OUTPUT_AUDIO.audio_file = true
//	OUTPUT_AUDIO.audio_filename = output_files/audio.wav
//	OUTPUT_VIDEO.video_file = true
//	OUTPUT_VIDEO.video_filename = output_files/video.avi
//
// List-valued keys (active_camera_ids, active_microphone_ids,
// video_filenames, audio_filenames) take a comma-separated value.
//
// Parameters:
//   - flatConfigPath: path to the legacy flat config file
//
// Returns:
//   - *Config: migrated configuration, layered on top of DefaultConfig
//   - error: if the file cannot be read or a value cannot be parsed
func MigrateFromFlatFile(flatConfigPath string) (*Config, error) {
	cfg := DefaultConfig()

	file, err := os.Open(flatConfigPath) // #nosec G304 - operator-provided migration source
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy config: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		section, key, value, ok := parseFlatConfigLine(scanner.Text())
		if !ok {
			continue
		}
		if err := applyFlatValue(cfg, section, key, value); err != nil {
			return nil, fmt.Errorf("invalid value for %s.%s: %w", section, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading legacy config: %w", err)
	}

	return cfg, nil
}

// parseFlatConfigLine parses a single "SECTION.key = value" assignment.
//
// Returns ok=false for blank lines, "#"-comments, and lines that don't
// match the SECTION.key = value shape.
func parseFlatConfigLine(line string) (section, key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", "", false
	}

	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", "", false
	}

	dotted := strings.TrimSpace(parts[0])
	value = strings.TrimSpace(parts[1])
	value = strings.Trim(value, `"'`)

	dotParts := strings.SplitN(dotted, ".", 2)
	if len(dotParts) != 2 {
		return "", "", "", false
	}

	section = strings.ToUpper(strings.TrimSpace(dotParts[0]))
	key = strings.ToLower(strings.TrimSpace(dotParts[1]))
	return section, key, value, true
}

// applyFlatValue applies one parsed assignment onto cfg.
func applyFlatValue(cfg *Config, section, key, value string) error {
	switch section {
	case "MODE":
		return applyModeValue(&cfg.Mode, key, value)
	case "LIVE":
		return applyLiveValue(&cfg.Live, key, value)
	case "FILES":
		return applyFilesValue(&cfg.Files, key, value)
	case "OUTPUT_AUDIO":
		return applyOutputAudioValue(&cfg.OutputAudio, key, value)
	case "OUTPUT_VIDEO":
		return applyOutputVideoValue(&cfg.OutputVideo, key, value)
	case "SELECTOR":
		return applySelectorValue(&cfg.Selector, key, value)
	default:
		return nil // unknown section: ignore, forward-compatible with new sections
	}
}

func applyModeValue(cfg *ModeConfig, key, value string) error {
	switch key {
	case "live_mode":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid live_mode: %w", err)
		}
		cfg.LiveMode = b
	}
	return nil
}

func applyLiveValue(cfg *LiveConfig, key, value string) error {
	switch key {
	case "active_microphone_ids":
		ids, err := parseIntList(value)
		if err != nil {
			return fmt.Errorf("invalid active_microphone_ids: %w", err)
		}
		cfg.ActiveMicrophoneIDs = ids
	case "active_camera_ids":
		ids, err := parseIntList(value)
		if err != nil {
			return fmt.Errorf("invalid active_camera_ids: %w", err)
		}
		cfg.ActiveCameraIDs = ids
	case "audio_input_device_id":
		id, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid audio_input_device_id: %w", err)
		}
		cfg.AudioInputDeviceID = id
	}
	return nil
}

func applyFilesValue(cfg *FilesConfig, key, value string) error {
	switch key {
	case "audio_filenames":
		cfg.AudioFilenames = parseStringList(value)
	case "video_filenames":
		cfg.VideoFilenames = parseStringList(value)
	case "main_audio_file":
		cfg.MainAudioFile = value
	}
	return nil
}

func applyOutputAudioValue(cfg *OutputAudioConfig, key, value string) error {
	switch key {
	case "audio_output_device_id":
		id, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid audio_output_device_id: %w", err)
		}
		cfg.AudioOutputDeviceID = id
	case "audio_file":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid audio_file: %w", err)
		}
		cfg.AudioFile = b
	case "audio_filename":
		cfg.AudioFilename = value
	}
	return nil
}

func applyOutputVideoValue(cfg *OutputVideoConfig, key, value string) error {
	switch key {
	case "video_file":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid video_file: %w", err)
		}
		cfg.VideoFile = b
	case "video_filename":
		cfg.VideoFilename = value
	}
	return nil
}

func applySelectorValue(cfg *SelectorConfig, key, value string) error {
	switch key {
	case "window_length":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid window_length: %w", err)
		}
		cfg.WindowLength = n
	case "thrash_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid thrash_limit: %w", err)
		}
		cfg.ThrashLimit = n
	case "audio_feature_weight":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid audio_feature_weight: %w", err)
		}
		cfg.AudioFeatureWeight = f
	case "video_feature_weight":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid video_feature_weight: %w", err)
		}
		cfg.VideoFeatureWeight = f
	}
	return nil
}

func parseIntList(value string) ([]int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, n)
	}
	return ids, nil
}

func parseStringList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names
}
