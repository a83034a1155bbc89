// SPDX-License-Identifier: MIT

// Package selector implements the stream-selector supervisor of spec.md
// §4.6: it ticks every stage, tallies feature votes under a weighted
// policy, applies anti-thrash hysteresis, and rebinds the main-video
// output stages' input binding at runtime.
//
// Grounded on original_source/util/stream_selector.py's StreamSelector,
// reworked from a flat "all processes" set plus inputs/outputs bags into
// the stage.Stage/Reader abstraction, and from eager per-instance
// thrash_limit to the selector-level SelectorState committed by spec.md
// §9's Open Question resolution.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avdirector/director/internal/distribution"
	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/stage"
)

// ErrUnknownElectedSource is returned when the selector's tally elects a
// video source id that video_input_map does not contain — a stage-wiring
// error per spec.md §4.6/§7, fatal and propagated upward.
var ErrUnknownElectedSource = errors.New("selector: elected source id not found in video input map")

// ErrNoFeatureWeights is returned at construction when no feature weights
// are supplied; the selector has nothing to tally against.
var ErrNoFeatureWeights = errors.New("selector: no feature weights configured")

// Feature is the minimal surface the selector needs from a feature stage:
// its stable identity (used as the feature_weights Distribution key) and
// a non-blocking read of its most recent vote.
type Feature interface {
	ID() frame.SourceID
	Read() (stage.PipelineData, bool)
}

// MainVideoSink is the minimal surface the selector needs from a
// main-video output stage: the ability to rebind its single upstream.
type MainVideoSink interface {
	SetInputs(inputs []stage.Reader)
}

// State mirrors spec.md §3's SelectorState: last_selected starts unset
// and only ever becomes set on a successful tally.
type State struct {
	LastSelected    frame.SourceID
	HasLastSelected bool
	TimeSinceSwitch uint32
	ThrashLimit     uint32
}

// Selector is the tick/tally/hysteresis/rebind supervisor.
type Selector struct {
	allStages     []*stage.Stage
	features      []Feature
	featureWeight *distribution.Distribution[frame.SourceID]
	videoInputMap map[frame.SourceID]stage.Reader
	mainVideo     []MainVideoSink

	state State

	logger  *slog.Logger
	started bool
}

// Config collects the selector's fixed wiring, established once at
// construction (spec.md §5: "video_input_map is read-only after
// construction").
type Config struct {
	AllStages     []*stage.Stage
	Features      []Feature
	FeatureWeight *distribution.Distribution[frame.SourceID]
	VideoInputMap map[frame.SourceID]stage.Reader
	MainVideo     []MainVideoSink
	ThrashLimit   uint32
	Logger        *slog.Logger
}

// New constructs a Selector. It does not start any stage; Tick does that
// lazily on its first call, in dependency order (sources → features →
// sinks, i.e. the order AllStages is given in).
func New(cfg Config) (*Selector, error) {
	if cfg.FeatureWeight == nil || cfg.FeatureWeight.Len() == 0 {
		return nil, ErrNoFeatureWeights
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		allStages:     cfg.AllStages,
		features:      cfg.Features,
		featureWeight: cfg.FeatureWeight,
		videoInputMap: cfg.VideoInputMap,
		mainVideo:     cfg.MainVideo,
		state:         State{ThrashLimit: cfg.ThrashLimit},
		logger:        logger,
	}, nil
}

// State returns a copy of the selector's current hysteresis state, for
// observability (internal/health reports the elected source from this).
func (s *Selector) State() State { return s.state }

// start launches every stage exactly once, in the order given at
// construction (spec.md §4.6: "sources → features → sinks").
func (s *Selector) start(ctx context.Context) {
	for _, st := range s.allStages {
		if err := st.Start(ctx); err != nil && !errors.Is(err, stage.ErrAlreadyStarted) {
			s.logger.Error("selector failed to start stage", "stage", st.ID().String(), "err", err)
		}
	}
	s.started = true
}

// Tick performs one selector cycle (spec.md §4.6). It is the caller's
// responsibility to invoke Tick on a single top-level ticker (spec.md
// §4.1); Tick itself never blocks on a stage.
func (s *Selector) Tick(ctx context.Context) error {
	if !s.started {
		s.start(ctx)
	}

	for _, st := range s.allStages {
		st.Tick()
	}

	votes := make(map[frame.SourceID]*distribution.Distribution[frame.SourceID], len(s.features))
	for _, f := range s.features {
		data, ok := f.Read()
		if !ok {
			continue
		}
		vote, isDist := data.Payload.(*distribution.Distribution[frame.SourceID])
		if !isDist {
			return fmt.Errorf("selector: feature %s produced non-Distribution payload (%T)", f.ID().String(), data.Payload)
		}
		votes[f.ID()] = vote
	}

	tally := distribution.New[frame.SourceID](nil)
	haveVotes := false
	for _, f := range s.features {
		vote, ok := votes[f.ID()]
		if !ok {
			continue
		}
		weight := s.featureWeight.Get(f.ID())
		tally = tally.Add(vote.Scale(weight))
		haveVotes = true
	}
	if !haveVotes || tally.Total() == 0 {
		return nil
	}

	candidate, err := tally.Argmax()
	if err != nil {
		return fmt.Errorf("selector: tally argmax: %w", err)
	}

	s.state.TimeSinceSwitch++
	shouldSwitch := !s.state.HasLastSelected ||
		(candidate != s.state.LastSelected && s.state.TimeSinceSwitch > s.state.ThrashLimit)
	if !shouldSwitch {
		return nil
	}

	upstream, ok := s.videoInputMap[candidate]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElectedSource, candidate.String())
	}

	s.state.LastSelected = candidate
	s.state.HasLastSelected = true
	s.state.TimeSinceSwitch = 0

	for _, sink := range s.mainVideo {
		sink.SetInputs([]stage.Reader{upstream})
	}
	s.logger.Info("selector elected video source", "source", candidate.String())
	return nil
}

// Close stops every stage the selector owns.
func (s *Selector) Close() {
	for _, st := range s.allStages {
		st.Close()
	}
}
