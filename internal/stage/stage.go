// SPDX-License-Identifier: MIT

// Package stage implements the pipeline stage abstraction of spec.md §4.4:
// a worker wrapped with an input queue, an output queue, a
// start/tick/close lifecycle, and a settable set of upstream stages.
//
// It reimplements original_source/util/pipeline.py's PipelineProcess,
// reworked from one-process-per-stage (Python multiprocessing) to
// one-goroutine-per-stage, matching spec.md §5's scheduling model.
package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/avdirector/director/internal/frame"
	"github.com/avdirector/director/internal/queue"
	"github.com/avdirector/director/internal/util"
)

// ErrAlreadyStarted is returned by Start on a re-call; start is idempotent
// in the sense that it never launches a second worker, but a second call
// is treated as a caller error per spec.md §4.4 ("idempotent re-calls fail").
var ErrAlreadyStarted = errors.New("stage: already started")

// PipelineData is the (source_id, payload) pair that flows through a
// stage's queues: either a frame.Frame (for sources/sinks) or a
// *distribution.Distribution[frame.SourceID] (for features' vote output).
type PipelineData struct {
	SourceID frame.SourceID
	Payload  any
}

// InputBatch is the "one latest frame per input" snapshot a stage gathers
// from its upstream stages on each tick, keyed by upstream source id.
type InputBatch map[frame.SourceID]PipelineData

// Reader is implemented by anything a stage can be bound to as an
// upstream: other stages, read by id and latest value. Stages hold these
// as weak, id-keyed references — never a strong/owning pointer to the
// upstream stage (spec.md §9, no cycles, no parent pointers).
type Reader interface {
	ID() frame.SourceID
	Read() (PipelineData, bool)
}

// Worker is the function a stage runs on its own goroutine. It reads
// InputBatch values from in (by whatever discipline — blocking or
// non-blocking — suits its production rate) and pushes PipelineData to
// out. Workers MUST treat queue closure as a clean stop (spec.md §4.4).
type Worker func(ctx context.Context, in *queue.Bounded[InputBatch], out *queue.Bounded[PipelineData])

// Stage wraps a Worker with its two bounded queues and lifecycle.
type Stage struct {
	id     frame.SourceID
	worker Worker
	logger *slog.Logger

	inputQueue  *queue.Bounded[InputBatch]
	outputQueue *queue.Bounded[PipelineData]
	dropInput   bool

	inputsMu sync.RWMutex
	inputs   []Reader

	outputLatest atomic.Pointer[PipelineData]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs a stage. The worker is not started until Start is called.
func New(id frame.SourceID, worker Worker, inputs []Reader, inputQueueCap, outputQueueCap int, dropInput, dropOutput bool, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	inCap := inputQueueCap
	if !dropInput {
		inCap = 0 // unbounded / blocking push, per spec.md §4.2
	}
	outCap := outputQueueCap
	if !dropOutput {
		outCap = 0
	}
	return &Stage{
		id:          id,
		worker:      worker,
		logger:      logger,
		inputQueue:  queue.NewBounded[InputBatch](inCap),
		outputQueue: queue.NewBounded[PipelineData](outCap),
		dropInput:   dropInput,
		inputs:      append([]Reader(nil), inputs...),
	}
}

// ID returns the stage's stable identity, used as a Distribution/map key.
func (s *Stage) ID() frame.SourceID { return s.id }

// SetInputs replaces the upstream binding. Safe to call at any time,
// including mid-run: the next Tick reads from the new set; in-flight
// frames already queued from the old set remain queued (spec.md §4.4).
func (s *Stage) SetInputs(inputs []Reader) {
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs = append([]Reader(nil), inputs...)
}

func (s *Stage) snapshotInputs() []Reader {
	s.inputsMu.RLock()
	defer s.inputsMu.RUnlock()
	return append([]Reader(nil), s.inputs...)
}

// Start launches the worker exactly once. Re-calls return ErrAlreadyStarted.
func (s *Stage) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	done := s.done
	in, out := s.inputQueue, s.outputQueue
	worker := s.worker
	id := s.id
	logger := s.logger

	util.SafeGo("stage:"+id.String(), nil, func() {
		defer close(done)
		worker(runCtx, in, out)
	}, func(r interface{}, stack []byte) {
		logger.Error("stage worker panicked", "stage", id.String(), "panic", r)
	})

	return nil
}

// Tick performs the selector-driven step of spec.md §4.4:
//
//	(a) if inputs is non-empty, gather one latest frame per input and
//	    push the batch onto the input queue (dropping if full and
//	    drop_input is set);
//	(b) drain the output queue into output_latest (most recent wins), or
//	    set it to None when empty.
func (s *Stage) Tick() {
	inputs := s.snapshotInputs()
	if len(inputs) > 0 {
		batch := make(InputBatch, len(inputs))
		for _, upstream := range inputs {
			if data, ok := upstream.Read(); ok {
				batch[upstream.ID()] = data
			}
		}
		if s.dropInput {
			s.inputQueue.TryPush(batch)
		} else {
			s.inputQueue.Push(batch)
		}
	}

	drained := s.outputQueue.PopAll()
	if len(drained) == 0 {
		s.outputLatest.Store(nil)
		return
	}
	latest := drained[len(drained)-1]
	s.outputLatest.Store(&latest)
}

// Read returns the most recent value captured by the last Tick's drain.
// ok is false when no output was available.
func (s *Stage) Read() (PipelineData, bool) {
	p := s.outputLatest.Load()
	if p == nil {
		return PipelineData{}, false
	}
	return *p, true
}

// Close signals the worker to terminate, waits for it to exit, and closes
// both queues.
func (s *Stage) Close() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	s.mu.Unlock()

	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	s.inputQueue.Close()
	s.outputQueue.Close()
	if done != nil {
		<-done
	}
}
