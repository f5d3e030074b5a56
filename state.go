package vlur

import (
	"io/fs"

	"go.uber.org/zap"

	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/logging"
)

// ImageProcessor is the contract a host UI layer drives.
type ImageProcessor interface {
	Configure(bm *gpu.Bitmap, id int) error
	Blur(radius float32, id int) (gpu.SharedHandle, error)
	Close() error
}

// StubProcessor does nothing. It stands in for the GPU in preview mode.
type StubProcessor struct{}

func (StubProcessor) Configure(*gpu.Bitmap, int) error { return nil }

func (StubProcessor) Blur(float32, int) (gpu.SharedHandle, error) {
	return gpu.InvalidHandle, nil
}

func (StubProcessor) Close() error { return nil }

type processorAdapter struct {
	p       *Processor
	handles map[int]gpu.SharedHandle
}

// Process exposes p as an ImageProcessor whose Blur returns the output
// handle cached when the slot was configured.
func (p *Processor) Process() ImageProcessor {
	return &processorAdapter{p: p, handles: make(map[int]gpu.SharedHandle)}
}

func (a *processorAdapter) Configure(bm *gpu.Bitmap, id int) error {
	if err := a.p.Configure(bm, id); err != nil {
		return err
	}
	h, err := a.p.OutputHandle(id)
	if err != nil {
		return err
	}
	a.handles[id] = h
	return nil
}

func (a *processorAdapter) Blur(radius float32, id int) (gpu.SharedHandle, error) {
	if err := a.p.Blur(radius, id); err != nil {
		return gpu.InvalidHandle, err
	}
	return a.handles[id], nil
}

func (a *processorAdapter) Close() error {
	a.handles = make(map[int]gpu.SharedHandle)
	return a.p.Close()
}

// State holds the processor behind a host view.
type State struct {
	proc ImageProcessor
	log  *zap.Logger
}

// NewState starts a GPU processor, or a StubProcessor when cfg.Preview is set.
// A context passed with WithContext is destroyed in preview mode, as the
// processor would have on Close.
func NewState(cfg Config, assets fs.FS, opts ...Option) (*State, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &State{log: logging.Or(o.log).Named("state")}
	if cfg.Preview {
		s.log.Info("preview mode, using stub processor")
		if o.ctx != nil {
			o.ctx.Destroy()
		}
		s.proc = StubProcessor{}
		return s, nil
	}
	p, err := New(cfg, assets, opts...)
	if err != nil {
		return nil, err
	}
	s.proc = p.Process()
	return s, nil
}

// NewStateWith wraps an existing processor.
func NewStateWith(proc ImageProcessor, log *zap.Logger) *State {
	return &State{proc: proc, log: logging.Or(log).Named("state")}
}

// Prepare configures slot id with bm.
func (s *State) Prepare(bm *gpu.Bitmap, id int) error {
	s.log.Debug("prepare", zap.Int("id", id))
	return s.proc.Configure(bm, id)
}

// Blur blurs slot id and returns its output handle.
func (s *State) Blur(radius float32, id int) (gpu.SharedHandle, error) {
	s.log.Debug("blur", zap.Int("id", id), zap.Float32("radius", radius))
	return s.proc.Blur(radius, id)
}

// Clear releases the processor.
func (s *State) Clear() error {
	s.log.Debug("clear")
	return s.proc.Close()
}
