// Package bridge exposes processors to a foreign host through integer
// handles. Nothing but success flags and shared memory handles crosses the
// boundary; failures are logged.
//
// The handle table is safe for concurrent use. A single processor is not:
// hosts must not call into the same handle from two threads at once.
package bridge

import (
	"io/fs"
	"sync"

	"go.uber.org/zap"

	"github.com/andewx/vlur"
	"github.com/andewx/vlur/gpu"
	"github.com/andewx/vlur/logging"
)

// Handle names a processor created by Create. Zero is never a valid handle.
type Handle uint64

// Invalid is returned by Create on failure.
const Invalid Handle = 0

var (
	mu    sync.Mutex
	next  Handle
	procs = make(map[Handle]*vlur.Processor)

	base = vlur.DefaultConfig()
	log  = logging.Or(nil)
)

// SetConfig sets the configuration used by later Create calls. The debug
// flag passed to Create overrides cfg.Debug.
func SetConfig(cfg vlur.Config) {
	mu.Lock()
	defer mu.Unlock()
	base = cfg
}

// SetLogger sets the logger for the bridge and the processors it creates.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = logging.Or(l).Named("bridge")
}

func lookup(h Handle) (*vlur.Processor, *zap.Logger, bool) {
	mu.Lock()
	defer mu.Unlock()
	p, ok := procs[h]
	return p, log, ok
}

// Create builds a processor reading its shaders from assets.
func Create(debug bool, assets fs.FS) Handle {
	mu.Lock()
	cfg, l := base, log
	mu.Unlock()

	cfg.Debug = debug
	p, err := vlur.New(cfg, assets, vlur.WithLogger(l))
	if err != nil {
		l.Error("create failed", zap.Error(err))
		return Invalid
	}

	mu.Lock()
	next++
	h := next
	procs[h] = p
	mu.Unlock()

	l.Debug("created", zap.Uint64("handle", uint64(h)))
	return h
}

// Configure uploads bm into slot id of processor h.
func Configure(h Handle, bm *gpu.Bitmap, id int) bool {
	p, l, ok := lookup(h)
	if !ok {
		l.Warn("configure on unknown handle", zap.Uint64("handle", uint64(h)))
		return false
	}
	if err := p.Configure(bm, id); err != nil {
		l.Error("configure failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
		return false
	}
	return true
}

// GetOutputHandle returns the shared memory handle of slot id, or
// gpu.InvalidHandle.
func GetOutputHandle(h Handle, id int) gpu.SharedHandle {
	p, l, ok := lookup(h)
	if !ok {
		l.Warn("output handle on unknown handle", zap.Uint64("handle", uint64(h)))
		return gpu.InvalidHandle
	}
	out, err := p.OutputHandle(id)
	if err != nil {
		l.Error("output handle failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
		return gpu.InvalidHandle
	}
	return out
}

// Blur runs the blur on slot id of processor h and waits for it.
func Blur(h Handle, radius float32, id int) bool {
	p, l, ok := lookup(h)
	if !ok {
		l.Warn("blur on unknown handle", zap.Uint64("handle", uint64(h)))
		return false
	}
	if err := p.Blur(radius, id); err != nil {
		l.Error("blur failed",
			zap.Uint64("handle", uint64(h)),
			zap.Bool("recoverable", vlur.Recoverable(err)),
			zap.Error(err))
		return false
	}
	return true
}

// Destroy closes processor h. Unknown handles are ignored.
func Destroy(h Handle) {
	mu.Lock()
	p, ok := procs[h]
	delete(procs, h)
	l := log
	mu.Unlock()
	if !ok {
		return
	}
	if err := p.Close(); err != nil {
		l.Error("destroy failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
	}
}

// Live reports how many processors are registered.
func Live() int {
	mu.Lock()
	defer mu.Unlock()
	return len(procs)
}
