package gpu

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Backend names.
const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"
)

// OpenFunc creates a context for a registered backend.
type OpenFunc func(opts Options) (Context, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]OpenFunc)
)

// Register makes a backend available under name. Backend packages call it
// from init, so importing the package is enough to enable it.
func Register(name string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = open
}

// Unregister removes a backend. Used by tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available lists registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates a context on the named backend.
func Open(name string, opts Options) (Context, error) {
	registryMu.RLock()
	open, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrBackendNotAvailable, "%q (registered: %v)", name, Available())
	}
	ctx, err := open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend", name)
	}
	return ctx, nil
}
