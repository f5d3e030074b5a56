package softgpu

import (
	"image"
	"sync"

	"github.com/pkg/errors"

	"github.com/andewx/vlur/gpu"
)

// Buffer is a linear buffer in host memory.
type Buffer struct {
	ctx       *Context
	data      []byte
	usage     gpu.BufferUsage
	props     gpu.MemoryProperty
	destroyed bool
}

func (b *Buffer) Size() int              { return len(b.data) }
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

// CopyFrom writes data at offset 0. Only host-visible buffers can be written.
func (b *Buffer) CopyFrom(data []byte) error {
	if b.destroyed {
		return gpu.ErrDestroyed
	}
	if !b.props.Has(gpu.MemoryHostVisible) {
		return errors.Wrap(ErrValidation, "map of memory without host visibility")
	}
	if len(data) > len(b.data) {
		return errors.Wrapf(ErrValidation, "copy of %d bytes into %d byte buffer", len(data), len(b.data))
	}
	copy(b.data, data)
	return nil
}

// Bytes exposes the buffer contents.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.ctx.live.Buffers--
}

// shared regions are resolvable by handle from anywhere in the process
var (
	sharedMu   sync.Mutex
	sharedNext gpu.SharedHandle
	sharedByID = make(map[gpu.SharedHandle]*Shared)
)

// Shared is a reference counted shareable memory region.
type Shared struct {
	ctx    *Context
	handle gpu.SharedHandle
	desc   gpu.SharedDesc
	pix    []byte
	refs   int
}

func newShared(c *Context, desc gpu.SharedDesc) *Shared {
	sh := &Shared{ctx: c, desc: desc, pix: make([]byte, desc.Size()), refs: 1}
	poison(sh.pix)

	sharedMu.Lock()
	sharedNext++
	sh.handle = sharedNext
	sharedByID[sh.handle] = sh
	sharedMu.Unlock()
	return sh
}

// LookupShared resolves a handle produced by this backend.
func LookupShared(h gpu.SharedHandle) (*Shared, bool) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sh, ok := sharedByID[h]
	return sh, ok
}

func (s *Shared) Handle() gpu.SharedHandle { return s.handle }
func (s *Shared) Desc() gpu.SharedDesc     { return s.desc }

// Refs reports the current reference count.
func (s *Shared) Refs() int { return s.refs }

func (s *Shared) Acquire() { s.refs++ }

func (s *Shared) Release() {
	if s.refs <= 0 {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	sharedMu.Lock()
	delete(sharedByID, s.handle)
	sharedMu.Unlock()
	s.ctx.live.Shared--
}

// Image returns a copy of the region contents, as a consumer importing the
// region would see them.
func (s *Shared) Image() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, int(s.desc.Width), int(s.desc.Height)))
	copy(out.Pix, s.pix)
	return out
}
