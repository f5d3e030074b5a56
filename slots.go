package vlur

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/andewx/vlur/gpu"
)

type slotState uint8

const (
	slotConfigured slotState = iota + 1
	slotBlurred
)

func (s slotState) String() string {
	if s == slotBlurred {
		return "blurred"
	}
	return "configured"
}

// slot owns the four images of one request id. All four share the extent
// of the input bitmap.
type slot struct {
	input   gpu.Image
	temp    gpu.Image
	staging gpu.Image
	output  gpu.Image
	state   slotState
}

func (s *slot) release() {
	s.output.Destroy()
	s.staging.Destroy()
	s.temp.Destroy()
	s.input.Destroy()
}

// buildSlot creates the images for bm. On failure every image created so
// far is destroyed and no slot is returned.
func buildSlot(ctx gpu.Context, bm *gpu.Bitmap) (s *slot, err error) {
	var owned []gpu.Image
	defer func() {
		if err != nil {
			for i := len(owned) - 1; i >= 0; i-- {
				owned[i].Destroy()
			}
		}
	}()

	input, err := ctx.NewImageFromBitmap(bm)
	if err != nil {
		return nil, errors.Wrap(err, "input image")
	}
	owned = append(owned, input)
	w, h := input.Width(), input.Height()

	temp, err := ctx.NewDeviceLocalImage(w, h, gpu.ImageUsageStorage|gpu.ImageUsageSampled)
	if err != nil {
		return nil, errors.Wrap(err, "temp image")
	}
	owned = append(owned, temp)

	staging, err := ctx.NewDeviceLocalImage(w, h, gpu.ImageUsageStorage|gpu.ImageUsageTransferSrc)
	if err != nil {
		return nil, errors.Wrap(err, "staging image")
	}
	owned = append(owned, staging)

	mem, err := ctx.AllocateShared(gpu.SharedDesc{
		Width:  w,
		Height: h,
		Layers: 1,
		Format: gpu.FormatRGBA8Unorm,
		Usage:  gpu.SharedUsageGPUSampledImage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "shared memory")
	}
	output, err := ctx.NewImageFromShared(mem)
	// the output image holds its own reference
	mem.Release()
	if err != nil {
		return nil, errors.Wrap(err, "output image")
	}
	owned = append(owned, output)

	return &slot{
		input:   input,
		temp:    temp,
		staging: staging,
		output:  output,
		state:   slotConfigured,
	}, nil
}

// slotTable maps request ids to slots. It is not safe for concurrent use.
type slotTable struct {
	slots map[int]*slot
}

func newSlotTable() *slotTable {
	return &slotTable{slots: make(map[int]*slot)}
}

func (t *slotTable) get(id int) (*slot, bool) {
	s, ok := t.slots[id]
	return s, ok
}

// install stores s under id and releases the slot it replaces, if any.
// Returns true when a slot was replaced.
func (t *slotTable) install(id int, s *slot) bool {
	prev, ok := t.slots[id]
	t.slots[id] = s
	if ok {
		prev.release()
	}
	return ok
}

func (t *slotTable) releaseAll() {
	for id, s := range t.slots {
		s.release()
		delete(t.slots, id)
	}
}

func (t *slotTable) ids() []int {
	ids := make([]int, 0, len(t.slots))
	for id := range t.slots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
