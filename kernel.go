package vlur

import (
	"encoding/binary"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Radius bounds accepted by Blur.
const (
	MinRadius float32 = 1
	MaxRadius float32 = 25
)

// KernelSlots is the capacity of the uniform kernel array. It holds the
// 2*25+1 weights of the largest radius and pads to a multiple of four floats.
const KernelSlots = 52

// KernelBytes is the size of the uniform buffer holding a kernel.
const KernelBytes = KernelSlots * 4

// BlurKernel is a normalized 1D Gaussian.
type BlurKernel struct {
	// Radius is the integer half-width, ceil of the requested radius.
	Radius  int
	Weights [KernelSlots]float32
}

// ValidRadius reports whether r lies in [MinRadius, MaxRadius]. NaN is invalid.
func ValidRadius(r float32) bool {
	return r >= MinRadius && r <= MaxRadius
}

// NewKernel computes the kernel for radius with sigma = 0.4*radius + 0.6,
// truncated at ceil(radius) and renormalized to sum to one.
func NewKernel(radius float32) (*BlurKernel, error) {
	if !ValidRadius(radius) {
		return nil, errors.Wrapf(ErrRadiusOutOfRange, "radius %v", radius)
	}
	sigma := 0.4*radius + 0.6
	k := &BlurKernel{Radius: int(math32.Ceil(radius))}

	coeff := 1 / (math32.Sqrt(2*math32.Pi) * sigma)
	var sum float32
	for i := -k.Radius; i <= k.Radius; i++ {
		w := coeff * math32.Exp(-float32(i*i)/(2*sigma*sigma))
		k.Weights[i+k.Radius] = w
		sum += w
	}
	for i := 0; i < k.Len(); i++ {
		k.Weights[i] /= sum
	}
	return k, nil
}

// Len is the number of taps, 2*Radius+1.
func (k *BlurKernel) Len() int { return 2*k.Radius + 1 }

// Taps returns the used weights.
func (k *BlurKernel) Taps() []float32 { return k.Weights[:k.Len()] }

// Bytes encodes all slots little endian, matching a std140 vec4[13] block.
func (k *BlurKernel) Bytes() []byte {
	out := make([]byte, KernelBytes)
	for i, w := range k.Weights {
		binary.LittleEndian.PutUint32(out[4*i:], math32.Float32bits(w))
	}
	return out
}

// PushConstants encodes Radius as the 4 byte push constant block.
func (k *BlurKernel) PushConstants() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(int32(k.Radius)))
	return out
}
