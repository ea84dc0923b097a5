package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the shape.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // scalar
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// NDim returns the number of dimensions.
func (s Shape) NDim() int {
	return len(s)
}

// Equal checks if two shapes are identical.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	c := make(Shape, len(s))
	copy(c, s)
	return c
}

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int(s))
}

// Tensor is a dense, contiguous, row-major float64 array.
// The float64 element type lets gonum matrices share the backing
// slice without conversion.
type Tensor struct {
	data  []float64
	shape Shape

	// grad holds the accumulated gradient with respect to this tensor's
	// elements. nil until the first accumulation.
	grad []float64
}

// New creates a zero-filled tensor of the given shape.
func New(shape Shape) *Tensor {
	return &Tensor{
		data:  make([]float64, shape.NumElements()),
		shape: shape.Clone(),
	}
}

// FromSlice creates a tensor wrapping data. The tensor retains the slice;
// callers must not mutate it afterwards.
func FromSlice(data []float64, shape Shape) (*Tensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("tensor: data length %d != shape %v elements %d",
			len(data), shape, shape.NumElements())
	}
	return &Tensor{data: data, shape: shape.Clone()}, nil
}

// ---- Accessors ----

func (t *Tensor) Data() []float64  { return t.data }
func (t *Tensor) Shape() Shape     { return t.shape }
func (t *Tensor) NDim() int        { return len(t.shape) }
func (t *Tensor) NumElements() int { return len(t.data) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// View returns a tensor with a new shape sharing the same storage and
// gradient buffer.
func (t *Tensor) View(newShape Shape) (*Tensor, error) {
	if newShape.NumElements() != t.NumElements() {
		return nil, fmt.Errorf("tensor: view shape %v has %d elements, need %d",
			newShape, newShape.NumElements(), t.NumElements())
	}
	return &Tensor{data: t.data, shape: newShape.Clone(), grad: t.grad}, nil
}

// Clone returns a deep copy of the tensor data. The gradient is not copied.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{data: data, shape: t.shape.Clone()}
}

// ---- Gradient bookkeeping ----

// Grad returns the gradient buffer, or nil if none has been accumulated.
func (t *Tensor) Grad() []float64 { return t.grad }

// AccumGrad adds g element-wise into the gradient buffer, allocating it on
// first use.
func (t *Tensor) AccumGrad(g []float64) {
	if t.grad == nil {
		t.grad = make([]float64, len(t.data))
	}
	for i, v := range g {
		t.grad[i] += v
	}
}

// ZeroGrad clears the gradient buffer in place. A nil buffer stays nil.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", t.shape)
}
