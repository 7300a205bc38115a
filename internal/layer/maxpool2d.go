package layer

import "math"

// MaxPool2D implements 2D max pooling.
// Stores argmax indices so the backward pass routes each gradient to the
// input that won the window.
type MaxPool2D struct {
	kernelSize int
	stride     int
	padding    int

	in  Shape3
	out Shape3

	outputBuf []float64
	gradInBuf []float64
	argmaxBuf []int
}

// NewMaxPool2D creates a pooling layer over channels×height×width inputs.
// A stride of 0 defaults to kernelSize.
func NewMaxPool2D(channels, height, width, kernelSize, stride, padding int) *MaxPool2D {
	if stride <= 0 {
		stride = kernelSize
	}
	in := Shape3{channels, height, width}
	out := Shape3{
		Channels: channels,
		Height:   convOutSize(height, kernelSize, stride, padding),
		Width:    convOutSize(width, kernelSize, stride, padding),
	}
	if out.Height <= 0 || out.Width <= 0 {
		panicf("MaxPool2D: window %d does not fit input %dx%d", kernelSize, height, width)
	}
	return &MaxPool2D{
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
		in:         in,
		out:        out,
		outputBuf:  make([]float64, out.Size()),
		gradInBuf:  make([]float64, in.Size()),
		argmaxBuf:  make([]int, out.Size()),
	}
}

// Forward takes the maximum over each window.
func (m *MaxPool2D) Forward(input []float64) []float64 {
	if len(input) != m.in.Size() {
		panicShape("MaxPool2D", m.in.Size(), len(input))
	}
	inH, inW := m.in.Height, m.in.Width
	outH, outW := m.out.Height, m.out.Width
	channelStride := inH * inW
	outChannelStride := outH * outW

	for c := 0; c < m.in.Channels; c++ {
		channelOffset := c * channelStride
		outputOffset := c * outChannelStride

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				maxVal := math.Inf(-1)
				maxIdx := -1

				for kh := 0; kh < m.kernelSize; kh++ {
					ih := oh*m.stride + kh - m.padding
					if ih < 0 || ih >= inH {
						continue
					}
					for kw := 0; kw < m.kernelSize; kw++ {
						iw := ow*m.stride + kw - m.padding
						if iw < 0 || iw >= inW {
							continue
						}
						idx := channelOffset + ih*inW + iw
						if input[idx] > maxVal {
							maxVal = input[idx]
							maxIdx = idx
						}
					}
				}

				pos := outputOffset + oh*outW + ow
				m.outputBuf[pos] = maxVal
				m.argmaxBuf[pos] = maxIdx
			}
		}
	}

	return m.outputBuf
}

// Backward passes each output gradient to its argmax input.
func (m *MaxPool2D) Backward(grad []float64) []float64 {
	if len(grad) != m.out.Size() {
		panicShape("MaxPool2D.Backward", m.out.Size(), len(grad))
	}
	clear(m.gradInBuf)
	for pos, g := range grad {
		if idx := m.argmaxBuf[pos]; idx >= 0 {
			m.gradInBuf[idx] += g
		}
	}
	return m.gradInBuf
}

func (m *MaxPool2D) Params() []float64 { return nil }
func (m *MaxPool2D) SetParams([]float64) {}
func (m *MaxPool2D) Gradients() []float64 { return nil }
func (m *MaxPool2D) ClearGradients() {}
func (m *MaxPool2D) InSize() int { return m.in.Size() }
func (m *MaxPool2D) OutSize() int { return m.out.Size() }
func (m *MaxPool2D) InShape() Shape3 { return m.in }
func (m *MaxPool2D) OutShape() Shape3 { return m.out }
func (m *MaxPool2D) KernelSize() int { return m.kernelSize }
func (m *MaxPool2D) Stride() int { return m.stride }
func (m *MaxPool2D) Padding() int { return m.padding }

func (m *MaxPool2D) Clone() Layer {
	return NewMaxPool2D(m.in.Channels, m.in.Height, m.in.Width, m.kernelSize, m.stride, m.padding)
}

// Argmax returns the winning input index per output position.
func (m *MaxPool2D) Argmax() []int {
	return m.argmaxBuf
}
