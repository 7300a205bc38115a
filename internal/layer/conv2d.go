package layer

import (
	"math"
	"math/rand"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
)

// Shape3 describes a channel-major image tensor.
type Shape3 struct {
	Channels, Height, Width int
}

// Size returns the number of elements.
func (s Shape3) Size() int { return s.Channels * s.Height * s.Width }

func convOutSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// Conv2D implements a 2D convolutional layer with square kernels and zero
// padding, computed directly (no im2col).
type Conv2D struct {
	in         Shape3
	out        Shape3
	kernelSize int
	stride     int
	padding    int

	// Weights: [outChannels, inChannels, kernelSize, kernelSize]
	weights []float64
	biases  []float64

	activation activations.Activation

	preActBuf   []float64
	outputBuf   []float64
	gradWeights []float64
	gradBiases  []float64
	gradInBuf   []float64
	savedInput  []float64
}

// NewConv2D creates a convolution over inChannels×height×width inputs.
func NewConv2D(inChannels, height, width, outChannels, kernelSize, stride, padding int,
	activation activations.Activation) *Conv2D {
	return NewConv2DWithRNG(inChannels, height, width, outChannels, kernelSize, stride, padding, activation, nextRNG())
}

// NewConv2DWithRNG is NewConv2D with an explicit initialisation source.
func NewConv2DWithRNG(inChannels, height, width, outChannels, kernelSize, stride, padding int,
	activation activations.Activation, rng *rand.Rand) *Conv2D {
	if activation == nil {
		activation = activations.Linear{}
	}
	if stride <= 0 {
		stride = 1
	}
	in := Shape3{inChannels, height, width}
	out := Shape3{
		Channels: outChannels,
		Height:   convOutSize(height, kernelSize, stride, padding),
		Width:    convOutSize(width, kernelSize, stride, padding),
	}
	if out.Height <= 0 || out.Width <= 0 {
		panicf("Conv2D: kernel %d does not fit input %dx%d with padding %d", kernelSize, height, width, padding)
	}

	// He initialization (better for ReLU)
	fanIn := inChannels * kernelSize * kernelSize
	scale := math.Sqrt(6.0 / float64(fanIn))
	weights := make([]float64, outChannels*fanIn)
	for i := range weights {
		weights[i] = rng.Float64()*2*scale - scale
	}

	return &Conv2D{
		in:          in,
		out:         out,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		activation:  activation,
		weights:     weights,
		biases:      make([]float64, outChannels),
		preActBuf:   make([]float64, out.Size()),
		outputBuf:   make([]float64, out.Size()),
		gradWeights: make([]float64, len(weights)),
		gradBiases:  make([]float64, outChannels),
		gradInBuf:   make([]float64, in.Size()),
		savedInput:  make([]float64, in.Size()),
	}
}

// Forward convolves a flattened [inChannels, height, width] input and returns
// a flattened [outChannels, outH, outW] output.
func (c *Conv2D) Forward(input []float64) []float64 {
	if len(input) != c.in.Size() {
		panicShape("Conv2D", c.in.Size(), len(input))
	}
	copy(c.savedInput, input)

	inH, inW := c.in.Height, c.in.Width
	outH, outW := c.out.Height, c.out.Width
	outSize := outH * outW
	k := c.kernelSize
	icWeightStride := k * k
	ocWeightStride := c.in.Channels * icWeightStride

	clear(c.preActBuf)
	for oc := 0; oc < c.out.Channels; oc++ {
		ocWeightBase := oc * ocWeightStride
		ocOutBase := oc * outSize

		for ic := 0; ic < c.in.Channels; ic++ {
			icWeightBase := ocWeightBase + ic*icWeightStride
			inputChannelOffset := ic * inH * inW

			for kh := 0; kh < k; kh++ {
				for kw := 0; kw < k; kw++ {
					wVal := c.weights[icWeightBase+kh*k+kw]

					for oh := 0; oh < outH; oh++ {
						ih := oh*c.stride + kh - c.padding
						if ih < 0 || ih >= inH {
							continue
						}
						inRow := inputChannelOffset + ih*inW
						outRow := ocOutBase + oh*outW
						for ow := 0; ow < outW; ow++ {
							iw := ow*c.stride + kw - c.padding
							if iw >= 0 && iw < inW {
								c.preActBuf[outRow+ow] += wVal * input[inRow+iw]
							}
						}
					}
				}
			}
		}

		bias := c.biases[oc]
		for pos := ocOutBase; pos < ocOutBase+outSize; pos++ {
			c.preActBuf[pos] += bias
			c.outputBuf[pos] = c.activation.Activate(c.preActBuf[pos])
		}
	}

	return c.outputBuf
}

// Backward accumulates kernel and bias gradients and returns dL/dinput.
func (c *Conv2D) Backward(grad []float64) []float64 {
	if len(grad) != c.out.Size() {
		panicShape("Conv2D.Backward", c.out.Size(), len(grad))
	}
	inH, inW := c.in.Height, c.in.Width
	outH, outW := c.out.Height, c.out.Width
	outSize := outH * outW
	k := c.kernelSize
	icWeightStride := k * k
	ocWeightStride := c.in.Channels * icWeightStride

	gradInput := c.gradInBuf
	clear(gradInput)

	for oc := 0; oc < c.out.Channels; oc++ {
		ocWeightBase := oc * ocWeightStride
		ocOutBase := oc * outSize

		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				pos := ocOutBase + oh*outW + ow
				dz := grad[pos] * c.activation.Derivative(c.preActBuf[pos])
				if dz == 0 {
					continue
				}
				c.gradBiases[oc] += dz

				for ic := 0; ic < c.in.Channels; ic++ {
					icWeightBase := ocWeightBase + ic*icWeightStride
					inputChannelOffset := ic * inH * inW

					for kh := 0; kh < k; kh++ {
						ih := oh*c.stride + kh - c.padding
						if ih < 0 || ih >= inH {
							continue
						}
						inRow := inputChannelOffset + ih*inW
						for kw := 0; kw < k; kw++ {
							iw := ow*c.stride + kw - c.padding
							if iw < 0 || iw >= inW {
								continue
							}
							inputIdx := inRow + iw
							weightIdx := icWeightBase + kh*k + kw
							c.gradWeights[weightIdx] += dz * c.savedInput[inputIdx]
							gradInput[inputIdx] += dz * c.weights[weightIdx]
						}
					}
				}
			}
		}
	}

	return gradInput
}

// Params returns kernels then biases.
func (c *Conv2D) Params() []float64 {
	params := make([]float64, len(c.weights)+len(c.biases))
	copy(params, c.weights)
	copy(params[len(c.weights):], c.biases)
	return params
}

func (c *Conv2D) SetParams(params []float64) {
	copy(c.weights, params[:len(c.weights)])
	copy(c.biases, params[len(c.weights):])
}

func (c *Conv2D) Gradients() []float64 {
	gradients := make([]float64, len(c.gradWeights)+len(c.gradBiases))
	copy(gradients, c.gradWeights)
	copy(gradients[len(c.gradWeights):], c.gradBiases)
	return gradients
}

func (c *Conv2D) ClearGradients() {
	clear(c.gradWeights)
	clear(c.gradBiases)
}

func (c *Conv2D) Clone() Layer {
	n := NewConv2DWithRNG(c.in.Channels, c.in.Height, c.in.Width, c.out.Channels,
		c.kernelSize, c.stride, c.padding, c.activation, rand.New(rand.NewSource(0)))
	copy(n.weights, c.weights)
	copy(n.biases, c.biases)
	return n
}

func (c *Conv2D) InSize() int  { return c.in.Size() }
func (c *Conv2D) OutSize() int { return c.out.Size() }

// InShape and OutShape report the image tensor shapes.
func (c *Conv2D) InShape() Shape3  { return c.in }
func (c *Conv2D) OutShape() Shape3 { return c.out }

func (c *Conv2D) KernelSize() int { return c.kernelSize }
func (c *Conv2D) Stride() int     { return c.stride }
func (c *Conv2D) Padding() int    { return c.padding }

func (c *Conv2D) Activation() activations.Activation { return c.activation }

// Kernel returns a copy of the k×k kernel connecting input channel ic to
// output channel oc, row-major.
func (c *Conv2D) Kernel(oc, ic int) []float64 {
	k := c.kernelSize
	base := (oc*c.in.Channels + ic) * k * k
	return append([]float64(nil), c.weights[base:base+k*k]...)
}
