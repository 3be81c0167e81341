// ABOUTME: Streaming linear resampler for converting audio sample rates
// ABOUTME: Carries the last input frame across calls so chunk boundaries stay continuous
package resample

// Resampler performs linear interpolation to convert between sample rates.
// Input may be fed in arbitrary sized pieces; state carries across calls.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	step       float64
	position   float64 // read position relative to lastFrame (0 = lastFrame)
	lastFrame  []int32
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		step:       float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int32, channels),
	}
}

// Passthrough reports whether input and output rates match
func (r *Resampler) Passthrough() bool {
	return r.inputRate == r.outputRate
}

// Resample converts interleaved input into output and returns the number
// of samples written. Every input frame is consumed; output is truncated
// if it is too small to hold the result.
func (r *Resampler) Resample(input []int32, output []int32) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	if r.Passthrough() {
		return copy(output, input[:inputFrames*r.channels])
	}

	if !r.primed {
		copy(r.lastFrame, input[:r.channels])
		input = input[r.channels:]
		inputFrames--
		r.primed = true
	}

	outputFrames := len(output) / r.channels
	outIdx := 0

	// frame(i) is lastFrame for i == 0 and input[i-1] otherwise
	frame := func(i, ch int) int32 {
		if i == 0 {
			return r.lastFrame[ch]
		}
		return input[(i-1)*r.channels+ch]
	}

	for outIdx < outputFrames {
		idx := int(r.position)
		if idx >= inputFrames {
			break
		}
		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := frame(idx, ch)
			s2 := frame(idx+1, ch)
			output[outIdx*r.channels+ch] = int32(float64(s1)*(1.0-frac) + float64(s2)*frac)
		}
		outIdx++
		r.position += r.step
	}

	if inputFrames > 0 {
		copy(r.lastFrame, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
		r.position -= float64(inputFrames)
		if r.position < 0 {
			r.position = 0
		}
	}

	return outIdx * r.channels
}

// OutputSamplesNeeded estimates how many output samples inputSamples produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	return (int(float64(inputFrames)/r.step) + 1) * r.channels
}

// InputSamplesNeeded estimates how many input samples produce outputSamples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	return (int(float64(outputFrames)*r.step) + 1) * r.channels
}
