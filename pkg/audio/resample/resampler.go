// ABOUTME: Linear resampler for converting audio sample rates
// ABOUTME: Interpolates interleaved int32 frames and carries state across chunks
package resample

// Resampler performs linear interpolation to convert between sample rates.
// The last input frame of each chunk is kept so consecutive chunks join
// without a gap.
type Resampler struct {
	channels int
	ratio    float64 // input frames advanced per output frame
	position float64
	last     []int32 // one sample per channel
	primed   bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		channels: channels,
		ratio:    float64(inputRate) / float64(outputRate),
		last:     make([]int32, channels),
	}
}

// Resample converts interleaved input frames to the output rate and appends
// the result to out
func (r *Resampler) Resample(input []int32, out []int32) []int32 {
	frames := len(input) / r.channels
	if frames == 0 {
		return out
	}

	total := frames
	if r.primed {
		total++
	}

	at := func(i, ch int) int32 {
		if r.primed {
			if i == 0 {
				return r.last[ch]
			}
			i--
		}
		return input[i*r.channels+ch]
	}

	for {
		idx := int(r.position)
		if idx+1 >= total {
			break
		}
		frac := r.position - float64(idx)

		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(at(idx, ch))
			s2 := float64(at(idx+1, ch))
			out = append(out, int32(s1+(s2-s1)*frac))
		}
		r.position += r.ratio
	}

	// The last input frame becomes index 0 of the next chunk
	r.position -= float64(total - 1)
	copy(r.last, input[(frames-1)*r.channels:frames*r.channels])
	r.primed = true

	return out
}

// Reset drops the carried frame and position
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.last {
		r.last[i] = 0
	}
}

// OutputSamplesNeeded returns an upper bound on the samples produced from
// inputSamples input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples/r.channels + 1
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}
