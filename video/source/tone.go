package source

import (
	"math"
)

// Tone is an AudioSource producing a continuous sine wave on every channel
// at 16-bit amplitude.
type Tone struct {
	Frequency float64
	Amplitude float64

	rate     int
	channels int
	phase    float64
}

func NewTone(sampleRate, channels int, frequency float64) *Tone {
	return &Tone{
		Frequency: frequency,
		Amplitude: 0.25,
		rate:      sampleRate,
		channels:  channels,
	}
}

func (t *Tone) SampleRate() int { return t.rate }

func (t *Tone) Channels() int { return t.channels }

func (t *Tone) ReadSamples(buf []int) (int, error) {
	step := 2 * math.Pi * t.Frequency / float64(t.rate)
	n := len(buf) - len(buf)%t.channels
	for i := 0; i < n; i += t.channels {
		v := int(t.Amplitude * math.MaxInt16 * math.Sin(t.phase))
		for c := 0; c < t.channels; c++ {
			buf[i+c] = v
		}
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return n, nil
}
