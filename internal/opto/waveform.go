package opto

import (
	"math"

	"github.com/foraging-rig/go-controller/internal/task"
)

// sentinelZeros terminate every waveform for the downstream consumer.
const sentinelZeros = 2

// #region wave-spec
// WaveSpec fully describes one location's waveform.
type WaveSpec struct {
	Protocol        task.Protocol
	Amplitude       float64
	Frequency       float64
	Duration        float64
	RampDown        float64
	PulseDur        *float64
	OffsetStart     float64
	SampleFrequency float64
}

// #endregion wave-spec

// #region synthesize
// Synthesize renders spec into samples. path prefixes the ConfigError path
// of any rejected field.
func Synthesize(spec WaveSpec, path string) ([]float64, error) {
	fs := spec.SampleFrequency
	if fs <= 0 {
		return nil, task.Errorf("opto.sample_frequency", task.ErrOutOfRange, "%v <= 0", fs)
	}
	if spec.Duration <= 0 {
		return nil, task.Errorf(path+".duration", task.ErrOutOfRange, "%v <= 0", spec.Duration)
	}
	n := int(fs * spec.Duration)

	var wave []float64
	switch spec.Protocol {
	case task.Sine:
		if spec.Frequency <= 0 {
			return nil, task.Errorf(path+".frequency", task.ErrMissing, "sine needs a frequency")
		}
		wave = make([]float64, n)
		for i := range wave {
			t := float64(i) / fs
			wave[i] = spec.Amplitude * (1 + math.Sin(2*math.Pi*spec.Frequency*t+3*math.Pi/2)) / 2
		}
		if err := rampDown(wave, spec, path); err != nil {
			return nil, err
		}
	case task.Constant:
		wave = make([]float64, n)
		for i := range wave {
			wave[i] = spec.Amplitude
		}
		if err := rampDown(wave, spec, path); err != nil {
			return nil, err
		}
	case task.Pulse:
		var err error
		if wave, err = pulses(spec, n, path); err != nil {
			return nil, err
		}
	default:
		return nil, task.Errorf(path+".protocol", task.ErrUnknown, "%q", spec.Protocol)
	}

	if spec.OffsetStart > 0 {
		wave = append(make([]float64, int(fs*spec.OffsetStart)), wave...)
	}
	return append(wave, make([]float64, sentinelZeros)...), nil
}

// rampDown scales the final RampDown seconds linearly from 1 toward 0.
func rampDown(wave []float64, spec WaveSpec, path string) error {
	if spec.RampDown <= 0 {
		return nil
	}
	if spec.RampDown > spec.Duration {
		return task.Errorf(path+".ramp_down", task.ErrOutOfRange, "ramp %v s longer than duration %v s", spec.RampDown, spec.Duration)
	}
	flat := int((spec.Duration - spec.RampDown) * spec.SampleFrequency)
	k := len(wave) - flat
	for i := 0; i < k; i++ {
		wave[flat+i] *= 1 - float64(i)/float64(k)
	}
	return nil
}

// pulses builds floor(D*f) square pulses padded with zeros to n samples.
func pulses(spec WaveSpec, n int, path string) ([]float64, error) {
	if spec.PulseDur == nil || *spec.PulseDur <= 0 {
		return nil, task.Errorf(path+".pulse_dur", task.ErrMissing, "pulse duration not set")
	}
	if spec.Frequency <= 0 {
		return nil, task.Errorf(path+".frequency", task.ErrMissing, "pulse frequency not set")
	}
	fs := spec.SampleFrequency
	high := int(fs * *spec.PulseDur)
	gap := int(fs/spec.Frequency - float64(high))
	if gap < 0 {
		return nil, task.Errorf(path+".frequency", task.ErrIncompatible,
			"pulse %v s does not fit a %v Hz period", *spec.PulseDur, spec.Frequency)
	}
	count := int(math.Floor(spec.Duration * spec.Frequency))
	if count < 1 {
		return nil, task.Errorf(path+".duration", task.ErrIncompatible,
			"%v s at %v Hz holds no complete pulse", spec.Duration, spec.Frequency)
	}

	wave := make([]float64, 0, n)
	for p := 0; p < count; p++ {
		for i := 0; i < high; i++ {
			wave = append(wave, spec.Amplitude)
		}
		if p < count-1 {
			wave = append(wave, make([]float64, gap)...)
		}
	}
	if len(wave) < n {
		wave = append(wave, make([]float64, n-len(wave))...)
	}
	return wave, nil
}

// #endregion synthesize
