// Package trace loads raw sync-channel inputs for the CLI: sampled digital
// traces stored as PCM WAV files, and pulse-event timestamp exports from the
// robotics log. Decoding of the proprietary acquisition containers is the
// job of upstream tooling, which exports to these interchange formats.
package trace

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// ReadDigitalTrace reads a mono PCM WAV file carrying a digital sync channel
// and returns its samples normalized to [-1, 1] plus the sample rate in Hz.
func ReadDigitalTrace(path string) ([]float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid WAV file", path)
	}
	if dec.NumChans != 1 {
		return nil, 0, fmt.Errorf("trace must be mono, got %d channels", dec.NumChans)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading samples from %s: %w", path, err)
	}
	if len(buf.Data) == 0 {
		return nil, 0, errors.New("trace file contains no samples")
	}

	maxVal := float64(int(1) << (uint(dec.BitDepth) - 1))
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) / maxVal
	}
	return samples, float64(dec.SampleRate), nil
}
