package worker

import (
	"math"
	"time"

	"github.com/cuongbtq/speech-jobs/internal/provider"
)

const (
	// BytesPerSecond approximates 16kHz 8-bit mono audio; used when the
	// provider does not report a duration
	BytesPerSecond = 16000

	// DefaultRealtimeFactor is processing time per second of audio
	DefaultRealtimeFactor = 0.5

	// MinExpectedProcessing keeps estimates sane for very short clips
	MinExpectedProcessing = 5 * time.Second

	startProgress = 5
	maxEstimated  = 95
	progressStep  = 5
)

// Estimator produces best-effort progress, time and cost figures for a running job
type Estimator struct {
	RealtimeFactor float64
}

// AudioDuration estimates seconds of audio from the upload size
func (e Estimator) AudioDuration(fileSize int64) float64 {
	return math.Max(1, float64(fileSize)/BytesPerSecond)
}

// ExpectedProcessing is how long the provider is expected to take
func (e Estimator) ExpectedProcessing(durationSeconds float64) time.Duration {
	factor := e.RealtimeFactor
	if factor <= 0 {
		factor = DefaultRealtimeFactor
	}
	expected := time.Duration(durationSeconds * factor * float64(time.Second))
	if expected < MinExpectedProcessing {
		return MinExpectedProcessing
	}
	return expected
}

// Progress maps elapsed time onto 5..95 in steps of 5
func (e Estimator) Progress(elapsed, expected time.Duration) int {
	if expected <= 0 || elapsed <= 0 {
		return startProgress
	}
	ratio := math.Min(1, float64(elapsed)/float64(expected))
	p := startProgress + int(ratio*(maxEstimated-startProgress))
	p -= p % progressStep
	if p > maxEstimated {
		return maxEstimated
	}
	if p < startProgress {
		return startProgress
	}
	return p
}

// Remaining is the expected seconds left, never negative
func (e Estimator) Remaining(elapsed, expected time.Duration) float64 {
	left := (expected - elapsed).Seconds()
	if left < 0 {
		return 0
	}
	return math.Round(left*10) / 10
}

// Cost prices the audio on the named provider
func (e Estimator) Cost(providerName string, durationSeconds float64) float64 {
	return provider.EstimateCost(providerName, durationSeconds)
}
