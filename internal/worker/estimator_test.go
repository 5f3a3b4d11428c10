package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_AudioDuration(t *testing.T) {
	e := Estimator{}

	tests := []struct {
		name     string
		size     int64
		expected float64
	}{
		{name: "empty file floors at one second", size: 0, expected: 1},
		{name: "tiny file floors at one second", size: 100, expected: 1},
		{name: "ten seconds", size: 160000, expected: 10},
		{name: "fractional", size: 24000, expected: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, e.AudioDuration(tt.size), 1e-9)
		})
	}
}

func TestEstimator_ExpectedProcessing(t *testing.T) {
	tests := []struct {
		name     string
		factor   float64
		duration float64
		expected time.Duration
	}{
		{name: "short clip uses minimum", factor: 0.5, duration: 2, expected: MinExpectedProcessing},
		{name: "default factor", factor: 0, duration: 60, expected: 30 * time.Second},
		{name: "custom factor", factor: 1, duration: 60, expected: 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Estimator{RealtimeFactor: tt.factor}
			assert.Equal(t, tt.expected, e.ExpectedProcessing(tt.duration))
		})
	}
}

func TestEstimator_Progress(t *testing.T) {
	e := Estimator{}
	expected := 100 * time.Second

	tests := []struct {
		name     string
		elapsed  time.Duration
		expected int
	}{
		{name: "not started", elapsed: 0, expected: 5},
		{name: "just started", elapsed: time.Second, expected: 5},
		{name: "halfway", elapsed: 50 * time.Second, expected: 50},
		{name: "rounds down to step", elapsed: 53 * time.Second, expected: 50},
		{name: "done", elapsed: 100 * time.Second, expected: 95},
		{name: "overrun stays below completion", elapsed: 500 * time.Second, expected: 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Progress(tt.elapsed, expected)
			assert.Equal(t, tt.expected, got)
			assert.Zero(t, got%5)
		})
	}

	assert.Equal(t, 5, e.Progress(time.Second, 0))
}

func TestEstimator_Remaining(t *testing.T) {
	e := Estimator{}

	assert.InDelta(t, 7.5, e.Remaining(2500*time.Millisecond, 10*time.Second), 1e-9)
	assert.InDelta(t, 0.0, e.Remaining(20*time.Second, 10*time.Second), 1e-9)
	assert.InDelta(t, 3.3, e.Remaining(6666*time.Millisecond, 10*time.Second), 1e-9)
}

func TestEstimator_Cost(t *testing.T) {
	e := Estimator{}

	assert.InDelta(t, 0.006, e.Cost("whisper", 60), 1e-9)
	assert.InDelta(t, 0.01, e.Cost("unknown", 30), 1e-9)
}
