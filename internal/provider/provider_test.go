package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewStatic("static", "hi", 0), NewWhisper(WhisperConfig{}))

	assert.Equal(t, []string{"static", "whisper"}, r.Names())
	assert.True(t, r.Has("whisper"))

	p, err := r.Get("static")
	require.NoError(t, err)
	assert.Equal(t, "static", p.Name())

	_, err = r.Get("aws")
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindUnknownProvider, perr.Kind)
	assert.Equal(t, `unknown transcription provider "aws"`, perr.Message())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "typed error kept", err: fmt.Errorf("wrapped: %w", &Error{Provider: "p", Kind: KindRateLimit}), kind: KindRateLimit},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), kind: KindTimeout},
		{name: "anything else", err: errors.New("connection reset"), kind: KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Classify("p", tt.err).Kind)
		})
	}
}

func TestErrorMessagesAreDistinct(t *testing.T) {
	kinds := []Kind{KindAuth, KindRateLimit, KindMalformedInput, KindTimeout, KindUnavailable, KindUnknownProvider}

	seen := make(map[string]Kind)
	for _, k := range kinds {
		msg := (&Error{Provider: "whisper", Kind: k}).Message()
		prev, dup := seen[msg]
		assert.False(t, dup, "%s and %s share a message", k, prev)
		seen[msg] = k
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		provider string
		seconds  float64
		want     float64
	}{
		{provider: "aws", seconds: 60, want: 0.024},
		{provider: "azure", seconds: 120, want: 0.032},
		{provider: "gcp", seconds: 30, want: 0.009},
		{provider: "whisper", seconds: 600, want: 0.06},
		{provider: "static", seconds: 60, want: DefaultCostPerMinute},
		{provider: "aws", seconds: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateCost(tt.provider, tt.seconds), 1e-9)
		})
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic("", "one two three", 20*time.Millisecond)

	var reported []int
	out, err := s.Transcribe(context.Background(), Request{Language: "en", IncludeTimestamps: true}, func(p int) {
		reported = append(reported, p)
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", out.Text)
	assert.Len(t, out.Words, 3)
	assert.Equal(t, []int{20, 40, 60, 80}, reported)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Transcribe(ctx, Request{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
