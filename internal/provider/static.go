package provider

import (
	"context"
	"strings"
	"time"
)

// Static returns a fixed transcript after a delay. Useful for local runs
// without provider credentials.
type Static struct {
	name  string
	text  string
	delay time.Duration
}

// NewStatic creates a provider that always answers text after delay
func NewStatic(name, text string, delay time.Duration) *Static {
	if name == "" {
		name = "static"
	}
	return &Static{name: name, text: text, delay: delay}
}

func (s *Static) Name() string  { return s.name }
func (s *Static) Model() string { return "static" }

// Transcribe waits for the configured delay, reporting progress along the way
func (s *Static) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (*Transcript, error) {
	const steps = 4

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay / steps):
		}
		report(progress, i*100/(steps+1))
	}

	words := strings.Fields(s.text)
	out := &Transcript{
		Text:          s.text,
		Language:      req.Language,
		Duration:      float64(len(words)) * 0.5,
		EngineVersion: "static",
	}
	if req.IncludeTimestamps {
		for i, w := range words {
			start := float64(i) * 0.5
			out.Words = append(out.Words, Word{Word: w, Start: start, End: start + 0.4})
		}
	}
	return out, nil
}
