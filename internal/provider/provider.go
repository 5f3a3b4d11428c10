package provider

import (
	"context"
	"sort"

	"github.com/cuongbtq/speech-jobs/internal/domain"
)

// Request is what a provider needs to transcribe one file
type Request struct {
	AudioPath         string
	Filename          string
	Language          string
	EnableDiarization bool
	MaxSpeakers       int
	IncludeTimestamps bool
}

// Word is a timed word as reported by a provider
type Word struct {
	Word       string
	Start      float64
	End        float64
	Confidence *float64
	Speaker    string
}

// Transcript is the raw provider output
type Transcript struct {
	Text          string
	Language      string
	Confidence    *float64
	Duration      float64 // seconds, 0 when the provider does not report it
	Words         []Word
	Segments      []domain.SpeakerSegment
	EngineVersion string
}

// ProgressFunc receives provider reported completion in percent
type ProgressFunc func(percent int)

// Provider is an opaque speech-to-text backend
type Provider interface {
	Name() string
	Model() string
	Transcribe(ctx context.Context, req Request, progress ProgressFunc) (*Transcript, error)
}

// Registry resolves providers by name
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes the given providers by Name
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider or an unknown_provider error
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &Error{Provider: name, Kind: KindUnknownProvider}
	}
	return p, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Names lists registered providers in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
