package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0o600))
	return path
}

func TestWhisper_Transcribe(t *testing.T) {
	var gotAuth, gotModel, gotFormat, gotFilename string
	var gotGranularities []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotAuth = r.Header.Get("Authorization")
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		gotGranularities = r.MultipartForm.Value["timestamp_granularities[]"]
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotFilename = header.Filename

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": " hello world ",
			"language": "english",
			"duration": 2.5,
			"words": [{"word": "hello", "start": 0.0, "end": 0.6}, {"word": "world", "start": 0.7, "end": 1.2}],
			"segments": [{"start": 0, "end": 1.2, "text": "hello world", "avg_logprob": -0.1}]
		}`))
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "whisper-1"})

	var reported []int
	out, err := w.Transcribe(context.Background(), Request{
		AudioPath:         writeAudio(t),
		Filename:          "meeting.wav",
		Language:          "en",
		IncludeTimestamps: true,
	}, func(p int) { reported = append(reported, p) })
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "verbose_json", gotFormat)
	assert.Equal(t, []string{"word", "segment"}, gotGranularities)
	assert.Equal(t, "meeting.wav", gotFilename)

	assert.Equal(t, "hello world", out.Text)
	assert.Equal(t, "english", out.Language)
	assert.Equal(t, 2.5, out.Duration)
	require.Len(t, out.Words, 2)
	assert.Equal(t, "world", out.Words[1].Word)
	require.NotNil(t, out.Confidence)
	assert.InDelta(t, 0.905, *out.Confidence, 0.001)
	assert.Equal(t, []int{10, 90}, reported)
}

func TestWhisper_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{status: http.StatusUnauthorized, kind: KindAuth},
		{status: http.StatusForbidden, kind: KindAuth},
		{status: http.StatusTooManyRequests, kind: KindRateLimit},
		{status: http.StatusBadRequest, kind: KindMalformedInput},
		{status: http.StatusUnsupportedMediaType, kind: KindMalformedInput},
		{status: http.StatusGatewayTimeout, kind: KindTimeout},
		{status: http.StatusInternalServerError, kind: KindUnavailable},
		{status: http.StatusServiceUnavailable, kind: KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			w := NewWhisper(WhisperConfig{BaseURL: srv.URL})
			_, err := w.Transcribe(context.Background(), Request{AudioPath: writeAudio(t)}, nil)
			require.Error(t, err)

			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, "whisper", perr.Provider)
			assert.NotEmpty(t, perr.Message())
		})
	}
}

func TestWhisper_MissingAudio(t *testing.T) {
	w := NewWhisper(WhisperConfig{BaseURL: "http://127.0.0.1:1"})

	_, err := w.Transcribe(context.Background(), Request{AudioPath: "/does/not/exist.wav"}, nil)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindMalformedInput, perr.Kind)
}

func TestWhisper_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	w := NewWhisper(WhisperConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Transcribe(ctx, Request{AudioPath: writeAudio(t)}, nil)
	assert.Equal(t, KindTimeout, Classify("whisper", err).Kind)
}
