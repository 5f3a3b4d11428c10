package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultWhisperURL   = "https://api.openai.com/v1"
	DefaultWhisperModel = "whisper-1"
)

// WhisperConfig configures an OpenAI compatible transcription endpoint
type WhisperConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Whisper talks to POST {base}/audio/transcriptions
type Whisper struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewWhisper creates a Whisper provider
func NewWhisper(cfg WhisperConfig) *Whisper {
	name := cfg.Name
	if name == "" {
		name = "whisper"
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultWhisperURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultWhisperModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Whisper{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		client:  client,
	}
}

func (w *Whisper) Name() string  { return w.name }
func (w *Whisper) Model() string { return w.model }

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe uploads the audio and maps the verbose_json response
func (w *Whisper) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (*Transcript, error) {
	body, contentType, err := w.buildForm(req)
	if err != nil {
		return nil, &Error{Provider: w.name, Kind: KindMalformedInput, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, &Error{Provider: w.name, Kind: KindUnavailable, Err: err}
	}
	httpReq.Header.Set("Content-Type", contentType)
	if w.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	report(progress, 10)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Provider: w.name, Kind: KindTimeout, Err: err}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Provider: w.name, Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Provider: w.name,
			Kind:     kindForStatus(resp.StatusCode),
			Err:      fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b))),
		}
	}

	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, &Error{Provider: w.name, Kind: KindUnavailable, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	report(progress, 90)

	return w.toTranscript(wr, req), nil
}

func (w *Whisper) buildForm(req Request) (io.Reader, string, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"model":           w.model,
		"response_format": "verbose_json",
	}
	if req.Language != "" && req.Language != "auto" {
		fields["language"] = req.Language
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if req.IncludeTimestamps {
		if err := mw.WriteField("timestamp_granularities[]", "word"); err != nil {
			return nil, "", err
		}
		if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
			return nil, "", err
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.AudioPath)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", fmt.Errorf("failed to read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func (w *Whisper) toTranscript(wr whisperResponse, req Request) *Transcript {
	t := &Transcript{
		Text:          strings.TrimSpace(wr.Text),
		Language:      wr.Language,
		Duration:      wr.Duration,
		EngineVersion: w.model,
	}
	if t.Language == "" {
		t.Language = req.Language
	}

	for _, word := range wr.Words {
		t.Words = append(t.Words, Word{Word: strings.TrimSpace(word.Word), Start: word.Start, End: word.End})
	}

	// verbose_json has no per-word confidence; average segment probability stands in
	if len(wr.Segments) > 0 {
		var sum float64
		for _, s := range wr.Segments {
			sum += math.Exp(s.AvgLogprob)
		}
		conf := math.Min(1, math.Max(0, sum/float64(len(wr.Segments))))
		t.Confidence = &conf
	}
	return t
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnsupportedMediaType ||
		status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
		return KindMalformedInput
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindUnavailable
	}
}

func report(progress ProgressFunc, percent int) {
	if progress != nil {
		progress(percent)
	}
}
