// Package provider adapts upstream text-to-speech APIs to core.SynthesisProvider.
// Every call goes through a fetch.Fetcher so transient failures are retried.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/fetch"
)

// Google Cloud Text-to-Speech endpoint and provider name.
const (
	GoogleName            = "google"
	DefaultGoogleEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	errorBodyLimit    = 8 << 10
)

// Static errors.
var (
	ErrMissingAPIKey     = errors.New("provider API key is not configured")
	ErrEmptyAudioContent = errors.New("provider response contained no audio")
	ErrUpstreamStatus    = errors.New("provider returned non-OK status")
)

// GoogleRequest is the JSON payload of a text:synthesize call.
type GoogleRequest struct {
	Input       GoogleInput       `json:"input"`
	Voice       GoogleVoice       `json:"voice"`
	AudioConfig GoogleAudioConfig `json:"audioConfig"`
}

// GoogleInput holds the text to synthesize.
type GoogleInput struct {
	Text string `json:"text"`
}

// GoogleVoice selects the voice by language and name.
type GoogleVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

// GoogleAudioConfig selects the output encoding.
type GoogleAudioConfig struct {
	AudioEncoding string `json:"audioEncoding"`
}

// GoogleResponse carries base64-encoded audio.
type GoogleResponse struct {
	AudioContent string `json:"audioContent"`
}

// Google synthesizes speech with Google Cloud Text-to-Speech.
type Google struct {
	fetcher  *fetch.Fetcher
	endpoint string
	apiKey   string
}

// NewGoogle creates a Google provider. An empty endpoint uses the public API.
func NewGoogle(fetcher *fetch.Fetcher, endpoint, apiKey string) *Google {
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}

	return &Google{
		fetcher:  fetcher,
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

// Name returns the provider name.
func (g *Google) Name() string {
	return GoogleName
}

// Synthesize calls text:synthesize and decodes the base64 audio payload.
func (g *Google) Synthesize(ctx context.Context, req core.SynthesisRequest) (*core.Audio, error) {
	if g.apiKey == "" {
		return nil, core.NewError(core.KindConfigurationError, "google text-to-speech API key is missing",
			ErrMissingAPIKey)
	}

	payload, err := json.Marshal(GoogleRequest{
		Input: GoogleInput{Text: req.Text},
		Voice: GoogleVoice{
			LanguageCode: req.LanguageCode,
			Name:         req.Voice,
		},
		AudioConfig: GoogleAudioConfig{AudioEncoding: string(req.AudioEncoding)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	target := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)

	resp, err := g.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if buildErr != nil {
			return nil, fmt.Errorf("failed to create request: %w", buildErr)
		}

		httpReq.Header.Set(headerContentType, contentTypeJSON)
		httpReq.Header.Set(headerAccept, contentTypeJSON)

		return httpReq, nil
	})
	if err != nil {
		redacted := redactKey(err, g.apiKey)

		return nil, core.NewError(core.KindUpstreamFailure, "google text-to-speech request failed", redacted).
			WithDetails(redacted.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamStatusError(GoogleName, resp)
	}

	var decoded GoogleResponse

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return nil, core.NewError(core.KindUpstreamFailure, "failed to decode google response", err)
	}

	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, core.NewError(core.KindUpstreamFailure, "failed to decode google audio content", err)
	}

	if len(audio) == 0 {
		return nil, core.NewError(core.KindUpstreamFailure, "google returned empty audio", ErrEmptyAudioContent)
	}

	return &core.Audio{Data: audio, ContentType: req.AudioEncoding.ContentType()}, nil
}

// upstreamStatusError reads a bounded error body and classifies it as an upstream
// failure with truncated details.
func upstreamStatusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = resp.Status
	}

	return core.NewError(core.KindUpstreamFailure,
		fmt.Sprintf("%s returned status %d", name, resp.StatusCode),
		fmt.Errorf("%w: %s", ErrUpstreamStatus, resp.Status)).
		WithDetails(detail)
}

// redactKey keeps the API key out of logged network errors, which include the URL.
func redactKey(err error, apiKey string) error {
	escaped := url.QueryEscape(apiKey)
	if apiKey == "" || !strings.Contains(err.Error(), escaped) {
		return err
	}

	return errors.New(strings.ReplaceAll(err.Error(), escaped, "REDACTED"))
}
