package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/fetch"
)

// ElevenLabs defaults.
const (
	ElevenLabsName            = "elevenlabs"
	DefaultElevenLabsEndpoint = "https://api.elevenlabs.io/v1/text-to-speech"
	DefaultElevenLabsModel    = "eleven_multilingual_v2"
	headerElevenLabsKey       = "xi-api-key"
)

var elevenLabsFormats = map[core.AudioEncoding]string{
	core.EncodingMP3:      "mp3_44100_128",
	core.EncodingOggOpus:  "opus_48000_64",
	core.EncodingLinear16: "pcm_24000",
}

// ElevenLabsRequest is the JSON payload of a text-to-speech call.
type ElevenLabsRequest struct {
	Text         string `json:"text"`
	ModelID      string `json:"model_id"`
	LanguageCode string `json:"language_code,omitempty"`
}

// ElevenLabs synthesizes speech with the ElevenLabs API, which answers with raw audio.
type ElevenLabs struct {
	fetcher  *fetch.Fetcher
	endpoint string
	apiKey   string
	modelID  string
}

// NewElevenLabs creates an ElevenLabs provider. Empty endpoint and model use defaults.
func NewElevenLabs(fetcher *fetch.Fetcher, endpoint, apiKey, modelID string) *ElevenLabs {
	if endpoint == "" {
		endpoint = DefaultElevenLabsEndpoint
	}

	if modelID == "" {
		modelID = DefaultElevenLabsModel
	}

	return &ElevenLabs{
		fetcher:  fetcher,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		modelID:  modelID,
	}
}

// Name returns the provider name.
func (e *ElevenLabs) Name() string {
	return ElevenLabsName
}

// Synthesize posts the text to the voice endpoint and returns the audio body.
func (e *ElevenLabs) Synthesize(ctx context.Context, req core.SynthesisRequest) (*core.Audio, error) {
	if e.apiKey == "" {
		return nil, core.NewError(core.KindConfigurationError, "elevenlabs API key is missing", ErrMissingAPIKey)
	}

	payload, err := json.Marshal(ElevenLabsRequest{
		Text:         req.Text,
		ModelID:      e.modelID,
		LanguageCode: languageOnly(req.LanguageCode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	target := fmt.Sprintf("%s/%s?output_format=%s", e.endpoint, url.PathEscape(req.Voice),
		url.QueryEscape(elevenLabsFormats[req.AudioEncoding]))
	contentType := req.AudioEncoding.ContentType()

	resp, err := e.fetcher.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if buildErr != nil {
			return nil, fmt.Errorf("failed to create request: %w", buildErr)
		}

		httpReq.Header.Set(headerElevenLabsKey, e.apiKey)
		httpReq.Header.Set(headerContentType, contentTypeJSON)
		httpReq.Header.Set(headerAccept, contentType)

		return httpReq, nil
	})
	if err != nil {
		return nil, core.NewError(core.KindUpstreamFailure, "elevenlabs request failed", err).
			WithDetails(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, upstreamStatusError(ElevenLabsName, resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError(core.KindUpstreamFailure, "failed to read elevenlabs audio", err)
	}

	if len(audio) == 0 {
		return nil, core.NewError(core.KindUpstreamFailure, "elevenlabs returned empty audio", ErrEmptyAudioContent)
	}

	if upstreamType := strings.TrimSpace(resp.Header.Get(headerContentType)); upstreamType != "" {
		contentType = upstreamType
	}

	return &core.Audio{Data: audio, ContentType: contentType}, nil
}

// languageOnly turns "sv-SE" into "sv", the ISO 639-1 form ElevenLabs expects.
func languageOnly(code string) string {
	language, _, _ := strings.Cut(code, "-")

	return strings.ToLower(language)
}
