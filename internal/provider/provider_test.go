package provider_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/fetch"
	"github.com/book-expert/story-tts-service/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey = "test-key"
	testVoice  = "sv-SE-Wavenet-A"
)

func noWait(context.Context, time.Duration) error {
	return nil
}

func testFetcher(server *httptest.Server) *fetch.Fetcher {
	return fetch.New(server.Client(), fetch.WithMaxRetries(3), fetch.WithSleep(noWait))
}

func swedishRequest() core.SynthesisRequest {
	return core.SynthesisRequest{
		Text:          "Det var en gång en räv.",
		Voice:         testVoice,
		LanguageCode:  "sv-SE",
		AudioEncoding: core.EncodingMP3,
	}
}

func TestGoogle_Synthesize_Success(t *testing.T) {
	t.Parallel()

	audio := []byte("fake-mp3-data")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, testAPIKey, r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload provider.GoogleRequest

		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)
		assert.Equal(t, "Det var en gång en räv.", payload.Input.Text)
		assert.Equal(t, "sv-SE", payload.Voice.LanguageCode)
		assert.Equal(t, testVoice, payload.Voice.Name)
		assert.Equal(t, "MP3", payload.AudioConfig.AudioEncoding)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(provider.GoogleResponse{
			AudioContent: base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer server.Close()

	google := provider.NewGoogle(testFetcher(server), server.URL, testAPIKey)

	result, err := google.Synthesize(context.Background(), swedishRequest())
	require.NoError(t, err)
	assert.Equal(t, audio, result.Data)
	assert.Equal(t, core.ContentTypeMPEG, result.ContentType)
	assert.Equal(t, provider.GoogleName, google.Name())
}

func TestGoogle_Synthesize_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_ = json.NewEncoder(w).Encode(provider.GoogleResponse{
			AudioContent: base64.StdEncoding.EncodeToString([]byte("ok")),
		})
	}))
	defer server.Close()

	google := provider.NewGoogle(testFetcher(server), server.URL, testAPIKey)

	result, err := google.Synthesize(context.Background(), swedishRequest())
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGoogle_Synthesize_UpstreamErrorTruncated(t *testing.T) {
	t.Parallel()

	hugeBody := strings.Repeat("x", 4*core.MaxDetailBytes)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(hugeBody))
	}))
	defer server.Close()

	google := provider.NewGoogle(testFetcher(server), server.URL, testAPIKey)

	_, err := google.Synthesize(context.Background(), swedishRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindUpstreamFailure, core.KindOf(err))
	require.ErrorIs(t, err, provider.ErrUpstreamStatus)

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Len(t, coreErr.Details, core.MaxDetailBytes)
}

func TestGoogle_Synthesize_MissingKey(t *testing.T) {
	t.Parallel()

	google := provider.NewGoogle(fetch.New(nil), "", "")

	_, err := google.Synthesize(context.Background(), swedishRequest())
	require.ErrorIs(t, err, provider.ErrMissingAPIKey)
	assert.Equal(t, core.KindConfigurationError, core.KindOf(err))
}

func TestGoogle_Synthesize_EmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"audioContent":""}`))
	}))
	defer server.Close()

	google := provider.NewGoogle(testFetcher(server), server.URL, testAPIKey)

	_, err := google.Synthesize(context.Background(), swedishRequest())
	require.ErrorIs(t, err, provider.ErrEmptyAudioContent)
}

func TestElevenLabs_Synthesize_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+testVoice, r.URL.Path)
		assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))
		assert.Equal(t, testAPIKey, r.Header.Get("xi-api-key"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var payload provider.ElevenLabsRequest

		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)
		assert.Equal(t, provider.DefaultElevenLabsModel, payload.ModelID)
		assert.Equal(t, "sv", payload.LanguageCode)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("raw-mp3"))
	}))
	defer server.Close()

	elevenLabs := provider.NewElevenLabs(testFetcher(server), server.URL+"/", testAPIKey, "")

	result, err := elevenLabs.Synthesize(context.Background(), swedishRequest())
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-mp3"), result.Data)
	assert.Equal(t, "audio/mpeg", result.ContentType)
}

func TestElevenLabs_Synthesize_Unauthorized(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer server.Close()

	elevenLabs := provider.NewElevenLabs(testFetcher(server), server.URL, testAPIKey, "")

	_, err := elevenLabs.Synthesize(context.Background(), swedishRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindUpstreamFailure, core.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Contains(t, coreErr.Details, "invalid api key")
}

func closedServerURL(t *testing.T) string {
	t.Helper()

	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	return serverURL
}

func TestGoogle_Synthesize_NetworkFailureCarriesRedactedDetails(t *testing.T) {
	t.Parallel()

	fetcher := fetch.New(&http.Client{Timeout: time.Second}, fetch.WithMaxRetries(1), fetch.WithSleep(noWait))
	google := provider.NewGoogle(fetcher, closedServerURL(t), testAPIKey)

	_, err := google.Synthesize(context.Background(), swedishRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindUpstreamFailure, core.KindOf(err))

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.NotEmpty(t, coreErr.Details)
	assert.NotContains(t, coreErr.Details, testAPIKey)
	assert.Contains(t, coreErr.Details, "REDACTED")
}

func TestElevenLabs_Synthesize_NetworkFailureCarriesDetails(t *testing.T) {
	t.Parallel()

	fetcher := fetch.New(&http.Client{Timeout: time.Second}, fetch.WithMaxRetries(1), fetch.WithSleep(noWait))
	elevenLabs := provider.NewElevenLabs(fetcher, closedServerURL(t), testAPIKey, "")

	_, err := elevenLabs.Synthesize(context.Background(), swedishRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindUpstreamFailure, core.KindOf(err))

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.NotEmpty(t, coreErr.Details)
	assert.NotContains(t, coreErr.Details, testAPIKey)
}
