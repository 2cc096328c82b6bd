// Package core defines the collaborator interfaces and value types shared by the
// TTS cache, its storage adapters, and its synthesis providers.
package core

import (
	"context"
	"strings"
)

// AudioEncoding names the audio container requested from a provider.
type AudioEncoding string

// Supported audio encodings.
const (
	EncodingMP3      AudioEncoding = "MP3"
	EncodingOggOpus  AudioEncoding = "OGG_OPUS"
	EncodingLinear16 AudioEncoding = "LINEAR16"
)

// Content types and extensions for each encoding.
const (
	ContentTypeMPEG = "audio/mpeg"
	ContentTypeOgg  = "audio/ogg"
	ContentTypeWAV  = "audio/wav"
)

// ParseAudioEncoding maps a case-insensitive name to a supported encoding.
// Unknown or empty names fall back to MP3.
func ParseAudioEncoding(name string) AudioEncoding {
	switch AudioEncoding(strings.ToUpper(strings.TrimSpace(name))) {
	case EncodingOggOpus:
		return EncodingOggOpus
	case EncodingLinear16:
		return EncodingLinear16
	default:
		return EncodingMP3
	}
}

// Extension returns the file extension used in cache keys.
func (e AudioEncoding) Extension() string {
	switch e {
	case EncodingOggOpus:
		return "ogg"
	case EncodingLinear16:
		return "wav"
	default:
		return "mp3"
	}
}

// ContentType returns the MIME type served for the encoding.
func (e AudioEncoding) ContentType() string {
	switch e {
	case EncodingOggOpus:
		return ContentTypeOgg
	case EncodingLinear16:
		return ContentTypeWAV
	default:
		return ContentTypeMPEG
	}
}

// SynthesisRequest is the typed input of a single synthesis. It is built per request
// and never persisted.
type SynthesisRequest struct {
	Text          string
	Voice         string
	LanguageCode  string
	AudioEncoding AudioEncoding
}

// Audio is a synthesized or cached audio payload.
type Audio struct {
	Data        []byte
	ContentType string
}

// BlobStore is a content-addressable store of binary audio objects.
//
// Get returns (nil, nil) when the key does not exist and an error only on transport
// failure. Put overwrites the whole object.
type BlobStore interface {
	Get(ctx context.Context, key string) (*Audio, error)
	Put(ctx context.Context, key string, audio Audio) error
}

// UsageLedger keeps bucketed synthesis counters. Get returns 0 for an absent bucket.
type UsageLedger interface {
	Get(ctx context.Context, bucketKey string) (int64, error)
	Increment(ctx context.Context, bucketKey string) error
}

// SynthesisProvider calls an upstream text-to-speech API.
type SynthesisProvider interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) (*Audio, error)
}

// ObjectStore defines the interface for interacting with a key-value blob store of
// raw pipeline objects, such as the text pages the worker turns into audio.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
