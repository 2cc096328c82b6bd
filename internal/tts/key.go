// Package tts implements the content-addressable TTS cache: cache key derivation
// and the orchestrator that prefers stored audio over fresh synthesis.
package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache key defaults.
const (
	DefaultNamespace = "tts"
	DefaultExtension = "mp3"
	keySeparator     = "||"
)

// BuildKey derives the cache key "<namespace>/<sha256 hex>.<ext>" for normalized text,
// a voice and optional extra tags. The digest input is the UTF-8 join of
// normalizedText, voice and extra with "||". Empty namespace or ext fall back to the
// defaults. The text is not validated here.
func BuildKey(normalizedText, voice, namespace, ext string, extra ...string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	if ext == "" {
		ext = DefaultExtension
	}

	parts := make([]string, 0, len(extra)+2)
	parts = append(parts, normalizedText, voice)
	parts = append(parts, extra...)

	digest := sha256.Sum256([]byte(strings.Join(parts, keySeparator)))

	return namespace + "/" + hex.EncodeToString(digest[:]) + "." + ext
}

// Period selects the granularity of usage buckets.
type Period string

// Supported usage periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// BucketKey returns the usage bucket for t, e.g. "tts-2026-10-14" for a daily period
// or "tts-2026-10" for a monthly one. Buckets are computed in UTC.
func BucketKey(prefix string, period Period, t time.Time) string {
	if prefix == "" {
		prefix = DefaultNamespace
	}

	layout := "2006-01-02"
	if period == PeriodMonth {
		layout = "2006-01"
	}

	return prefix + "-" + t.UTC().Format(layout)
}
