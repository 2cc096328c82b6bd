package tts_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/book-expert/story-tts-service/internal/tts"
	"github.com/book-expert/story-tts-service/internal/tts/text"
	"github.com/stretchr/testify/assert"
)

const testVoice = "sv-SE-Wavenet-A"

func TestBuildKey_SwedishScenario(t *testing.T) {
	t.Parallel()

	normalized := text.Normalize("  Hej   värLden! \r\n")
	digest := sha256.Sum256([]byte("hej världen!||sv-SE-Wavenet-A"))
	expected := "tts/" + hex.EncodeToString(digest[:]) + ".mp3"

	assert.Equal(t, "hej världen!", normalized)
	assert.Equal(t, expected, tts.BuildKey(normalized, testVoice, "", ""))
	assert.Equal(t, expected, tts.BuildKey(normalized, testVoice, "tts", "mp3"))
}

func TestBuildKey_Deterministic(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"Det var en gång", "  det VAR\r\nen   gång "},
		{"Hej", "hej\n"},
		{"a  b", "A\tB"},
	}

	for _, pair := range pairs {
		first := tts.BuildKey(text.Normalize(pair[0]), testVoice, "", "")
		second := tts.BuildKey(text.Normalize(pair[1]), testVoice, "", "")
		assert.Equal(t, first, second, "pair %q", pair)
	}
}

func TestBuildKey_Sensitivity(t *testing.T) {
	t.Parallel()

	normalized := text.Normalize("Det var en gång en liten räv")

	base := tts.BuildKey(normalized, testVoice, "", "")

	assert.NotEqual(t, base, tts.BuildKey(normalized, "sv-SE-Wavenet-B", "", ""))
	assert.NotEqual(t, base, tts.BuildKey(normalized+"!", testVoice, "", ""))
	assert.NotEqual(t, base, tts.BuildKey(normalized, testVoice, "", "", "sv-SE"))
	assert.NotEqual(t, base, tts.BuildKey(normalized, testVoice, "stories", ""))
	assert.Regexp(t, `^tts/[0-9a-f]{64}\.ogg$`, tts.BuildKey(normalized, testVoice, "", "ogg"))
}

func TestBucketKey(t *testing.T) {
	t.Parallel()

	moment := time.Date(2026, time.October, 14, 23, 30, 0, 0, time.FixedZone("CEST", 2*60*60))

	assert.Equal(t, "tts-2026-10-14", tts.BucketKey("tts", tts.PeriodDay, moment))
	assert.Equal(t, "usage-2026-10", tts.BucketKey("usage", tts.PeriodMonth, moment))
	assert.Equal(t, "tts-2026-10-14", tts.BucketKey("", "", moment))
}
