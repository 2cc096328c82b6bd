package main

import (
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-tts-service/internal/config"
	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrchestrator_UsesConfiguredEncoding(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte("[tts_service]\naudio_encoding = \"OGG_OPUS\"\n"), func(string) string {
		return ""
	})
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	orchestrator := newOrchestrator(cfg, &backends{}, log)

	key := orchestrator.KeyFor(core.SynthesisRequest{Text: "hej", Voice: "", LanguageCode: "", AudioEncoding: ""})
	assert.True(t, strings.HasPrefix(key, "tts/"))
	assert.True(t, strings.HasSuffix(key, ".ogg"), key)
}
