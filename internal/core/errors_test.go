package core_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream said no")

func TestKindOf_WrappedError(t *testing.T) {
	t.Parallel()

	base := core.NewError(core.KindUpstreamFailure, "synthesis failed", errUpstream)
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, core.KindUpstreamFailure, core.KindOf(wrapped))
	require.ErrorIs(t, wrapped, errUpstream)
	assert.Equal(t, core.KindUnknown, core.KindOf(errUpstream))
}

func TestKind_HTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[core.Kind]int{
		core.KindInvalidInput:       http.StatusBadRequest,
		core.KindQuotaExceeded:      http.StatusTooManyRequests,
		core.KindUpstreamFailure:    http.StatusBadGateway,
		core.KindConfigurationError: http.StatusInternalServerError,
		core.KindStoreUnavailable:   http.StatusInternalServerError,
	}

	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}

func TestTruncateDetails_RuneBoundary(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ä", core.MaxDetailBytes)

	got := core.TruncateDetails(long)

	assert.LessOrEqual(t, len(got), core.MaxDetailBytes)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "short", core.TruncateDetails("short"))
}

func TestParseAudioEncoding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, core.EncodingMP3, core.ParseAudioEncoding(""))
	assert.Equal(t, core.EncodingOggOpus, core.ParseAudioEncoding("ogg_opus"))
	assert.Equal(t, core.EncodingLinear16, core.ParseAudioEncoding(" LINEAR16 "))
	assert.Equal(t, "mp3", core.EncodingMP3.Extension())
	assert.Equal(t, core.ContentTypeWAV, core.EncodingLinear16.ContentType())
}
