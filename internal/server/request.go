package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/book-expert/story-tts-service/internal/core"
)

// Request limits.
const (
	maxBodyBytes      = 64 << 10
	maxMultipartBytes = 1 << 20
	// MaxTextBytes matches the per-request input ceiling of the upstream providers.
	MaxTextBytes = 5000
)

// Field names accepted in JSON bodies, forms and query strings.
const (
	fieldText          = "text"
	fieldVoice         = "voice"
	fieldLanguage      = "language"
	fieldLanguageCode  = "languageCode"
	fieldAudioEncoding = "audioEncoding"
)

// Static errors.
var (
	ErrMissingText   = errors.New("text is required")
	ErrTextTooLong   = errors.New("text is too long")
	ErrMalformedBody = errors.New("malformed request body")
)

// ParsedRequest is the typed result of reading a synthesis request from JSON, form
// data or query parameters.
type ParsedRequest struct {
	Text          string `json:"text"`
	Voice         string `json:"voice,omitempty"`
	Language      string `json:"language,omitempty"`
	LanguageCode  string `json:"languageCode,omitempty"`
	AudioEncoding string `json:"audioEncoding,omitempty"`
}

// SynthesisRequest converts the parsed input into the core request.
func (p ParsedRequest) SynthesisRequest() core.SynthesisRequest {
	language := p.LanguageCode
	if language == "" {
		language = p.Language
	}

	var encoding core.AudioEncoding
	if p.AudioEncoding != "" {
		encoding = core.ParseAudioEncoding(p.AudioEncoding)
	}

	return core.SynthesisRequest{
		Text:          p.Text,
		Voice:         strings.TrimSpace(p.Voice),
		LanguageCode:  strings.TrimSpace(language),
		AudioEncoding: encoding,
	}
}

// ParseRequest reads a synthesis request. Body fields win over query parameters,
// which fill only what the body left empty.
func ParseRequest(r *http.Request) (ParsedRequest, error) {
	var parsed ParsedRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		err := parseForm(r, &parsed)
		if err != nil {
			return ParsedRequest{}, err
		}
	default:
		err := parseJSON(r, &parsed)
		if err != nil {
			return ParsedRequest{}, err
		}
	}

	fillFromQuery(r, &parsed)

	if strings.TrimSpace(parsed.Text) == "" {
		return ParsedRequest{}, core.NewError(core.KindInvalidInput, "text is required", ErrMissingText)
	}

	if len(parsed.Text) > MaxTextBytes {
		return ParsedRequest{}, core.NewError(core.KindInvalidInput,
			fmt.Sprintf("text exceeds %d bytes", MaxTextBytes), ErrTextTooLong)
	}

	return parsed, nil
}

func parseJSON(r *http.Request, parsed *ParsedRequest) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))

	err := decoder.Decode(parsed)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return core.NewError(core.KindInvalidInput, "invalid JSON body", errors.Join(ErrMalformedBody, err)).
			WithDetails(err.Error())
	}

	return nil
}

func parseForm(r *http.Request, parsed *ParsedRequest) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxMultipartBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err = r.ParseMultipartForm(maxMultipartBytes)
	} else {
		err = r.ParseForm()
	}

	if err != nil {
		return core.NewError(core.KindInvalidInput, "invalid form body", errors.Join(ErrMalformedBody, err)).
			WithDetails(err.Error())
	}

	parsed.Text = r.PostFormValue(fieldText)
	parsed.Voice = r.PostFormValue(fieldVoice)
	parsed.Language = r.PostFormValue(fieldLanguage)
	parsed.LanguageCode = r.PostFormValue(fieldLanguageCode)
	parsed.AudioEncoding = r.PostFormValue(fieldAudioEncoding)

	return nil
}

func fillFromQuery(r *http.Request, parsed *ParsedRequest) {
	query := r.URL.Query()

	fill := func(field *string, name string) {
		if *field == "" {
			*field = query.Get(name)
		}
	}

	fill(&parsed.Text, fieldText)
	fill(&parsed.Voice, fieldVoice)
	fill(&parsed.Language, fieldLanguage)
	fill(&parsed.LanguageCode, fieldLanguageCode)
	fill(&parsed.AudioEncoding, fieldAudioEncoding)
}
