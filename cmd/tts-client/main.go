// Command tts-client requests story audio from a running tts-service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Flag names and descriptions.
const (
	flagServer        = "server"
	flagText          = "text"
	flagVoice         = "voice"
	flagEncoding      = "encoding"
	flagOutput        = "output"
	flagTimeout       = "timeout"
	flagServerDesc    = "Base URL of the TTS service"
	flagTextDesc      = "Text to convert to speech"
	flagVoiceDesc     = "Voice name (defaults to the service default)"
	flagEncodingDesc  = "Audio encoding: MP3, OGG_OPUS or LINEAR16"
	flagOutputDesc    = "Output audio file path"
	flagTimeoutDesc   = "Request timeout"
	defaultServerURL  = "http://localhost:8080"
	defaultOutputFile = "output.mp3"
	defaultTimeout    = 90 * time.Second
	errorBodyLimit    = 8 << 10
)

// Output messages.
const (
	msgGenerated = "Wrote %d bytes to %s (source: %s, key: %s)\n"
	msgHealthy   = "TTS service is healthy"
)

var (
	errTextRequired = errors.New("--text is required")
	errUnhealthy    = errors.New("TTS service is not healthy")
)

// clientFlags holds the parsed command-line flag values.
type clientFlags struct {
	server   string
	text     string
	voice    string
	encoding string
	output   string
	timeout  time.Duration
}

type speakRequest struct {
	Text          string `json:"text"`
	Voice         string `json:"voice,omitempty"`
	AudioEncoding string `json:"audioEncoding,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var flags clientFlags

	rootCmd := &cobra.Command{
		Use:           "tts-client",
		Short:         "Client for the story TTS cache service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.server, flagServer, defaultServerURL, flagServerDesc)
	rootCmd.PersistentFlags().DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	speakCmd := &cobra.Command{
		Use:   "speak",
		Short: "Synthesize text and write the audio to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return speak(cmd.Context(), out, flags)
		},
	}

	speakCmd.Flags().StringVarP(&flags.text, flagText, "t", "", flagTextDesc)
	speakCmd.Flags().StringVarP(&flags.voice, flagVoice, "v", "", flagVoiceDesc)
	speakCmd.Flags().StringVarP(&flags.encoding, flagEncoding, "e", "", flagEncodingDesc)
	speakCmd.Flags().StringVarP(&flags.output, flagOutput, "o", defaultOutputFile, flagOutputDesc)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check TTS service health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return health(cmd.Context(), out, flags)
		},
	}

	rootCmd.AddCommand(speakCmd, healthCmd)

	return rootCmd
}

func speak(ctx context.Context, out io.Writer, flags clientFlags) error {
	if strings.TrimSpace(flags.text) == "" {
		return errTextRequired
	}

	payload, err := json.Marshal(speakRequest{
		Text:          flags.text,
		Voice:         flags.voice,
		AudioEncoding: flags.encoding,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(flags.server, "/api/tts"),
		bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: flags.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}

	err = writeOutput(flags.output, audio)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, msgGenerated, len(audio), flags.output,
		resp.Header.Get("X-TTS-Source"), resp.Header.Get("X-TTS-Cache-Key"))

	return nil
}

func health(ctx context.Context, out io.Writer, flags clientFlags) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(flags.server, "/health"), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := (&http.Client{Timeout: flags.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errUnhealthy, resp.StatusCode)
	}

	fmt.Fprintln(out, msgHealthy)

	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		if parsed.Details != "" {
			return fmt.Errorf("service returned %d: %s (%s)", resp.StatusCode, parsed.Error, parsed.Details)
		}

		return fmt.Errorf("service returned %d: %s", resp.StatusCode, parsed.Error)
	}

	return fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func writeOutput(path string, audio []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	err = os.WriteFile(path, audio, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
