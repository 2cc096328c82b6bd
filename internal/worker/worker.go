// Package worker provides a NATS worker that pre-warms the audio cache from
// text.processed pipeline events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/tts"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 60 * time.Second

var (
	// ErrSubjectEmpty indicates that the worker has no subject to listen on.
	ErrSubjectEmpty = errors.New("worker subject cannot be empty")
	// ErrTextKeyEmpty indicates that the event does not reference any text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTextObjectEmpty indicates that the referenced text object has no content.
	ErrTextObjectEmpty = errors.New("text object is empty")
)

// Synthesizer is the part of the orchestrator the worker depends on.
type Synthesizer interface {
	KeyFor(req core.SynthesisRequest) string
	SynthesizeOrFetch(ctx context.Context, req core.SynthesisRequest) (*tts.Result, error)
}

// Options configures a NatsWorker.
type Options struct {
	// Subject is the subject carrying TextProcessedEvent messages.
	Subject string
	// ResultSubject receives AudioChunkCreatedEvent messages for events published
	// without a reply subject. Empty disables publishing them.
	ResultSubject string
}

// NatsWorker listens for processed text on a NATS subject and makes sure the audio for
// it is in the cache.
type NatsWorker struct {
	natsConnection *nats.Conn
	texts          core.ObjectStore
	synthesizer    Synthesizer
	log            *logger.Logger
	opts           Options
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	texts core.ObjectStore,
	synthesizer Synthesizer,
	log *logger.Logger,
	opts Options,
) (*NatsWorker, error) {
	if strings.TrimSpace(opts.Subject) == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		texts:          texts,
		synthesizer:    synthesizer,
		log:            log,
		opts:           opts,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.opts.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.Info("Listening for processed text on subject: %s", w.opts.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	result, processErr := w.processTextEvent(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to synthesize page %d for workflow %s: %v",
			event.PageNumber, event.Header.WorkflowID, processErr)

		return
	}

	w.log.Info("Page %d/%d for workflow %s served from %s as %s",
		event.PageNumber, event.TotalPages, event.Header.WorkflowID, result.Source, result.Key)

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   result.Key,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processTextEvent downloads the page text and runs it through the cache.
func (w *NatsWorker) processTextEvent(ctx context.Context, event *events.TextProcessedEvent) (*tts.Result, error) {
	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if strings.TrimSpace(string(textData)) == "" {
		return nil, fmt.Errorf("%w: '%s'", ErrTextObjectEmpty, event.TextKey)
	}

	req := core.SynthesisRequest{
		Text:          string(textData),
		Voice:         strings.TrimSpace(event.Voice),
		LanguageCode:  "",
		AudioEncoding: "",
	}

	audioKey := w.synthesizer.KeyFor(req)
	w.log.Info("Resolving text '%s' to audio key %s", event.TextKey, audioKey)

	result, err := w.synthesizer.SynthesizeOrFetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize text '%s' into %s: %w", event.TextKey, audioKey, err)
	}

	return result, nil
}

// publishReplyEvent responds to a request, or publishes to the result subject when
// the event arrived without a reply subject.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to publish reply event: %w", err)
		}

		return nil
	}

	if w.opts.ResultSubject == "" {
		return nil
	}

	err = w.natsConnection.Publish(w.opts.ResultSubject, replyData)
	if err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", w.opts.ResultSubject, err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if strings.TrimSpace(event.TextKey) == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
