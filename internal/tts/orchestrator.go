package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/book-expert/story-tts-service/internal/tts/text"
)

// CacheControlImmutable is served with every audio response. Keys are content
// addresses, so an entry never changes.
const CacheControlImmutable = "public, max-age=31536000, immutable"

// Source tells whether audio came from the blob store or a provider.
type Source string

// Audio sources.
const (
	SourceCache     Source = "cache"
	SourceGenerated Source = "generated"
)

// Log formats.
const (
	logFmtCacheHit         = "Cache hit for %s (%d bytes)"
	logFmtCacheReadFailed  = "Blob store read failed for %s, treating as miss: %v"
	logFmtCacheWriteFailed = "Blob store write failed for %s, returning uncached audio: %v"
	logFmtUsageReadFailed  = "Usage ledger read failed for bucket %s, skipping quota check: %v"
	logFmtUsageIncFailed   = "Usage ledger increment failed for bucket %s: %v"
	logFmtQuotaExceeded    = "Quota exceeded for bucket %s: %d >= %d"
	logFmtSynthesized      = "Synthesized %s via %s (%d bytes)"
	logFmtSynthesisFailed  = "Synthesis via %s failed for %s: %v"
)

// Static errors.
var (
	ErrTextEmpty          = errors.New("text is required")
	ErrProviderMissing    = errors.New("no synthesis provider configured")
	ErrBlobStoreMissing   = errors.New("no blob store configured")
	ErrEmptyProviderAudio = errors.New("provider returned empty audio")
)

// Result is the outcome of SynthesizeOrFetch.
type Result struct {
	Key          string
	Audio        []byte
	ContentType  string
	CacheControl string
	Source       Source
}

// Options configures an Orchestrator. Ledger is optional; QuotaLimit <= 0 disables the
// quota check.
type Options struct {
	Store                core.BlobStore
	Ledger               core.UsageLedger
	Provider             core.SynthesisProvider
	Logger               *logger.Logger
	QuotaLimit           int64
	Period               Period
	BucketPrefix         string
	Namespace            string
	DefaultVoice         string
	DefaultLanguage      string
	DefaultEncoding      core.AudioEncoding
	IncludeLanguageInKey bool
	Now                  func() time.Time
}

// Orchestrator serves audio from the blob store and synthesizes, stores and counts it
// on a miss. It keeps no per-request state, so one instance serves all requests.
type Orchestrator struct {
	store                core.BlobStore
	ledger               core.UsageLedger
	provider             core.SynthesisProvider
	log                  *logger.Logger
	quotaLimit           int64
	period               Period
	bucketPrefix         string
	namespace            string
	defaultVoice         string
	defaultLanguage      string
	defaultEncoding      core.AudioEncoding
	includeLanguageInKey bool
	now                  func() time.Time
}

// NewOrchestrator creates an Orchestrator from opts.
func NewOrchestrator(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	period := opts.Period
	if period == "" {
		period = PeriodDay
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	encoding := opts.DefaultEncoding
	if encoding == "" {
		encoding = core.EncodingMP3
	}

	return &Orchestrator{
		store:                opts.Store,
		ledger:               opts.Ledger,
		provider:             opts.Provider,
		log:                  opts.Logger,
		quotaLimit:           opts.QuotaLimit,
		period:               period,
		bucketPrefix:         opts.BucketPrefix,
		namespace:            namespace,
		defaultVoice:         opts.DefaultVoice,
		defaultLanguage:      opts.DefaultLanguage,
		defaultEncoding:      encoding,
		includeLanguageInKey: opts.IncludeLanguageInKey,
		now:                  now,
	}
}

// KeyFor returns the cache key req maps to after defaults and normalization.
func (o *Orchestrator) KeyFor(req core.SynthesisRequest) string {
	req = o.withDefaults(req)

	return o.key(text.Normalize(req.Text), req)
}

// SynthesizeOrFetch returns audio for req, preferring the blob store. Store and ledger
// failures degrade to a miss or a skipped increment; they never fail the call.
func (o *Orchestrator) SynthesizeOrFetch(ctx context.Context, req core.SynthesisRequest) (*Result, error) {
	req = o.withDefaults(req)

	normalized := text.Normalize(req.Text)
	if normalized == "" {
		return nil, core.NewError(core.KindInvalidInput, "text is empty after normalization", ErrTextEmpty)
	}

	configErr := o.checkConfiguration()
	if configErr != nil {
		return nil, configErr
	}

	key := o.key(normalized, req)

	cached := o.lookup(ctx, key)
	if cached != nil {
		o.log.Info(logFmtCacheHit, key, len(cached.Data))

		return o.result(key, cached, req, SourceCache), nil
	}

	bucket := BucketKey(o.bucketPrefix, o.period, o.now())

	quotaErr := o.checkQuota(ctx, bucket)
	if quotaErr != nil {
		return nil, quotaErr
	}

	audio, synthErr := o.synthesize(ctx, key, req)
	if synthErr != nil {
		return nil, synthErr
	}

	o.storeAudio(ctx, key, audio)
	o.recordUsage(ctx, bucket)

	return o.result(key, audio, req, SourceGenerated), nil
}

func (o *Orchestrator) checkConfiguration() error {
	if o.provider == nil {
		return core.NewError(core.KindConfigurationError, "synthesis provider credentials are not configured",
			ErrProviderMissing)
	}

	if o.store == nil {
		return core.NewError(core.KindConfigurationError, "blob store is not configured", ErrBlobStoreMissing)
	}

	return nil
}

func (o *Orchestrator) withDefaults(req core.SynthesisRequest) core.SynthesisRequest {
	if req.Voice == "" {
		req.Voice = o.defaultVoice
	}

	if req.LanguageCode == "" {
		req.LanguageCode = o.defaultLanguage
	}

	if req.AudioEncoding == "" {
		req.AudioEncoding = o.defaultEncoding
	}

	return req
}

func (o *Orchestrator) key(normalized string, req core.SynthesisRequest) string {
	var extra []string
	if o.includeLanguageInKey && req.LanguageCode != "" {
		extra = append(extra, req.LanguageCode)
	}

	return BuildKey(normalized, req.Voice, o.namespace, req.AudioEncoding.Extension(), extra...)
}

// lookup returns nil on a miss or a store failure.
func (o *Orchestrator) lookup(ctx context.Context, key string) *core.Audio {
	audio, err := o.store.Get(ctx, key)
	if err != nil {
		o.log.Warn(logFmtCacheReadFailed, key,
			core.NewError(core.KindStoreUnavailable, "blob store read failed", err))

		return nil
	}

	if audio == nil || len(audio.Data) == 0 {
		return nil
	}

	return audio
}

func (o *Orchestrator) checkQuota(ctx context.Context, bucket string) error {
	if o.ledger == nil || o.quotaLimit <= 0 {
		return nil
	}

	count, err := o.ledger.Get(ctx, bucket)
	if err != nil {
		o.log.Warn(logFmtUsageReadFailed, bucket,
			core.NewError(core.KindStoreUnavailable, "usage ledger read failed", err))

		return nil
	}

	if count >= o.quotaLimit {
		o.log.Warn(logFmtQuotaExceeded, bucket, count, o.quotaLimit)

		return core.NewError(core.KindQuotaExceeded,
			fmt.Sprintf("synthesis quota of %d reached for %s", o.quotaLimit, bucket), nil)
	}

	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, key string, req core.SynthesisRequest) (*core.Audio, error) {
	audio, err := o.provider.Synthesize(ctx, req)
	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = ErrEmptyProviderAudio
	}

	if err != nil {
		o.log.Error(logFmtSynthesisFailed, o.provider.Name(), key, err)

		kind := core.KindOf(err)
		if kind == core.KindConfigurationError || kind == core.KindUpstreamFailure {
			return nil, err
		}

		return nil, core.NewError(core.KindUpstreamFailure, "synthesis provider failed", err).
			WithDetails(err.Error())
	}

	if audio.ContentType == "" {
		audio.ContentType = req.AudioEncoding.ContentType()
	}

	o.log.Info(logFmtSynthesized, key, o.provider.Name(), len(audio.Data))

	return audio, nil
}

func (o *Orchestrator) storeAudio(ctx context.Context, key string, audio *core.Audio) {
	err := o.store.Put(ctx, key, *audio)
	if err != nil {
		o.log.Warn(logFmtCacheWriteFailed, key,
			core.NewError(core.KindStoreUnavailable, "blob store write failed", err))
	}
}

func (o *Orchestrator) recordUsage(ctx context.Context, bucket string) {
	if o.ledger == nil {
		return
	}

	err := o.ledger.Increment(ctx, bucket)
	if err != nil {
		o.log.Warn(logFmtUsageIncFailed, bucket,
			core.NewError(core.KindStoreUnavailable, "usage ledger increment failed", err))
	}
}

func (o *Orchestrator) result(key string, audio *core.Audio, req core.SynthesisRequest, source Source) *Result {
	contentType := audio.ContentType
	if contentType == "" {
		contentType = req.AudioEncoding.ContentType()
	}

	return &Result{
		Key:          key,
		Audio:        audio.Data,
		ContentType:  contentType,
		CacheControl: CacheControlImmutable,
		Source:       source,
	}
}
