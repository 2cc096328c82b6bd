// Package objectstore provides BlobStore implementations backed by a NATS JetStream
// object store or the local filesystem.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/story-tts-service/internal/core"
	"github.com/nats-io/nats.go"
)

// metaContentType is the object metadata key holding the audio MIME type.
const metaContentType = "content-type"

// NatsObjectStore implements core.BlobStore and core.ObjectStore using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating it when it does not exist yet.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, bindErr := jetstreamContext.ObjectStore(bucketName)
	if bindErr != nil {
		var createErr error

		store, createErr = jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucketName,
			Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
			TTL:         0,
			MaxBytes:    0,
			Storage:     nats.FileStorage,
			Replicas:    1,
			Placement:   nil,
			Metadata:    nil,
			Compression: false,
		})
		if createErr != nil {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w",
				bucketName, errors.Join(bindErr, createErr))
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Get returns the audio stored under key, or (nil, nil) when no such object exists.
func (n *NatsObjectStore) Get(ctx context.Context, key string) (*core.Audio, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	contentType := ""

	info, infoErr := obj.Info()
	if infoErr == nil && info != nil {
		contentType = info.Metadata[metaContentType]
	}

	return &core.Audio{Data: data, ContentType: contentType}, nil
}

// Put writes audio under key, replacing any previous object as a whole.
func (n *NatsObjectStore) Put(ctx context.Context, key string, audio core.Audio) error {
	return n.put(ctx, key, audio.Data, map[string]string{metaContentType: audio.ContentType})
}

// Download retrieves raw object bytes, failing when the object does not exist.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := n.store.GetBytes(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return data, nil
}

// Upload saves raw bytes under key.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	return n.put(ctx, key, data, nil)
}

func (n *NatsObjectStore) put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    metadata,
		Opts:        nil,
	}, reader, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
