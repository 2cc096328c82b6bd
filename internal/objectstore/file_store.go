package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/story-tts-service/internal/core"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
	tempPattern     = ".tmp-*"
)

// ErrInvalidKey is returned for keys that would escape the store directory.
var ErrInvalidKey = errors.New("invalid object key")

var extensionContentTypes = map[string]string{
	".mp3": core.ContentTypeMPEG,
	".ogg": core.ContentTypeOgg,
	".wav": core.ContentTypeWAV,
}

// FileStore implements core.BlobStore on a local directory. Each key maps to a file
// under Dir; writes go to a temp file that is renamed into place, so readers never see
// a partial object.
type FileStore struct {
	Dir string
}

// NewFileStore creates a FileStore rooted at dir (default "audio").
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "audio"
	}

	return &FileStore{Dir: dir}
}

// Get reads the object for key, or returns (nil, nil) when it does not exist.
func (f *FileStore) Get(_ context.Context, key string) (*core.Audio, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return &core.Audio{Data: data, ContentType: extensionContentTypes[filepath.Ext(path)]}, nil
}

// Put writes audio for key atomically.
func (f *FileStore) Put(_ context.Context, key string, audio core.Audio) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", key, err)
	}

	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", key, err)
	}

	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(audio.Data)
	closeErr := tempFile.Close()

	if writeErr == nil && closeErr == nil {
		writeErr = os.Chmod(tempName, filePermissions)
	}

	if writeErr == nil && closeErr == nil {
		writeErr = os.Rename(tempName, path)
	}

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to write object '%s': %w", key, errors.Join(writeErr, closeErr))
	}

	return nil
}

func (f *FileStore) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(cleaned) || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(f.Dir, cleaned), nil
}
