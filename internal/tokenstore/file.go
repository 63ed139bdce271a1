package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

// FileStore persists the credential as a JSON record in a single file.
//
// SECURITY: the file is written with 0600 permissions and its directory with
// 0700. Writes go to a temporary file that is renamed over the target, so a
// reader never observes a partially written record.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credential file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(ctx context.Context, cred *oauth.Credential) error {
	data, err := encodeRecord(cred)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary credential file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set credential file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	logging.Audit("TokenStore", "credential_stored",
		slog.String("backend", BackendFile),
		slog.String("issuer", cred.Issuer))
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*oauth.Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return decodeRecord(data)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	logging.Audit("TokenStore", "credential_cleared", slog.String("backend", BackendFile))
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// Watch calls onChange whenever the credential file is created, replaced or
// removed by any process, until ctx is cancelled. The parent directory is
// watched so that rename-based replacement is observed.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	name := filepath.Base(s.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				logging.Debug("TokenStore", "Credential file changed: %s", event.Op)
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("TokenStore", "Credential file watcher error: %v", err)
			}
		}
	}()
	return nil
}
