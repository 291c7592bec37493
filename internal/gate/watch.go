package gate

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// FileKey is a KeySource backed by a key file. Reload re-reads the file;
// Watch calls Reload whenever the file changes, so keys can be rotated
// without a restart.
type FileKey struct {
	path   string
	logger *slog.Logger
	key    atomic.Pointer[rsa.PublicKey]
}

// NewFileKey loads the key at path.
func NewFileKey(path string, logger *slog.Logger) (*FileKey, error) {
	if logger == nil {
		logger = slog.Default()
	}

	k := &FileKey{path: path, logger: logger}
	if err := k.Reload(); err != nil {
		return nil, err
	}

	return k, nil
}

// PublicKey returns the most recently loaded key.
func (k *FileKey) PublicKey() *rsa.PublicKey {
	return k.key.Load()
}

// Reload re-reads the key file. On failure the previous key stays in use.
func (k *FileKey) Reload() error {
	key, err := LoadPublicKey(k.path)
	if err != nil {
		return err
	}

	k.key.Store(key)

	return nil
}

// Watch reloads the key whenever its file is written or replaced, until ctx
// is canceled. The parent directory is watched so editors and secret
// mounters that swap the file by rename are picked up too.
func (k *FileKey) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gate: creating key watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(k.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("gate: watching %s: %w", dir, err)
	}

	target := filepath.Clean(k.path)

	k.logger.Info("watching public key file", slog.String("path", k.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if err := k.Reload(); err != nil {
				k.logger.Warn("public key reload failed, keeping previous key",
					slog.String("path", k.path),
					slog.String("error", err.Error()),
				)

				continue
			}

			k.logger.Info("public key reloaded", slog.String("path", k.path))

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			k.logger.Warn("key watcher error", slog.String("error", werr.Error()))
		}
	}
}
