package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Watcher watches for configuration changes and invokes a callback when
// the configuration is updated. Implementations may poll files, watch
// key-value stores, or subscribe to change notifications.
type Watcher interface {
	// Watch starts watching for changes and calls callback whenever the
	// configuration changes. It blocks until ctx is cancelled or an
	// unrecoverable error occurs.
	Watch(ctx context.Context, callback func(newConfig any)) error

	// Close releases resources held by the watcher.
	Close() error
}

// WatchConfig holds configuration for watchers.
type WatchConfig struct {
	// Path is the configuration file to watch.
	Path string

	// Interval is the polling interval for file-based watchers.
	Interval time.Duration
}

// FileWatcher polls a file at a regular interval and invokes a callback
// when the file content changes. Change detection uses SHA-256 hashing
// of file contents.
type FileWatcher struct {
	path     string
	interval time.Duration

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	closed   bool
	done     chan struct{}
}

// NewFileWatcher creates a FileWatcher that polls path every interval for
// changes. The minimum interval is 100ms; smaller values are clamped.
func NewFileWatcher(path string, interval time.Duration) Watcher {
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &FileWatcher{
		path:     path,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Watch polls the file for changes until ctx is cancelled. When a change
// is detected, callback is invoked with the raw file content as a []byte.
// The caller can unmarshal the data as needed.
func (w *FileWatcher) Watch(ctx context.Context, callback func(newConfig any)) error {
	// Compute initial hash so we only fire on actual changes.
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("config: watch initial read %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.lastHash = sha256.Sum256(data)
	w.mu.Unlock()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case <-ticker.C:
			w.mu.Lock()
			if w.closed {
				w.mu.Unlock()
				return nil
			}
			w.mu.Unlock()

			data, err := os.ReadFile(w.path)
			if err != nil {
				// File temporarily unavailable — skip this tick.
				continue
			}

			hash := sha256.Sum256(data)
			w.mu.Lock()
			changed := hash != w.lastHash
			if changed {
				w.lastHash = hash
			}
			w.mu.Unlock()

			if changed {
				callback(data)
			}
		}
	}
}

// WatchRuntime watches the config file at path and invokes apply with the
// re-parsed RuntimeConfig whenever it changes. Unparseable revisions are
// skipped. The parsed config is not run through the full LoadConfig
// validation, since a watched file may carry only the fields being tuned;
// callers apply only the fields they trust. Blocks until ctx is cancelled.
func WatchRuntime(ctx context.Context, path string, interval time.Duration, apply func(*RuntimeConfig)) error {
	w := NewFileWatcher(path, interval)
	defer w.Close()
	return w.Watch(ctx, func(newConfig any) {
		data, ok := newConfig.([]byte)
		if !ok {
			return
		}
		cfg, err := parseRuntime(path, data)
		if err != nil {
			return
		}
		apply(cfg)
	})
}

func parseRuntime(path string, data []byte) (*RuntimeConfig, error) {
	v := viper.New()
	configType := strings.TrimPrefix(filepath.Ext(path), ".")
	if configType == "" {
		configType = "yaml"
	}
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: parsing watched file %s: %w", path, err)
	}
	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding watched file %s: %w", path, err)
	}
	return &cfg, nil
}

// Close stops the watcher. It is safe to call Close concurrently with Watch.
func (w *FileWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
	return nil
}
