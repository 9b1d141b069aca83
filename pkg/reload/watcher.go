// Package reload applies configuration file changes to a running checker.
package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
)

// DefaultDebounceInterval is used when a non-positive interval is given.
const DefaultDebounceInterval = 500 * time.Millisecond

// ConfigWatcher watches a configuration file and signals, debounced, when
// it changes.
type ConfigWatcher struct {
	configPath       string
	debounceInterval time.Duration
	watcher          *fsnotify.Watcher
	changeCh         chan struct{}
	log              *logrus.Entry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewConfigWatcher creates a new configuration file watcher.
func NewConfigWatcher(configPath string, debounceInterval time.Duration) (*ConfigWatcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	if debounceInterval <= 0 {
		debounceInterval = DefaultDebounceInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ConfigWatcher{
		configPath:       filepath.Clean(configPath),
		debounceInterval: debounceInterval,
		watcher:          watcher,
		changeCh:         make(chan struct{}, 1),
		log: logger.WithFields(logrus.Fields{
			"component": "config-watcher",
			"path":      configPath,
		}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins watching. The returned channel receives a value after each
// burst of changes and is closed when the watcher stops.
func (cw *ConfigWatcher) Start(ctx context.Context) (<-chan struct{}, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return nil, fmt.Errorf("watcher already running")
	}

	// The directory is watched so editors and tools that replace the file
	// by rename are seen.
	dir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	cw.running = true
	go cw.processEvents(ctx)

	cw.log.WithField("debounce", cw.debounceInterval).Info("Watching configuration file")
	return cw.changeCh, nil
}

// Stop stops watching and waits for the event loop to exit.
func (cw *ConfigWatcher) Stop() {
	cw.mu.Lock()
	running := cw.running
	if running {
		close(cw.stopCh)
		cw.running = false
	}
	cw.mu.Unlock()

	if running {
		<-cw.doneCh
	}
	cw.watcher.Close()
}

func (cw *ConfigWatcher) processEvents(ctx context.Context) {
	defer close(cw.doneCh)
	defer close(cw.changeCh)

	var (
		debounceTimer *time.Timer
		timerCh       <-chan time.Time
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-cw.stopCh:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.isConfigFileEvent(event) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cw.log.WithField("op", event.Op.String()).Debug("Configuration file event")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(cw.debounceInterval)
			timerCh = debounceTimer.C

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.log.WithError(err).Warn("File watcher error")

		case <-timerCh:
			timerCh = nil
			select {
			case cw.changeCh <- struct{}{}:
			default:
				// a change is already pending
			}
		}
	}
}

// isConfigFileEvent reports whether event concerns the watched file,
// directly or through a "..data" symlink swap in the same directory.
func (cw *ConfigWatcher) isConfigFileEvent(event fsnotify.Event) bool {
	eventPath := filepath.Clean(event.Name)
	if eventPath == cw.configPath {
		return true
	}
	return filepath.Base(eventPath) == "..data" && filepath.Dir(eventPath) == filepath.Dir(cw.configPath)
}
