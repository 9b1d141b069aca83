package reload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/logger"
	"github.com/supporttools/prism-check/pkg/types"
	"github.com/supporttools/prism-check/pkg/util"
)

// ErrReloadInProgress is returned when a reload is triggered while another
// one is running.
var ErrReloadInProgress = errors.New("reload already in progress")

// ReloadCallback applies a new configuration. When it returns an error the
// previous configuration stays current.
type ReloadCallback func(ctx context.Context, newConfig *types.CheckerConfig, diff *ConfigDiff) error

// Validator performs checks beyond CheckerConfig.Validate, such as
// rejecting rule-sets no plugin declares.
type Validator func(config *types.CheckerConfig) error

// ReloadCoordinator loads, validates, diffs and applies configuration.
type ReloadCoordinator struct {
	configPath     string
	reloadCallback ReloadCallback
	validator      Validator
	log            *logrus.Entry

	// load is replaced in tests.
	load func(path string) (*types.CheckerConfig, error)

	mu               sync.Mutex
	currentConfig    *types.CheckerConfig
	reloadInProgress bool
}

// NewReloadCoordinator creates a new reload coordinator. validator may be nil.
func NewReloadCoordinator(
	configPath string,
	initialConfig *types.CheckerConfig,
	reloadCallback ReloadCallback,
	validator Validator,
) *ReloadCoordinator {
	return &ReloadCoordinator{
		configPath:     configPath,
		currentConfig:  initialConfig,
		reloadCallback: reloadCallback,
		validator:      validator,
		log:            logger.WithFields(logrus.Fields{"component": "reload", "path": configPath}),
		load:           util.LoadConfig,
	}
}

// TriggerReload attempts to reload the configuration from disk.
// Only one reload runs at a time.
func (rc *ReloadCoordinator) TriggerReload(ctx context.Context) error {
	rc.mu.Lock()
	if rc.reloadInProgress {
		rc.mu.Unlock()
		return ErrReloadInProgress
	}
	rc.reloadInProgress = true
	rc.mu.Unlock()

	defer func() {
		rc.mu.Lock()
		rc.reloadInProgress = false
		rc.mu.Unlock()
	}()

	return rc.performReload(ctx)
}

func (rc *ReloadCoordinator) performReload(ctx context.Context) error {
	startTime := time.Now()

	newConfig, err := rc.load(rc.configPath)
	if err != nil {
		rc.log.WithError(err).WithField("reason", "ConfigReloadFailed").Warn("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}

	if rc.validator != nil {
		if err := rc.validator(newConfig); err != nil {
			rc.log.WithError(err).WithField("reason", "ConfigValidationFailed").Warn("Configuration rejected")
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	diff := ComputeConfigDiff(rc.GetCurrentConfig(), newConfig)
	if !diff.HasChanges() {
		rc.log.WithField("reason", "ConfigReloadNoChanges").Info("Configuration unchanged")
		return nil
	}

	if err := rc.reloadCallback(ctx, newConfig, diff); err != nil {
		rc.log.WithError(err).WithField("reason", "ConfigReloadFailed").Warn("Failed to apply configuration")
		return fmt.Errorf("failed to apply changes: %w", err)
	}

	rc.mu.Lock()
	rc.currentConfig = newConfig
	rc.mu.Unlock()

	rc.log.WithFields(logrus.Fields{
		"reason":   "ConfigReloadSucceeded",
		"duration": time.Since(startTime).Round(time.Millisecond).String(),
		"changes":  diff.Summary(),
	}).Info("Configuration reloaded")
	return nil
}

// Run triggers a reload for every signal on changes until the channel is
// closed or ctx is done. Failed reloads are logged and keep the old
// configuration.
func (rc *ReloadCoordinator) Run(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := rc.TriggerReload(ctx); err != nil && !errors.Is(err, ErrReloadInProgress) {
				rc.log.WithError(err).Debug("Reload attempt failed")
			}
		}
	}
}

// GetCurrentConfig returns the current active configuration.
func (rc *ReloadCoordinator) GetCurrentConfig() *types.CheckerConfig {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.currentConfig
}
