package history

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"time"
)

// DefaultPruneInterval is how often Run prunes old rows.
const DefaultPruneInterval = time.Hour

// Logger is the logging subset the recorder needs.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Recorder writes apparatus readings on change and prunes old history.
type Recorder struct {
	repo      Repository
	retention time.Duration
	logger    Logger

	mu   sync.Mutex
	last map[string]map[string]any
}

// NewRecorder creates a recorder. A retention of zero disables pruning.
func NewRecorder(repo Repository, retention time.Duration, logger Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		retention: retention,
		logger:    logger,
		last:      make(map[string]map[string]any),
	}
}

// Repository returns the underlying store.
func (r *Recorder) Repository() Repository {
	return r.repo
}

// ObserveApparatus records the attributes that changed since the previous
// observation. devices is the apparatus cache entry: device id to a
// mapping of attribute values.
//
// Returns:
//   - int: Rows written
//   - error: Joined per-device failures
func (r *Recorder) ObserveApparatus(ctx context.Context, devices map[string]any) (int, error) {
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	written := 0
	for _, id := range ids {
		attrs, ok := devices[id].(map[string]any)
		if !ok {
			continue
		}
		changed := r.diff(id, attrs)
		if len(changed) == 0 {
			continue
		}
		if err := r.repo.RecordReadings(ctx, id, changed); err != nil {
			errs = append(errs, err)
			continue
		}
		r.remember(id, changed)
		written += len(changed)
	}
	return written, errors.Join(errs...)
}

func (r *Recorder) diff(deviceID string, attrs map[string]any) map[string]any {
	prev := r.last[deviceID]
	changed := make(map[string]any)
	for name, value := range attrs {
		if old, seen := prev[name]; seen && reflect.DeepEqual(old, value) {
			continue
		}
		changed[name] = value
	}
	return changed
}

func (r *Recorder) remember(deviceID string, changed map[string]any) {
	prev := r.last[deviceID]
	if prev == nil {
		prev = make(map[string]any, len(changed))
		r.last[deviceID] = prev
	}
	for name, value := range changed {
		prev[name] = value
	}
}

// Run prunes history every interval until ctx is done. It returns
// immediately when retention is disabled.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) error {
	if r.retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r.prune(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, r.retention)
	if err != nil {
		if ctx.Err() == nil && r.logger != nil {
			r.logger.Warn("history prune failed", "error", err)
		}
		return
	}
	if n > 0 && r.logger != nil {
		r.logger.Info("history pruned", "rows", n, "retention", r.retention)
	}
}
