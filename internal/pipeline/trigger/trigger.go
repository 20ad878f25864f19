// Package trigger kicks off pipeline runs, batching unprocessed raw points
// into stay detection events.
package trigger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/veloview/timeline-backend-go/internal/bus"
	"github.com/veloview/timeline-backend-go/internal/repository"
)

type publisher interface {
	Publish(topic string, payload interface{}) error
}

// ImportStateHolder flags a bulk import in progress. The trigger defers
// while one is running so half-imported data is not processed.
type ImportStateHolder struct {
	running atomic.Bool
}

// NewImportStateHolder creates an idle holder.
func NewImportStateHolder() *ImportStateHolder {
	return &ImportStateHolder{}
}

// ImportStarted flags a bulk import as running.
func (h *ImportStateHolder) ImportStarted() { h.running.Store(true) }

// ImportFinished clears the import flag.
func (h *ImportStateHolder) ImportFinished() { h.running.Store(false) }

// ImportRunning reports whether a bulk import is in progress.
func (h *ImportStateHolder) ImportRunning() bool { return h.running.Load() }

// Trigger batches unprocessed points per user and emits one stay.detection
// event per batch. A single-flight flag skips overlapping runs.
type Trigger struct {
	points      *repository.PointRepository
	publisher   publisher
	importState *ImportStateHolder
	batchSize   int
	running     atomic.Bool
	logger      *zap.Logger
}

// NewTrigger creates a pipeline trigger.
func NewTrigger(points *repository.PointRepository, pub publisher, importState *ImportStateHolder, batchSize int, logger *zap.Logger) *Trigger {
	return &Trigger{
		points:      points,
		publisher:   pub,
		importState: importState,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// HandleMessage decodes a trigger.processing event and runs the trigger
// for one user, or for all users when the event names none.
func (t *Trigger) HandleMessage(msg *message.Message) error {
	var evt bus.TriggerProcessingEvent
	if err := bus.Unmarshal(msg, &evt); err != nil {
		return err
	}
	if evt.UserID == "" {
		t.RunAll()
		return nil
	}
	t.Run(evt.UserID)
	return nil
}

// RunAll triggers processing for every user with unprocessed points.
func (t *Trigger) RunAll() {
	if !t.acquire() {
		return
	}
	defer t.running.Store(false)

	users, err := t.points.UsersWithUnprocessed()
	if err != nil {
		t.logger.Error("failed to list users with unprocessed points", zap.Error(err))
		return
	}
	for _, user := range users {
		t.processUser(user)
	}
}

// Run triggers processing for a single user.
func (t *Trigger) Run(userID string) {
	if !t.acquire() {
		return
	}
	defer t.running.Store(false)

	t.processUser(userID)
}

// Schedule runs the trigger on a fixed interval until ctx is cancelled.
func (t *Trigger) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunAll()
		}
	}
}

func (t *Trigger) processUser(userID string) {
	total := 0
	for {
		batch, err := t.points.FindUnprocessed(userID, t.batchSize)
		if err != nil {
			t.logger.Error("failed to load unprocessed points",
				zap.String("user", userID), zap.Error(err))
			return
		}
		if len(batch) == 0 {
			break
		}

		earliest := batch[0].Timestamp
		latest := batch[len(batch)-1].Timestamp

		ids := make([]int64, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		if err := t.points.MarkProcessed(ids); err != nil {
			t.logger.Error("failed to mark points processed",
				zap.String("user", userID), zap.Error(err))
			return
		}

		evt := bus.StayDetectionEvent{
			UserID:       userID,
			EarliestUnix: earliest.Unix(),
			LatestUnix:   latest.Unix(),
		}
		if err := t.publisher.Publish(bus.TopicStayDetection, evt); err != nil {
			t.logger.Error("failed to publish stay detection",
				zap.String("user", userID), zap.Error(err))
			return
		}
		total += len(batch)
	}
	if total > 0 {
		t.logger.Debug("scheduled stay detection",
			zap.String("user", userID), zap.Int("points", total))

		// whole-history maintenance sweep for duplicates the windowed
		// dedup passes may have missed
		if err := t.publisher.Publish(bus.TopicTripMerge, bus.TripMergeEvent{UserID: userID}); err != nil {
			t.logger.Error("failed to publish trip merge",
				zap.String("user", userID), zap.Error(err))
		}
	}
}

func (t *Trigger) acquire() bool {
	if t.importState.ImportRunning() {
		t.logger.Warn("bulk import in progress, skipping run")
		return false
	}
	if !t.running.CompareAndSwap(false, true) {
		t.logger.Warn("processing already running, skipping run")
		return false
	}
	return true
}
