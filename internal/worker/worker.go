// Package worker turns queued notification jobs into stored notifications and
// pushes them to the recipients' realtime channels.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/metrics"
	"github.com/porteria/backend/pkg/queue"
)

// EventNotificationCreated is the realtime event carrying a new notification.
const EventNotificationCreated = "notification.created"

// notificationNamespace derives notification ids from job id and recipient.
var notificationNamespace = uuid.MustParse("8c2d6d4e-3f7a-4b55-9a41-2f0e5c6b7d10")

// Jobs is the queue side used by the processor.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Store writes notifications. Create reports false for an id that already exists.
type Store interface {
	Create(ctx context.Context, n *models.Notification) (bool, error)
}

// Publisher pushes realtime events to connected users.
type Publisher interface {
	PublishToUsers(ctx context.Context, userIDs []uuid.UUID, eventType string, payload interface{})
}

// NotificationProcessor processes notification jobs.
type NotificationProcessor struct {
	jobs      Jobs
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	backoff   time.Duration
}

// NewNotificationProcessor creates a processor. publisher and m may be nil.
func NewNotificationProcessor(jobs Jobs, store Store, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{
		jobs:      jobs,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		backoff:   queue.RetryBackoff,
	}
}

// NotificationID is stable per job and recipient, so a retried job skips the
// recipients it already reached.
func NotificationID(jobID string, userID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(notificationNamespace, []byte(jobID+"/"+userID.String()))
}

// Process executes one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeInvitationApproved, queue.JobTypeResolutionRequested, queue.JobTypeResolutionDecided:
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	var data json.RawMessage
	if len(payload.Data) > 0 {
		raw, err := json.Marshal(payload.Data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
		data = raw
	}
	var orgID *uuid.UUID
	if payload.OrganizationID != uuid.Nil {
		id := payload.OrganizationID
		orgID = &id
	}

	for _, userID := range payload.UserIDs {
		n := &models.Notification{
			ID:             NotificationID(job.ID, userID),
			UserID:         userID,
			OrganizationID: orgID,
			Kind:           string(job.Type),
			Title:          payload.Title,
			Body:           payload.Body,
			Data:           data,
		}
		created, err := p.store.Create(ctx, n)
		if err != nil {
			return fmt.Errorf("store notification for %s: %w", userID, err)
		}
		if !created {
			continue
		}
		if p.publisher != nil {
			p.publisher.PublishToUsers(ctx, []uuid.UUID{userID}, EventNotificationCreated, n)
		}
	}
	p.logger.Info("notification job completed",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("recipients", len(payload.UserIDs)),
	)
	return nil
}

func (p *NotificationProcessor) observe(job *queue.Job, result string) {
	if p.metrics != nil {
		p.metrics.NotificationJobs.WithLabelValues(string(job.Type), result).Inc()
	}
}

// Handle processes one job and retries it on failure. The queue moves it to
// the dead-letter list after queue.MaxRetries attempts.
func (p *NotificationProcessor) Handle(ctx context.Context, job *queue.Job) error {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		p.observe(job, "ok")
		return nil
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	result := "retried"
	if job.Attempt+1 >= queue.MaxRetries {
		result = "dead"
	}
	p.observe(job, result)
	if reErr := p.jobs.Retry(ctx, job); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
	}
	return err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("notification worker stopping")
			return
		}

		job, _, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if err := p.Handle(ctx, job); err != nil {
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
