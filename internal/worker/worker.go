// Package worker drains the tenant's offline event queue with at-least-once
// delivery: dedup-keyed retry budgets, dead-letter persistence for exhausted
// or malformed items, and acknowledgment only of items it durably resolved.
package worker

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/core/metrics"
	"github.com/vietddude/relay/internal/infra/bitrix"
	"github.com/vietddude/relay/internal/infra/storage"
)

const (
	defaultIdleSleep            = 3 * time.Second
	defaultMaxConsecutiveErrors = 10
)

// Caller abstracts the call executor the worker polls through.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// ProcessFunc handles one offline event. A non-nil error counts against the
// event's retry budget.
type ProcessFunc func(ctx context.Context, event domain.OfflineEvent) error

// Config holds worker settings.
type Config struct {
	TenantKey string

	// ApplicationToken, when set, is compared (constant-time) against the
	// token each event carries. Mismatching events are treated as possibly
	// forged: neither acknowledged nor retried.
	ApplicationToken string

	IdleSleep            time.Duration
	MaxConsecutiveErrors int
}

// Stats is a snapshot of worker progress for the health endpoint.
type Stats struct {
	LastCycleAt       time.Time `json:"last_cycle_at"`
	LastBatchSize     int       `json:"last_batch_size"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// Worker runs the polling state machine. It is a single logical loop; only
// the stats snapshot is read concurrently.
type Worker struct {
	client  Caller
	budget  storage.RetryBudget
	dlq     storage.DeadLetterQueue
	process ProcessFunc
	cfg     Config
	log     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a worker. A nil process function accepts every event, which is
// useful when draining a queue only to dead-letter poison messages.
func New(client Caller, budget storage.RetryBudget, dlq storage.DeadLetterQueue, process ProcessFunc, cfg Config, log *slog.Logger) *Worker {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if process == nil {
		process = func(context.Context, domain.OfflineEvent) error { return nil }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		client:  client,
		budget:  budget,
		dlq:     dlq,
		process: process,
		cfg:     cfg,
		log:     log,
	}
}

// Stats returns a snapshot of worker progress.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// RunOnce executes one polling cycle and returns the number of events the
// poll delivered.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	response, err := w.client.Call(ctx, "event.offline.get", map[string]any{"clear": "0"})
	if err != nil {
		return 0, err
	}
	if msg := validateResponseShape(response); msg != "" {
		return 0, &bitrix.APIError{
			Message: "invalid offline response schema: " + msg,
			Code:    "INVALID_OFFLINE_RESPONSE_SCHEMA",
			Payload: response,
		}
	}

	processID, events := parseOfflineGet(response)
	if processID == "" || len(events) == 0 {
		return 0, nil
	}

	var clearIDs, errorIDs []string
	hasPendingFailures := false

	for _, ev := range events {
		msgID := ev.MessageID()

		if msg := validateEventShape(ev); msg != "" {
			// Malformed items get zero retries but still count toward
			// the acknowledge set so they stop being redelivered.
			if err := w.deadLetter(ctx, ev, "INVALID_EVENT_SCHEMA: "+msg, 0); err != nil {
				w.log.Error("dead-letter append failed", "message_id", msgID, "error", err)
				hasPendingFailures = true
				continue
			}
			metrics.WorkerEventsTotal.WithLabelValues("invalid").Inc()
			if msgID != "" {
				clearIDs = append(clearIDs, msgID)
				errorIDs = append(errorIDs, msgID)
			} else {
				hasPendingFailures = true
			}
			continue
		}

		if !w.tokenValid(ev) {
			// Possibly injected or forged. Leave it in the queue for the
			// next poll or operator review.
			w.log.Warn("invalid application token on offline event", "message_id", msgID)
			metrics.WorkerEventsTotal.WithLabelValues("rejected").Inc()
			hasPendingFailures = true
			continue
		}

		dedup := ev.DedupKey()
		if err := w.process(ctx, ev); err == nil {
			if err := w.budget.Clear(ctx, dedup); err != nil {
				w.log.Warn("retry budget clear failed", "key", dedup, "error", err)
			}
			metrics.WorkerEventsTotal.WithLabelValues("ok").Inc()
			if msgID != "" {
				clearIDs = append(clearIDs, msgID)
			}
			continue
		} else {
			retries, budgetErr := w.budget.Fail(ctx, dedup)
			if budgetErr != nil {
				w.log.Warn("retry budget update failed", "key", dedup, "error", budgetErr)
				hasPendingFailures = true
				continue
			}
			exhausted, budgetErr := w.budget.Exhausted(ctx, dedup)
			if budgetErr != nil {
				w.log.Warn("retry budget check failed", "key", dedup, "error", budgetErr)
				hasPendingFailures = true
				continue
			}

			if !exhausted {
				metrics.WorkerEventsTotal.WithLabelValues("retried").Inc()
				hasPendingFailures = true
				continue
			}

			if dlqErr := w.deadLetter(ctx, ev, err.Error(), retries); dlqErr != nil {
				// Not durably resolved, so it must not be acknowledged.
				w.log.Error("dead-letter append failed", "message_id", msgID, "error", dlqErr)
				hasPendingFailures = true
				continue
			}
			metrics.WorkerEventsTotal.WithLabelValues("dead_lettered").Inc()
			if err := w.budget.Clear(ctx, dedup); err != nil {
				w.log.Warn("retry budget clear failed", "key", dedup, "error", err)
			}
			if msgID != "" {
				clearIDs = append(clearIDs, msgID)
				errorIDs = append(errorIDs, msgID)
			}
		}
	}

	if len(errorIDs) > 0 {
		w.reportErrors(ctx, processID, errorIDs)
	}

	// With no pending failures the whole process id is cleared even when the
	// id list is empty; otherwise only the explicitly resolved ids are
	// cleared so still-retrying items get redelivered.
	var clearErr error
	if !hasPendingFailures || len(clearIDs) > 0 {
		clearErr = w.clearProcessed(ctx, processID, clearIDs)
	}

	if err := w.budget.Flush(ctx); err != nil {
		w.log.Error("retry budget flush failed", "error", err)
		if clearErr == nil {
			clearErr = err
		}
	}
	return len(events), clearErr
}

// Run executes polling cycles until the context is canceled. A fatal API
// error or too many consecutive failed cycles terminates the worker instead
// of letting it spin forever.
func (w *Worker) Run(ctx context.Context) error {
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", "reason", "shutdown requested")
			return nil
		default:
		}

		count, err := w.RunOnce(ctx)
		w.recordCycle(count, err)

		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopped", "reason", "shutdown requested")
				return nil
			}
			consecutiveErrors++
			metrics.WorkerCyclesTotal.WithLabelValues("error").Inc()
			w.log.Error("polling cycle failed", "consecutive_errors", consecutiveErrors, "error", err)

			var apiErr *bitrix.APIError
			if errors.As(err, &apiErr) && apiErr.Fatal() {
				return fmt.Errorf("fatal api error %s: %w", apiErr.Code, err)
			}
			if consecutiveErrors >= w.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%d consecutive polling errors: %w", consecutiveErrors, err)
			}
			if err := w.idle(ctx); err != nil {
				return nil
			}
			continue
		}

		consecutiveErrors = 0
		metrics.WorkerCyclesTotal.WithLabelValues("ok").Inc()
		if count == 0 {
			if err := w.idle(ctx); err != nil {
				return nil
			}
		}
	}
}

func (w *Worker) recordCycle(count int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastCycleAt = time.Now()
	w.stats.LastBatchSize = count
	if err != nil {
		w.stats.ConsecutiveErrors++
	} else {
		w.stats.ConsecutiveErrors = 0
	}
}

func (w *Worker) idle(ctx context.Context) error {
	timer := time.NewTimer(w.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tokenValid compares the event's application token against the configured
// value in constant time. No configured token disables the check.
func (w *Worker) tokenValid(ev domain.OfflineEvent) bool {
	if w.cfg.ApplicationToken == "" {
		return true
	}
	received, _ := ev.Auth()["application_token"].(string)
	return hmac.Equal([]byte(received), []byte(w.cfg.ApplicationToken))
}

func (w *Worker) deadLetter(ctx context.Context, ev domain.OfflineEvent, errMsg string, retries int) error {
	return w.dlq.Append(ctx, &domain.DLQRecord{
		Tenant:     w.cfg.TenantKey,
		Event:      ev.Name(),
		MessageID:  ev.MessageID(),
		RetryCount: retries,
		Error:      errMsg,
		Payload:    ev,
		TS:         time.Now().Unix(),
	})
}

func (w *Worker) clearProcessed(ctx context.Context, processID string, messageIDs []string) error {
	params := map[string]any{"process_id": processID}
	if len(messageIDs) > 0 {
		params["message_id"] = messageIDs
	}
	if _, err := w.client.Call(ctx, "event.offline.clear", params); err != nil {
		return fmt.Errorf("clear processed events: %w", err)
	}
	return nil
}

// reportErrors flags dead-lettered ids on the upstream error endpoint. This
// is best-effort; a failure here is logged, not fatal.
func (w *Worker) reportErrors(ctx context.Context, processID string, messageIDs []string) {
	_, err := w.client.Call(ctx, "event.offline.error", map[string]any{
		"process_id": processID,
		"message_id": messageIDs,
	})
	if err != nil {
		w.log.Warn("error report failed", "count", len(messageIDs), "error", err)
	}
}
