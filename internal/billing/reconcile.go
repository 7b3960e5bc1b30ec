package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"kidscan/internal/types"
)

// Reconcile event kinds. A worker drains the queue and replays the
// provider call until it sticks.
const (
	ReconcilePlanSync    = "plan_sync"
	ReconcileUsageReport = "usage_report"
)

// ReconcileEvent captures a provider call that failed after its local
// transaction committed. The local database is the source of truth; the
// event carries everything needed to replay the call later.
type ReconcileEvent struct {
	EventID        string          `json:"event_id"`
	Kind           string          `json:"kind"`
	HomeID         int64           `json:"home_id,omitempty"`
	ServiceID      int64           `json:"service_id,omitempty"`
	TaskID         int64           `json:"task_id,omitempty"`
	Plan           types.PlanType  `json:"plan,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	CustomerRef    string          `json:"customer_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Quantity       int64           `json:"quantity,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Reconciler enqueues a failed provider sync for later replay. Enqueue is
// itself best-effort; callers log and continue if it fails.
type Reconciler interface {
	Enqueue(ctx context.Context, event ReconcileEvent) error
}

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSReconciler publishes reconcile events to an SQS queue.
type SQSReconciler struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSReconciler creates a reconciler targeting the given queue.
func NewSQSReconciler(client SQSSender, queueURL string, logger *slog.Logger) *SQSReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSReconciler{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue serializes the event and sends it to the reconcile queue. An
// event ID is assigned here so replays of the same failure are traceable.
func (p *SQSReconciler) Enqueue(ctx context.Context, event ReconcileEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("reconciler: failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("reconciler: failed to send event to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "reconcile event enqueued",
		"event_id", event.EventID,
		"kind", event.Kind,
		"home_id", event.HomeID,
		"service_id", event.ServiceID,
	)
	return nil
}

// NopReconciler drops events. Used when no reconcile queue is configured;
// the events are still visible through logs and failure metrics.
type NopReconciler struct {
	logger *slog.Logger
}

// NewNopReconciler creates a NopReconciler.
func NewNopReconciler(logger *slog.Logger) *NopReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NopReconciler{logger: logger}
}

func (n *NopReconciler) Enqueue(ctx context.Context, event ReconcileEvent) error {
	n.logger.WarnContext(ctx, "reconcile event dropped (no queue configured)",
		"kind", event.Kind,
		"home_id", event.HomeID,
		"service_id", event.ServiceID,
	)
	return nil
}
