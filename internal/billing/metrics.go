package billing

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricNamespace is the CloudWatch namespace for billing metrics.
const MetricNamespace = "KidsCan/Billing"

// Metric names. Gateway soft failures do not fail the caller, so these
// counters are the primary way they stay observable.
const (
	MetricUsageReportFailure      = "UsageReportFailure"
	MetricSubscriptionSyncFailure = "SubscriptionSyncFailure"
	MetricCatalogLookupFailure    = "CatalogLookupFailure"
)

// Metrics records billing gateway failure counters.
type Metrics interface {
	Count(ctx context.Context, name string)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements Metrics by emitting counters to CloudWatch.
// Emission failures are logged and dropped; metrics must never affect the
// operation being measured.
type CloudWatchMetrics struct {
	client CloudWatchClient
	logger *slog.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatch-backed Metrics implementation.
func NewCloudWatchMetrics(client CloudWatchClient, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, logger: logger}
}

// Count emits a single-count datum for the named metric.
func (m *CloudWatchMetrics) Count(ctx context.Context, name string) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(MetricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to emit billing metric",
			"metric", name,
			"error", err,
		)
	}
}

// NopMetrics discards all counters. Used in tests and local mode.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

// Count implements Metrics as a no-op.
func (NopMetrics) Count(context.Context, string) {}
