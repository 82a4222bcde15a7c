package latency

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"deribit-gateway/internal/logger"
)

// CloudWatchExporter publishes the registry's aggregates to CloudWatch
// on a cadence. It is purely additive: CSV export works identically
// with no exporter configured.
type CloudWatchExporter struct {
	client    *cloudwatch.Client
	namespace string
	log       *logger.Entry
}

// NewCloudWatchExporter builds a client from the default AWS
// configuration chain. It returns (nil, err) rather than panicking so
// callers can log and continue with metrics publishing disabled.
func NewCloudWatchExporter(ctx context.Context, region, namespace string) (*CloudWatchExporter, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if namespace == "" {
		namespace = "DeribitGateway"
	}
	return &CloudWatchExporter{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		log:       logger.Global().WithComponent("latency_cloudwatch"),
	}, nil
}

// Publish sends one MetricDatum per tracker's average and, when
// samples are stored, one for its p99 to CloudWatch. Failures are logged and
// swallowed — metrics export never aborts the process.
func (e *CloudWatchExporter) Publish(ctx context.Context, r *Registry) {
	trackers := r.All()
	if len(trackers) == 0 {
		return
	}

	data := make([]cwtypes.MetricDatum, 0, len(trackers)*2)
	for name, t := range trackers {
		m := t.Metrics()
		dims := []cwtypes.Dimension{{Name: aws.String("tracker"), Value: aws.String(name)}}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("LatencyAvgNS"),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitNone,
			Value:      aws.Float64(m.AverageNS()),
		})
		if t.SamplesEnabled() {
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String("LatencyP99NS"),
				Dimensions: dims,
				Unit:       cwtypes.StandardUnitNone,
				Value:      aws.Float64(t.Percentile(99)),
			})
		}
	}

	if _, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(e.namespace),
		MetricData: data,
	}); err != nil {
		e.log.WithError(err).Warn("failed to publish latency metrics to CloudWatch")
	}
}
