package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricPutter is the subset of the CloudWatch client the observer uses.
type MetricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchObserver mirrors relay outcomes to CloudWatch. Each call is a
// synchronous PutMetricData bounded by its own timeout; failures are logged
// and dropped.
type CloudWatchObserver struct {
	cw         MetricPutter
	namespace  string
	dimensions []types.Dimension
	timeout    time.Duration
	logger     *slog.Logger
}

func NewCloudWatchObserver(cw MetricPutter, namespace string, dimensions map[string]string, logger *slog.Logger) *CloudWatchObserver {
	if logger == nil {
		logger = slog.Default()
	}
	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(v)})
	}
	return &CloudWatchObserver{
		cw:         cw,
		namespace:  namespace,
		dimensions: dims,
		timeout:    10 * time.Second,
		logger:     logger,
	}
}

func (o *CloudWatchObserver) RelaySucceeded(channel string, latencyMs int64) {
	o.put("RelaySuccess",
		o.datum("RelaySuccess", channel, types.StandardUnitCount, 1),
		o.datum("RelayLatency", channel, types.StandardUnitMilliseconds, float64(latencyMs)),
	)
}

func (o *CloudWatchObserver) RelayFailed(channel string) {
	o.put("RelayError", o.datum("RelayError", channel, types.StandardUnitCount, 1))
}

func (o *CloudWatchObserver) datum(name, channel string, unit types.StandardUnit, value float64) types.MetricDatum {
	dims := append([]types.Dimension{{Name: aws.String("Channel"), Value: aws.String(channel)}}, o.dimensions...)
	return types.MetricDatum{
		MetricName: aws.String(name),
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
	}
}

func (o *CloudWatchObserver) put(label string, data ...types.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	_, err := o.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(o.namespace),
		MetricData: data,
	})
	if err != nil {
		o.logger.Error("failed to send CloudWatch metric", "metric", label, "err", err)
	}
}

var _ Observer = (*CloudWatchObserver)(nil)
