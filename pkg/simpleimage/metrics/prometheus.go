// Package metrics exports service measurements to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// PrometheusObserver implements simpleimage.Observer.
type PrometheusObserver struct {
	ingestions       *promclient.CounterVec
	ingestDuration   *promclient.HistogramVec
	blobDuration     *promclient.HistogramVec
	blobErrors       *promclient.CounterVec
	deletedKeys      promclient.Counter
	failedDeleteKeys promclient.Counter
}

// NewPrometheusObserver registers the image service metrics with reg, or the
// default registerer when reg is nil. Registering twice reuses the existing
// collectors.
func NewPrometheusObserver(namespace string, reg promclient.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "simpleimage"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &PrometheusObserver{
		ingestions: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Finished ingestions by terminal status.",
		}, []string{"status"}),
		ingestDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Time from request to terminal status.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"status"}),
		blobDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "blob_operation_duration_seconds",
			Help:      "Latency of blob store calls.",
			Buckets:   promclient.DefBuckets,
		}, []string{"operation"}),
		blobErrors: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "blob_operation_errors_total",
			Help:      "Failed blob store calls.",
		}, []string{"operation"}),
		deletedKeys: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_keys_total",
			Help:      "Physical keys submitted for deletion.",
		}),
		failedDeleteKeys: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "delete_failed_keys_total",
			Help:      "Physical keys that could not be deleted.",
		}),
	}

	var err error
	if o.ingestions, err = register(reg, o.ingestions); err != nil {
		return nil, fmt.Errorf("register ingestion counter: %w", err)
	}
	if o.ingestDuration, err = register(reg, o.ingestDuration); err != nil {
		return nil, fmt.Errorf("register ingestion histogram: %w", err)
	}
	if o.blobDuration, err = register(reg, o.blobDuration); err != nil {
		return nil, fmt.Errorf("register blob histogram: %w", err)
	}
	if o.blobErrors, err = register(reg, o.blobErrors); err != nil {
		return nil, fmt.Errorf("register blob error counter: %w", err)
	}
	if o.deletedKeys, err = register(reg, o.deletedKeys); err != nil {
		return nil, fmt.Errorf("register deleted keys counter: %w", err)
	}
	if o.failedDeleteKeys, err = register(reg, o.failedDeleteKeys); err != nil {
		return nil, fmt.Errorf("register failed keys counter: %w", err)
	}
	return o, nil
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one of the same type.
func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are promclient.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (o *PrometheusObserver) ObserveIngestion(status simpleimage.ImageStatus, duration time.Duration) {
	if o == nil {
		return
	}
	o.ingestions.WithLabelValues(string(status)).Inc()
	o.ingestDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

func (o *PrometheusObserver) ObserveBlobOperation(op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.blobDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.blobErrors.WithLabelValues(op).Inc()
	}
}

func (o *PrometheusObserver) ObserveDeletion(keys, failed int) {
	if o == nil {
		return
	}
	o.deletedKeys.Add(float64(keys))
	o.failedDeleteKeys.Add(float64(failed))
}

var _ simpleimage.Observer = (*PrometheusObserver)(nil)
