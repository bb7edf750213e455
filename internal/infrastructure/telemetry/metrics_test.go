package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewMeterProviderDisabled(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.False(t, mp.IsEnabled())
	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestDisabledProviderMeterIsUsable(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	meter := mp.Meter("test")
	counter, err := NewCounter(meter, "test.counter", "test counter", "{op}")
	require.NoError(t, err)

	// Recording against the no-op global meter must not panic
	counter.Inc(context.Background())
	counter.Add(context.Background(), 5, AttrLogicalName.String("dashboard.sales_summary"))
}

func TestHistogram(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	h, err := NewHistogram(mp.Meter("test"), HistogramOpts{
		Name:        "test.duration",
		Description: "test duration",
		Unit:        "s",
		Boundaries:  LoaderDurationBuckets,
	})
	require.NoError(t, err)

	h.Record(context.Background(), 0.42)
	h.RecordDuration(context.Background(), 0)
}

func TestCacheMetrics(t *testing.T) {
	mp, err := NewMeterProvider(context.Background(), MetricsConfig{Enabled: false}, zap.NewNop())
	require.NoError(t, err)

	cm, err := NewCacheMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	cm.Hit(ctx, "dashboard.sales_summary")
	cm.Miss(ctx, "dashboard.sales_summary")
	cm.StaleHit(ctx, "dashboard.stock_warnings")
	cm.LoaderFailure(ctx, "dashboard.stock_warnings")
	cm.LoaderDuration(ctx, "dashboard.sales_summary", 120*time.Millisecond, true)
	cm.LoaderDuration(ctx, "dashboard.stock_warnings", 30*time.Second, false)
}
