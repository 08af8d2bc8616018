package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/config"
	"github.com/BaSui01/casegate/dispatcher"
	"github.com/BaSui01/casegate/testutil"
)

// keepGlobals 在测试结束时还原全局 provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func enabled(exporter string) config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		Exporter:     exporter,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "casegate-test",
		SampleRate:   1.0,
	}
}

func TestInit_DisabledFallsBackToGlobal(t *testing.T) {
	keepGlobals(t)

	p, err := Init(config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Same(t, otel.GetTracerProvider(), p.TracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))

	var nilProviders *Providers
	assert.NoError(t, nilProviders.Shutdown(context.Background()))
	assert.NotNil(t, nilProviders.TracerProvider())
}

func TestInit_OTLPRegistersGlobals(t *testing.T) {
	keepGlobals(t)

	p, err := Init(enabled("otlp"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// 没有 collector 时导出失败是预期的
		_ = p.Shutdown(ctx)
	})

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
	assert.Same(t, p.tp, p.TracerProvider())
}

func TestInit_UnsupportedExporter(t *testing.T) {
	keepGlobals(t)

	_, err := Init(enabled("zipkin"), nil)
	assert.ErrorContains(t, err, "zipkin")
}

// 一次完整的核验流程经由 Init 构造的 provider 导出四个调度 span
func TestInit_ExportsDispatcherSpans(t *testing.T) {
	keepGlobals(t)
	ctx := testutil.TestContext(t)
	exp := tracetest.NewInMemoryExporter()

	p, err := Init(enabled("otlp"), zaptest.NewLogger(t),
		WithSpanExporter(exp),
		WithServiceVersion("1.2.3"),
		WithResourceAttributes(StoreType("memory")),
	)
	require.NoError(t, err)
	assert.Nil(t, p.mp, "injected exporter skips metrics")

	repo := testutil.SeededStore(t)
	d, err := dispatcher.New(repo, dispatcher.WithTracerProvider(p.TracerProvider()))
	require.NoError(t, err)

	s := dispatcher.NewSession("sess-1")
	require.True(t, d.LoadTask(ctx, s, "Sarah").OK())
	assert.False(t, d.SubmitVerification(ctx, s, "Rex").OK())
	require.True(t, d.SubmitVerification(ctx, s, "Fluffy").OK())
	require.True(t, d.RecordResolution(ctx, s, false).OK())
	require.NoError(t, p.Shutdown(ctx))

	spans := exp.GetSpans()
	require.Len(t, spans, 4)
	names := make([]string, 0, len(spans))
	for _, sp := range spans {
		names = append(names, sp.Name)
		assert.Equal(t, "github.com/BaSui01/casegate/dispatcher", sp.InstrumentationScope.Name)
	}
	assert.Equal(t, []string{
		"dispatcher.load_task",
		"dispatcher.submit_verification",
		"dispatcher.submit_verification",
		"dispatcher.record_resolution",
	}, names)
	assert.NotEqual(t, codes.Error, spans[1].Status.Code, "a wrong answer is an outcome, not a fault")

	res := map[attribute.Key]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		res[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "casegate-test", res["service.name"])
	assert.Equal(t, "1.2.3", res["service.version"])
	assert.Equal(t, "memory", res["casegate.store.type"])

	testutil.AssertResolved(t, repo, recordIDFor(t, repo, "Sarah"), casestore.StatusResolvedAdverse)
}

func TestInit_ZeroSampleRateDropsSpans(t *testing.T) {
	keepGlobals(t)
	exp := tracetest.NewInMemoryExporter()
	cfg := enabled("otlp")
	cfg.SampleRate = 0

	p, err := Init(cfg, nil, WithSpanExporter(exp))
	require.NoError(t, err)

	d, err := dispatcher.New(testutil.SeededStore(t), dispatcher.WithTracerProvider(p.TracerProvider()))
	require.NoError(t, err)
	d.LoadTask(context.Background(), dispatcher.NewSession("s"), "John")

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, exp.GetSpans())
}

func TestInit_StdoutExporter(t *testing.T) {
	keepGlobals(t)
	var buf bytes.Buffer

	cfg := enabled("stdout")
	cfg.ServiceName = "casegate-stdout"
	p, err := Init(cfg, zaptest.NewLogger(t), WithStdoutWriter(&buf))
	require.NoError(t, err)
	assert.Nil(t, p.mp, "stdout exporter does not export metrics")

	d, err := dispatcher.New(testutil.SeededStore(t), dispatcher.WithTracerProvider(p.TracerProvider()))
	require.NoError(t, err)
	d.LoadTask(context.Background(), dispatcher.NewSession("s"), "Mike")

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "dispatcher.load_task")
	assert.Contains(t, buf.String(), "casegate-stdout")
}

// recordIDFor 按身份找到唯一记录，结案后 PendingID 已找不到它
func recordIDFor(t *testing.T, repo casestore.Repository, identity string) string {
	t.Helper()
	all, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	for _, rec := range all {
		if rec.IdentityKey == identity {
			return rec.ID
		}
	}
	t.Fatalf("no record for %q", identity)
	return ""
}
