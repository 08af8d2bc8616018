// =============================================================================
// 📡 CaseGate OpenTelemetry 初始化
// =============================================================================
// 按 telemetry 配置段构造 TracerProvider / MeterProvider。
// 关闭时不创建任何导出器，调用方拿到的 TracerProvider 是全局 noop 实现。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/config"
)

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider; 遥测关闭时二者皆为 nil。
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option 调整 Init 的行为
type Option func(*options)

type options struct {
	stdout   io.Writer
	exporter sdktrace.SpanExporter
	attrs    []attribute.KeyValue
	version  string
}

// WithStdoutWriter 重定向 stdout 导出器的输出
func WithStdoutWriter(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithSpanExporter 使用给定的 span 导出器，忽略 cfg.Exporter（不导出指标）
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithResourceAttributes 追加资源属性，例如 casegate.store.type
func WithResourceAttributes(kv ...attribute.KeyValue) Option {
	return func(o *options) { o.attrs = append(o.attrs, kv...) }
}

// WithServiceVersion 设置 service.version，默认 "dev"
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// StoreType 是案例仓储后端的资源属性
func StoreType(kind string) attribute.KeyValue {
	return attribute.String("casegate.store.type", kind)
}

// Init 初始化 OTel SDK 并注册为全局 provider。
//
// "otlp" 通过 gRPC 导出 span 与指标；"stdout" 只打印 span，指标交给 Prometheus。
func Init(cfg config.TelemetryConfig, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}
	o := options{stdout: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(append([]attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(o.version),
	}, o.attrs...)...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	spans, mp, err := newExporters(ctx, cfg, o, res)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	if mp != nil {
		otel.SetMeterProvider(mp)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("exporter", cfg.Exporter),
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return &Providers{tp: tp, mp: mp}, nil
}

// newExporters 构造 span 导出器，otlp 模式下一并构造 MeterProvider
func newExporters(ctx context.Context, cfg config.TelemetryConfig, o options, res *resource.Resource) (sdktrace.SpanExporter, *sdkmetric.MeterProvider, error) {
	if o.exporter != nil {
		return o.exporter, nil, nil
	}

	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(o.stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		return exp, nil, nil

	case "otlp", "":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = exp.Shutdown(ctx)
			return nil, nil, fmt.Errorf("create metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
			sdkmetric.WithResource(res),
		)
		return exp, mp, nil

	default:
		return nil, nil, fmt.Errorf("unsupported telemetry exporter: %s", cfg.Exporter)
	}
}

// TracerProvider 返回 SDK provider; 遥测关闭时返回当前全局 provider
func (p *Providers) TracerProvider() trace.TracerProvider {
	if p == nil || p.tp == nil {
		return otel.GetTracerProvider()
	}
	return p.tp
}

// Shutdown 刷新未导出的 span 与指标; nil 或 noop Providers 上调用安全
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
