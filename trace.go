package zresource

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hunyxv/zresource"

var propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})

// Propagator 客户端和服务端共用的传播器
func Propagator() propagation.TextMapPropagator {
	return propagator
}

// InjectHeader 将 ctx 中的链路信息写入 header
func InjectHeader(ctx context.Context, h Header) {
	propagator.Inject(ctx, h)
}

// ExtractHeader 从 header 中恢复链路信息
func ExtractHeader(ctx context.Context, h Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, h)
}

func tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func startSpan(ctx context.Context, tp trace.TracerProvider, resource, method string, spark *Spark) (context.Context, trace.Span) {
	return tracer(tp).Start(ctx, resource+"/"+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("zresource.resource", resource),
			attribute.String("zresource.method", method),
			attribute.String("zresource.spark", spark.ID()),
		),
	)
}
