// Package otel builds the OpenTelemetry log pipeline of the proxy process.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/rflink/bridge/internal/config"
)

// DefaultServiceName is reported when otel.serviceName is empty.
const DefaultServiceName = "rfproxy"

// ErrNoExporter is returned when telemetry is enabled with neither a
// log writer nor an OTLP endpoint.
var ErrNoExporter = errors.New("otel enabled without log writer or endpoint")

// Provider owns the log pipeline. A Provider built from a disabled
// section is inert: it has no LoggerProvider and hands out no-op meters.
type Provider struct {
	enabled bool
	service string
	logs    *sdklog.LoggerProvider
}

// New builds the pipeline described by c. Exported records go to
// logWriter (pretty-printed) and, when c.Endpoint is set, to an OTLP/HTTP
// collector.
func New(c config.OTel, logWriter io.Writer) (*Provider, error) {
	p := &Provider{enabled: c.Enabled, service: c.ServiceName}
	if p.service == "" {
		p.service = DefaultServiceName
	}
	if !c.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(p.service),
		semconv.ServiceNamespace("rflink"),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	exporters, err := logExporters(ctx, c, logWriter)
	if err != nil {
		return nil, err
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdklog.WithProcessor(
			sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(batchTimeout(c.BatchTimeout))),
		))
	}
	p.logs = sdklog.NewLoggerProvider(opts...)
	return p, nil
}

func logExporters(ctx context.Context, c config.OTel, w io.Writer) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if w != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(w), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("otel file exporter: %w", err)
		}
		out = append(out, exp)
	}
	if c.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel otlp exporter: %w", err)
		}
		out = append(out, exp)
	}
	if len(out) == 0 {
		return nil, ErrNoExporter
	}
	return out, nil
}

func batchTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Enabled reports whether the pipeline is active.
func (p *Provider) Enabled() bool { return p.enabled }

// ServiceName is the service.name resource attribute.
func (p *Provider) ServiceName() string { return p.service }

// LoggerProvider feeds the otelslog bridge. Nil when disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider { return p.logs }

// Flush exports buffered records.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logs == nil {
		return nil
	}
	if err := p.logs.ForceFlush(ctx); err != nil {
		return fmt.Errorf("otel flush: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logs == nil {
		return nil
	}
	if err := p.logs.Shutdown(ctx); err != nil {
		return fmt.Errorf("otel shutdown: %w", err)
	}
	return nil
}
