// Package observability configures process-wide logging and tracing.
//
// Logs always go to a local slog handler. When an exporter is configured,
// records are also bridged into an OpenTelemetry LoggerProvider and spans are
// exported through a TracerProvider using the same exporter kind.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Exporters for OpenTelemetry logs and traces. An empty exporter disables export.
const (
	ExporterNone     = ""
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// ScopeName is the instrumentation scope of bridged log records.
const ScopeName = "github.com/pineapplepizza/tokenkeeper"

// Config describes the logging setup.
type Config struct {
	Level    slog.Level
	Format   string
	Exporter string

	// Output receives local log lines and stdout exports. Defaults to os.Stderr.
	Output io.Writer
}

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// Telemetry holds the process logger and, when export is enabled, the
// providers behind it.
type Telemetry struct {
	Logger *slog.Logger

	loggers *sdklog.LoggerProvider
	tracers *sdktrace.TracerProvider
}

// TracerProvider returns the exporting provider, or the global one when
// export is disabled.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t.tracers == nil {
		return otel.GetTracerProvider()
	}
	return t.tracers
}

// ForceFlush exports everything buffered so far without stopping the
// providers. Short-lived runtimes such as Lambda call it after each invocation.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	var errs []error
	if t.tracers != nil {
		errs = append(errs, t.tracers.ForceFlush(ctx))
	}
	if t.loggers != nil {
		errs = append(errs, t.loggers.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracers != nil {
		errs = append(errs, t.tracers.Shutdown(ctx))
	}
	if t.loggers != nil {
		errs = append(errs, t.loggers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Instrument installs the default slog logger, the global LoggerProvider and
// the global TracerProvider described by cfg.
func Instrument(ctx context.Context, cfg Config) (*Telemetry, error) {
	tel, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(tel.Logger)
	if tel.loggers != nil {
		global.SetLoggerProvider(tel.loggers)
	}
	if tel.tracers != nil {
		otel.SetTracerProvider(tel.tracers)
	}
	return tel, nil
}

// New builds the logger and providers without installing them globally.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	local, err := newLocalHandler(out, cfg.Level, cfg.Format)
	if err != nil {
		return nil, err
	}

	if cfg.Exporter == ExporterNone {
		return &Telemetry{Logger: slog.New(local)}, nil
	}

	logExporter, err := newLogExporter(ctx, cfg.Exporter, out)
	if err != nil {
		return nil, err
	}
	spanExporter, err := newSpanExporter(ctx, cfg.Exporter, out)
	if err != nil {
		return nil, err
	}

	loggers := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(logExporter), severity(cfg.Level))),
	)
	tracers := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExporter))

	bridged := otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(loggers))

	return &Telemetry{
		Logger:  slog.New(newFanoutHandler(local, bridged)),
		loggers: loggers,
		tracers: tracers,
	}, nil
}

// NewLogger builds a logger without installing it globally. The returned
// function shuts down its exporters.
func NewLogger(ctx context.Context, cfg Config) (*slog.Logger, ShutdownFunc, error) {
	tel, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return tel.Logger, tel.Shutdown, nil
}

func newLocalHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case FormatText, "":
		return slog.NewTextHandler(w, opts), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newLogExporter builds the log exporter. OTLP endpoints and headers come
// from the standard OTEL_EXPORTER_OTLP_* variables.
func newLogExporter(ctx context.Context, name string, w io.Writer) (sdklog.Exporter, error) {
	switch name {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPHTTP:
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, errors.New("unsupported log exporter: " + name)
	}
}

func newSpanExporter(ctx context.Context, name string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch name {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLPHTTP:
		return otlptracehttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlptracegrpc.New(ctx)
	default:
		return nil, errors.New("unsupported trace exporter: " + name)
	}
}

// severity maps a slog level to the minimum exported severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
