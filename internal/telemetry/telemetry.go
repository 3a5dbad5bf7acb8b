// Package telemetry turns orchestrator spans into journey log entries.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Journal receives one line per finished span. *logbook.Logbook satisfies it.
type Journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Provider owns the tracer provider used by the wizard.
type Provider struct {
	sdk *sdktrace.TracerProvider
}

// NewProvider returns a provider that writes finished spans to journal.
// A nil journal yields a provider whose tracers record nothing.
func NewProvider(journal Journal) *Provider {
	if journal == nil {
		return &Provider{}
	}
	sdk := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&journalProcessor{journal: journal}))
	return &Provider{sdk: sdk}
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.sdk == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.sdk.Tracer(name)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

type journalProcessor struct {
	journal Journal
}

func (p *journalProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *journalProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p == nil || p.journal == nil {
		return
	}
	line := FormatSpan(span.Name(), span.Attributes(), span.EndTime().Sub(span.StartTime()))
	for _, event := range span.Events() {
		if event.Name == "exception" {
			continue
		}
		line += " event=" + quote(event.Name)
	}
	status := span.Status()
	switch {
	case status.Code == codes.Error:
		p.journal.Error("%s error=%s", line, quote(status.Description))
	case len(span.Events()) > 0:
		p.journal.Warn("%s", line)
	default:
		p.journal.Info("%s", line)
	}
}

func (p *journalProcessor) Shutdown(context.Context) error {
	return nil
}

func (p *journalProcessor) ForceFlush(context.Context) error {
	return nil
}

// FormatSpan renders a span as "name key=value ... (duration)" with the
// stepflow. prefix dropped from attribute keys.
func FormatSpan(name string, attrs []attribute.KeyValue, elapsed time.Duration) string {
	parts := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.TrimPrefix(string(attr.Key), "stepflow.")
		parts = append(parts, key+"="+quote(attr.Value.Emit()))
	}
	sort.Strings(parts)
	out := name
	if len(parts) > 0 {
		out += " " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("%s (%s)", out, elapsed.Round(time.Millisecond))
}

func quote(value string) string {
	if value == "" || strings.ContainsAny(value, " \t\"=") {
		return fmt.Sprintf("%q", value)
	}
	return value
}
