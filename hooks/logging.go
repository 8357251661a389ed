package hooks

import (
	"context"
	"encoding/json"
	"log"

	"github.com/youssefsiam38/ragpg/storage"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *log.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *log.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: log.Default()}
}

// Attach registers every logging hook on r.
func (h *LoggingHooks) Attach(r *Registry) {
	r.OnAnswerStart(h.AnswerStart)
	r.OnAnswerComplete(h.AnswerComplete)
	r.OnToolCall(h.ToolCall)
	r.OnToolResult(h.ToolResult)
	r.OnJobStateChange(h.JobStateChange)
}

// AnswerStart logs the start of an orchestration loop
func (h *LoggingHooks) AnswerStart(ctx context.Context, tenantID, sessionID, query string) error {
	h.logger.Printf("[RAGPG] Answer start: tenant=%s session=%s", tenantID, sessionID)
	return nil
}

// AnswerComplete logs the outcome of an orchestration loop
func (h *LoggingHooks) AnswerComplete(ctx context.Context, tenantID, sessionID, answer string, err error) error {
	if err != nil {
		h.logger.Printf("[RAGPG] Answer failed: tenant=%s session=%s error=%v", tenantID, sessionID, err)
	} else {
		h.logger.Printf("[RAGPG] Answer complete: tenant=%s session=%s chars=%d", tenantID, sessionID, len(answer))
	}
	return nil
}

// ToolCall logs a tool about to execute
func (h *LoggingHooks) ToolCall(ctx context.Context, toolName string, input json.RawMessage) error {
	h.logger.Printf("[RAGPG] Tool '%s' invoked", toolName)
	return nil
}

// ToolResult logs tool execution results
func (h *LoggingHooks) ToolResult(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error {
	if err != nil {
		h.logger.Printf("[RAGPG] Tool '%s' failed: %v", toolName, err)
	} else {
		outputPreview := output
		if len(outputPreview) > 100 {
			outputPreview = outputPreview[:100] + "..."
		}
		h.logger.Printf("[RAGPG] Tool '%s' succeeded: %s", toolName, outputPreview)
	}
	return nil
}

// JobStateChange logs ingestion job transitions
func (h *LoggingHooks) JobStateChange(ctx context.Context, job *storage.IngestionJob) error {
	h.logger.Printf("[RAGPG] Job %s -> %s (tenant=%s, retries=%d)", job.JobID, job.Status, job.TenantID, job.RetryCount)
	return nil
}

// MetricsHooks collects metrics for monitoring
type MetricsHooks struct {
	OnMetric func(name string, value float64, tags map[string]string)
}

// NewMetricsHooks creates metrics collection hooks
func NewMetricsHooks(onMetric func(string, float64, map[string]string)) *MetricsHooks {
	return &MetricsHooks{OnMetric: onMetric}
}

// Attach registers every metrics hook on r.
func (h *MetricsHooks) Attach(r *Registry) {
	r.OnAnswerComplete(h.AnswerComplete)
	r.OnToolResult(h.ToolResult)
	r.OnJobStateChange(h.JobStateChange)
}

// AnswerComplete records answer outcome metrics
func (h *MetricsHooks) AnswerComplete(ctx context.Context, tenantID, sessionID, answer string, err error) error {
	tags := map[string]string{"tenant": tenantID}

	if err != nil {
		h.OnMetric("ragpg.answer.error", 1, tags)
	} else {
		h.OnMetric("ragpg.answer.success", 1, tags)
	}

	return nil
}

// ToolResult records tool execution metrics
func (h *MetricsHooks) ToolResult(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error {
	tags := map[string]string{"tool": toolName}

	if err != nil {
		h.OnMetric("ragpg.tool.error", 1, tags)
	} else {
		h.OnMetric("ragpg.tool.success", 1, tags)
	}

	return nil
}

// JobStateChange records job transition metrics
func (h *MetricsHooks) JobStateChange(ctx context.Context, job *storage.IngestionJob) error {
	tags := map[string]string{"tenant": job.TenantID}
	h.OnMetric("ragpg.job."+string(job.Status), 1, tags)
	return nil
}
