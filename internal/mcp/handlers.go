package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// ListRequest represents the arguments for record_list.
type ListRequest struct {
	State    string `json:"state,omitempty"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// ShowRequest represents the arguments for record_show.
type ShowRequest struct {
	Ref         string `json:"ref"`
	IncludeHTML bool   `json:"include_html,omitempty"`
}

// ResetRequest represents the arguments for record_reset.
type ResetRequest struct {
	Ref string `json:"ref"`
}

// PurgeRequest represents the arguments for record_purge.
type PurgeRequest struct {
	OlderThanDays int    `json:"older_than_days"`
	State         string `json:"state,omitempty"`
}

// ReportRequest represents the arguments for report.
type ReportRequest struct {
	Since string `json:"since,omitempty"`
}

// HandleList handles the record_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.List(h.db, ops.ListInput{
		State:    input.State,
		Category: input.Category,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	// Rendered replies are only returned by record_show.
	for i := range result.Items {
		result.Items[i].RenderedHTML = nil
	}

	return successResult(result)
}

// HandleShow handles the record_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ShowRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Show(h.db, ops.ShowInput{Ref: input.Ref, IncludeHTML: input.IncludeHTML})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReset handles the record_reset tool call.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ResetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Reset(ctx, h.db, ops.ResetInput{Ref: input.Ref})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePurge handles the record_purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Purge(ctx, h.db, ops.PurgeInput{
		OlderThanDays: input.OlderThanDays,
		State:         input.State,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReport handles the report tool call.
func (h *Handlers) HandleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	since, err := parseSince(input.Since)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Report(h.db, ops.ReportInput{Since: since})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// parseSince accepts a local date or an RFC 3339 timestamp; empty means the zero time.
func parseSince(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest("since must be YYYY-MM-DD or RFC 3339")
	}
	return t, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if qe, ok := errors.As(err); ok {
		msg := qe.Message
		if err != error(qe) {
			// Keep the wrapper context, e.g. "approve: ..."
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    qe.Code,
			"message": msg,
			"status":  qe.Status,
		}
		if qe.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if qe.Details != nil {
			errorObj["details"] = qe.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
