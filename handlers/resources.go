// ABOUTME: MCP resource handlers for exposing sync state
// ABOUTME: Provides read-only access to account status and unsettled sync rows via URI
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceScheme = "contactsync://"

type ResourceHandlers struct {
	service SyncService
}

func NewResourceHandlers(service SyncService) *ResourceHandlers {
	return &ResourceHandlers{service: service}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	path := strings.TrimPrefix(uri, resourceScheme)
	parts := strings.Split(path, "/")

	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return h.readStatus(ctx, uri, "")
		}
		return h.readStatus(ctx, uri, parts[1])

	case "pending":
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("pending resource requires a user id")
		}
		return h.readPending(ctx, uri, parts[1])

	default:
		return nil, mcp.ResourceNotFoundError(uri)
	}
}

func (h *ResourceHandlers) readStatus(ctx context.Context, uri, userID string) (*mcp.ReadResourceResult, error) {
	statuses, err := h.service.Status(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync status: %w", err)
	}

	out := make([]AccountStatusOutput, len(statuses))
	for i, st := range statuses {
		out[i] = accountStatusToOutput(st)
	}
	return jsonResource(uri, out)
}

func (h *ResourceHandlers) readPending(ctx context.Context, uri, userID string) (*mcp.ReadResourceResult, error) {
	entries, err := h.service.Pending(ctx, userID, nil, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending rows: %w", err)
	}

	out := make([]SyncLogOutput, len(entries))
	for i, entry := range entries {
		out[i] = syncLogToOutput(entry)
	}
	return jsonResource(uri, out)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
