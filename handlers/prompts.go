// ABOUTME: MCP prompt handlers for sync troubleshooting workflows
// ABOUTME: Builds a triage prompt from an account's status and its unsettled sync rows
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/harperreed/contactsync/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PromptHandlers struct {
	service SyncService
}

func NewPromptHandlers(service SyncService) *PromptHandlers {
	return &PromptHandlers{service: service}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	arguments := request.Params.Arguments
	switch name {
	case "sync-triage":
		return h.getSyncTriagePrompt(ctx, arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}
}

func (h *PromptHandlers) getSyncTriagePrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	userID, ok := args["user_id"]
	if !ok || userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	statuses, err := h.service.Status(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync status: %w", err)
	}
	entries, err := h.service.Pending(ctx, userID, nil, 25)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending rows: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString("Please help diagnose the contact sync state for this account:\n\n")
	for _, st := range statuses {
		out := accountStatusToOutput(st)
		promptText.WriteString(fmt.Sprintf("User: %s\n", out.UserID))
		if out.Email != "" {
			promptText.WriteString(fmt.Sprintf("Account: %s\n", out.Email))
		}
		promptText.WriteString(fmt.Sprintf("Last sync started: %s\n", orNever(out.LastSyncInitiated)))
		promptText.WriteString(fmt.Sprintf("Last sync succeeded: %s\n", orNever(out.LastSyncSuccessful)))
		if out.ErrorMessage != "" {
			promptText.WriteString(fmt.Sprintf("Account error: %s\n", out.ErrorMessage))
		}
		for _, status := range models.SyncStatuses {
			if n := st.Counts[status]; n > 0 {
				promptText.WriteString(fmt.Sprintf("  %s: %d\n", status, n))
			}
		}
	}

	if len(entries) > 0 {
		promptText.WriteString(fmt.Sprintf("\nUnsettled contacts (%d shown):\n", len(entries)))
		for _, entry := range entries {
			promptText.WriteString(fmt.Sprintf("- %s %s: %s", entry.LocalKind, entry.LocalID, entry.Status))
			if entry.ErrorMessage != "" {
				promptText.WriteString(fmt.Sprintf(" (%s)", entry.ErrorMessage))
			}
			promptText.WriteString("\n")
		}
	} else {
		promptText.WriteString("\nNo unsettled contacts.\n")
	}

	promptText.WriteString("\nPlease analyze this sync state and provide:")
	promptText.WriteString("\n1. Whether the account needs to be re-linked")
	promptText.WriteString("\n2. Which failures are likely to clear on the next pass and which need attention")
	promptText.WriteString("\n3. Next steps, using sync_contacts or notify_contact_change where useful")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Sync triage for user: %s", userID),
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{
					Text: promptText.String(),
				},
			},
		},
	}, nil
}

func orNever(s string) string {
	if s == "" {
		return "never"
	}
	return s
}
