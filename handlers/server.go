// ABOUTME: MCP server assembly for the sync tools, resources, and prompts
// ABOUTME: Shared by the mcp command and the handler tests
package handlers

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer registers every sync tool, resource, and prompt on a new MCP server.
func NewServer(version string, service SyncService, notifier ChangeNotifier) *mcp.Server {
	syncHandlers := NewSyncHandlers(service, notifier)
	resourceHandlers := NewResourceHandlers(service)
	promptHandlers := NewPromptHandlers(service)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "contactsync",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_contacts",
		Description: "Run a full two-way sync between a user's local contacts and their linked contact directory",
	}, syncHandlers.SyncContacts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Show last sync times, errors, and per-status contact counts for linked accounts",
	}, syncHandlers.SyncStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "notify_contact_change",
		Description: "Push a single local contact create, update, or delete to the linked contact directory",
	}, syncHandlers.NotifyContactChange)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_pending_sync",
		Description: "List contacts whose sync is pending or failed, oldest first",
	}, syncHandlers.ListPendingSync)

	server.AddResource(&mcp.Resource{
		URI:         resourceScheme + "accounts",
		Name:        "accounts",
		Description: "Sync status of every linked account",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "accounts/{user_id}",
		Name:        "account",
		Description: "Sync status of one user's linked account",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "pending/{user_id}",
		Name:        "pending",
		Description: "Unsettled sync rows for one user's linked account",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	server.AddPrompt(&mcp.Prompt{
		Name:        "sync-triage",
		Description: "Diagnose an account's sync errors and pending contacts",
		Arguments: []*mcp.PromptArgument{
			{Name: "user_id", Description: "Local user whose account to inspect", Required: true},
		},
	}, promptHandlers.GetPrompt)

	return server
}
