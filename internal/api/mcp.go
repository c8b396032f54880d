package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/ingest"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
	"github.com/kalambet/tapping/internal/tag"
	"github.com/kalambet/tapping/internal/vcard"
)

// MCPDeps holds dependencies for the MCP server. Scan.Store defaults to
// Store.
type MCPDeps struct {
	Store *storage.Store
	Scan  scan.Deps
}

// NewMCPServer creates an MCP server with the scanning tools and the
// recent-contacts resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Scan.Store == nil && deps.Store != nil {
		deps.Scan.Store = deps.Store
	}

	s := server.NewMCPServer(
		"tapping",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tapping: scan business cards, QR codes and tags into a local contact book."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("scan_text",
			mcp.WithDescription("Turn scanned text (QR payload, tag payload or document text) into a stored contact."),
			mcp.WithString("data", mcp.Description("The scanned payload text"), mcp.Required()),
			mcp.WithString("intent", mcp.Description("One of qr, nfc, document (default qr)")),
		),
		mcpScanText(deps),
	)

	s.AddTool(
		mcp.NewTool("scan_image",
			mcp.WithDescription("Queue a photographed business card or badge for background extraction."),
			mcp.WithString("path", mcp.Description("Path to the image file"), mcp.Required()),
			mcp.WithString("intent", mcp.Description("paper-card or badge (default paper-card)")),
		),
		mcpScanImage(deps),
	)

	s.AddTool(
		mcp.NewTool("decode_tag",
			mcp.WithDescription("Decode a proximity-tag payload without storing anything."),
			mcp.WithString("payload", mcp.Description("Tag payload text"), mcp.Required()),
		),
		mcpDecodeTag(),
	)

	s.AddTool(
		mcp.NewTool("list_contacts",
			mcp.WithDescription("List stored contacts, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of contacts (default 10)")),
		),
		mcpListContacts(deps),
	)

	s.AddTool(
		mcp.NewTool("export_vcard",
			mcp.WithDescription("Export a stored contact as a vCard 3.0 document."),
			mcp.WithString("id", mcp.Description("Contact id"), mcp.Required()),
		),
		mcpExportVCard(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"contacts://recent",
			"Recent Contacts",
			mcp.WithResourceDescription("Last 10 stored contacts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpScanText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := req.RequireString("data")
		if err != nil {
			return mcpError("data is required"), nil
		}
		intent, ok := contact.ParseIntent(req.GetString("intent", ""))
		if !ok || intent.IsOptical() {
			return mcpError("intent must be qr, nfc or document"), nil
		}

		sr := scan.Request{Intent: intent, Data: data, Requester: "mcp"}
		if intent == contact.IntentTag {
			sr.Tag = tag.Decode(data)
		}
		ctrl := scan.NewController(deps.Scan, nil)
		defer ctrl.Close()

		c, err := ctrl.Run(ctx, sr)
		if err != nil {
			if f, ok := scan.AsFailure(err); ok {
				return mcpError(fmt.Sprintf("%s: %s", f.Kind, f.Reason)), nil
			}
			return mcpError(err.Error()), nil
		}
		return mcpJSON(c)
	}
}

func mcpScanImage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		intent, ok := contact.ParseIntent(req.GetString("intent", string(contact.IntentPaperCard)))
		if !ok || !intent.IsOptical() {
			return mcpError("intent must be paper-card or badge"), nil
		}
		id, err := ingest.Enqueue(deps.Store, ingest.Payload{Intent: intent, ImagePath: path})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue scan: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued scan job %s", id)), nil
	}
}

func mcpDecodeTag() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload, err := req.RequireString("payload")
		if err != nil {
			return mcpError("payload is required"), nil
		}
		d := tag.Decode(payload)
		return mcpJSON(TagDecodeResponse{Type: d.Type(), Content: tag.Content(d)})
	}
}

func mcpListContacts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		contacts, err := deps.Store.ListContacts(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list contacts: %v", err)), nil
		}
		if len(contacts) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(contacts)
	}
}

func mcpExportVCard(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		c, err := deps.Store.GetContact(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("contact %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get contact: %v", err)), nil
		}
		return mcpText(vcard.EncodeContact(c)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		contacts, err := deps.Store.ListContacts(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list contacts: %w", err)
		}

		type contactSummary struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			Company        string `json:"company,omitempty"`
			MeetingContext string `json:"meeting_context,omitempty"`
		}

		summaries := make([]contactSummary, len(contacts))
		for i, c := range contacts {
			summaries[i] = contactSummary{
				ID:             c.ID,
				Name:           c.Name,
				Company:        c.ContactInfo.Company,
				MeetingContext: c.MeetingContext,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal contacts: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
