package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/tool"
)

// Skill keys owning catalogue tools.
const (
	SkillLeads    = "lead_management"
	SkillCases    = "case_management"
	SkillBilling  = "billing"
	SkillDrafting = "drafting"
)

// CodeNotFound marks tool errors for unknown business records.
const CodeNotFound = "NOT_FOUND"

const excerptChars = 280

// typed adapts a handler taking decoded arguments. The argument schema is
// derived from A.
func typed[A any](def tool.Definition, fn func(ctx context.Context, tenantID string, args A) (any, error)) tool.Tool {
	var zero A

	return tool.NewFunctionToolFromStruct(def, zero, func(ctx context.Context, tenantID string, raw map[string]any) (any, error) {
		var args A

		b, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(b, &args)
		}

		if err != nil {
			return nil, tool.NewToolError(def.Name, fmt.Sprintf("decode arguments: %v", err), tool.CodeValidation)
		}

		return fn(ctx, tenantID, args)
	})
}

func notFound(toolName string, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		return tool.NewToolError(toolName, err.Error(), CodeNotFound)
	}

	return err
}

// Modules returns the catalogue grouped into loadable modules.
func Modules(bo Backoffice, threads core.ConversationStore) []tool.Module {
	return []tool.Module{
		{Name: "crm", Load: func() ([]tool.Tool, error) { return crmTools(bo), nil }},
		{Name: "matters", Load: func() ([]tool.Tool, error) { return matterTools(bo, threads), nil }},
		{Name: "billing", Load: func() ([]tool.Tool, error) { return billingTools(bo), nil }},
		{Name: "communications", Load: func() ([]tool.Tool, error) { return communicationTools(bo), nil }},
		{Name: "approvals", Load: func() ([]tool.Tool, error) { return approvalTools(bo), nil }},
	}
}

type lookupLeadArgs struct {
	Email string `json:"email,omitempty" description:"Email address of the prospective client"`
	Name  string `json:"name,omitempty" description:"Full name of the prospective client"`
}

type createLeadArgs struct {
	Name    string `json:"name" description:"Full name of the prospective client"`
	Email   string `json:"email" description:"Email address"`
	Phone   string `json:"phone,omitempty" description:"Phone number"`
	Source  string `json:"source,omitempty" description:"How the lead reached the firm" enum:"website,referral,phone,email,walk_in,other"`
	Summary string `json:"summary,omitempty" description:"Short description of the legal issue"`
}

func crmTools(bo Backoffice) []tool.Tool {
	return []tool.Tool{
		typed(tool.Definition{
			Name:        "lookup_lead",
			Description: "Find prospective clients by email or name.",
		}, func(ctx context.Context, tenantID string, args lookupLeadArgs) (any, error) {
			filter := Record{}
			if args.Email != "" {
				filter["email"] = args.Email
			}

			if args.Name != "" {
				filter["name"] = args.Name
			}

			if len(filter) == 0 {
				return nil, tool.NewToolError("lookup_lead", "email or name is required", tool.CodeValidation)
			}

			leads, err := bo.Find(ctx, tenantID, KindLead, filter)
			if err != nil {
				return nil, err
			}

			return map[string]any{"leads": leads, "count": len(leads)}, nil
		}),
		typed(tool.Definition{
			Name:        "create_lead",
			Description: "Record a new prospective client. Returns the existing lead when the email is already known.",
			Skill:       SkillLeads,
		}, func(ctx context.Context, tenantID string, args createLeadArgs) (any, error) {
			existing, err := bo.Find(ctx, tenantID, KindLead, Record{"email": args.Email})
			if err != nil {
				return nil, err
			}

			if len(existing) > 0 {
				return map[string]any{"lead": existing[0], "created": false}, nil
			}

			source := args.Source
			if source == "" {
				source = "other"
			}

			lead, err := bo.Create(ctx, tenantID, KindLead, Record{
				"name":    args.Name,
				"email":   args.Email,
				"phone":   args.Phone,
				"source":  source,
				"summary": args.Summary,
				"status":  "new",
			})
			if err != nil {
				return nil, err
			}

			return map[string]any{"lead": lead, "created": true}, nil
		}),
	}
}

type matterArgs struct {
	MatterID string `json:"matter_id" description:"Matter reference, e.g. M-2024-001"`
}

type matterNoteArgs struct {
	MatterID string `json:"matter_id" description:"Matter reference"`
	Note     string `json:"note" description:"Note text to file on the matter"`
}

type summarizeThreadArgs struct {
	ThreadID string `json:"thread_id" description:"Conversation thread id"`
	Last     int    `json:"last,omitempty" description:"Number of recent messages to include (default 5)"`
}

func matterTools(bo Backoffice, threads core.ConversationStore) []tool.Tool {
	return []tool.Tool{
		typed(tool.Definition{
			Name:        "lookup_matter",
			Description: "Look up a matter by its reference.",
		}, func(ctx context.Context, tenantID string, args matterArgs) (any, error) {
			matter, err := bo.Get(ctx, tenantID, KindMatter, args.MatterID)
			if err != nil {
				return nil, notFound("lookup_matter", err)
			}

			return matter, nil
		}),
		typed(tool.Definition{
			Name:        "add_matter_note",
			Description: "File an internal note on a matter.",
			Skill:       SkillCases,
		}, func(ctx context.Context, tenantID string, args matterNoteArgs) (any, error) {
			if _, err := bo.Get(ctx, tenantID, KindMatter, args.MatterID); err != nil {
				return nil, notFound("add_matter_note", err)
			}

			note, err := bo.Create(ctx, tenantID, KindNote, Record{"matter_id": args.MatterID, "text": args.Note})
			if err != nil {
				return nil, err
			}

			return map[string]any{"note_id": note["id"], "matter_id": args.MatterID}, nil
		}),
		typed(tool.Definition{
			Name:        "summarize_thread",
			Description: "Summarize a conversation thread: participants, size and the most recent messages.",
		}, func(ctx context.Context, tenantID string, args summarizeThreadArgs) (any, error) {
			return summarizeThread(ctx, threads, tenantID, args)
		}),
	}
}

func summarizeThread(ctx context.Context, threads core.ConversationStore, tenantID string, args summarizeThreadArgs) (any, error) {
	msgs, err := threads.ListThread(ctx, tenantID, args.ThreadID)
	if err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		return nil, tool.NewToolError("summarize_thread", "thread "+args.ThreadID+" has no messages", CodeNotFound)
	}

	last := args.Last
	if last <= 0 {
		last = 5
	}

	participants := map[string]bool{}
	toolCalls := 0

	for _, m := range msgs {
		for _, id := range []string{m.SenderUserID, m.SenderAgentID, m.RecipientAgentID} {
			if id != "" {
				participants[id] = true
			}
		}

		toolCalls += len(m.ToolCalls)
	}

	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	start := max(len(msgs)-last, 0)

	recent := make([]map[string]string, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		if m.Role == core.MessageRoleTool {
			continue
		}

		recent = append(recent, map[string]string{
			"role":    string(m.Role),
			"content": core.Truncate(m.Content, excerptChars),
		})
	}

	return map[string]any{
		"thread_id":    args.ThreadID,
		"messages":     len(msgs),
		"tool_calls":   toolCalls,
		"participants": ids,
		"started_at":   msgs[0].CreatedAt,
		"recent":       recent,
	}, nil
}

type invoiceArgs struct {
	ClientID string `json:"client_id,omitempty" description:"Restrict to one client"`
}

func billingTools(bo Backoffice) []tool.Tool {
	return []tool.Tool{
		typed(tool.Definition{
			Name:        "list_open_invoices",
			Description: "List unpaid invoices with the total amount outstanding.",
			Skill:       SkillBilling,
		}, func(ctx context.Context, tenantID string, args invoiceArgs) (any, error) {
			filter := Record{"status": "open"}
			if args.ClientID != "" {
				filter["client_id"] = args.ClientID
			}

			invoices, err := bo.Find(ctx, tenantID, KindInvoice, filter)
			if err != nil {
				return nil, err
			}

			var total float64
			for _, inv := range invoices {
				total += amount(inv["amount"])
			}

			return map[string]any{"invoices": invoices, "count": len(invoices), "total_open": total}, nil
		}),
	}
}

func amount(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}

	return 0
}

type draftEmailArgs struct {
	To       string `json:"to" description:"Recipient email address"`
	Subject  string `json:"subject" description:"Subject line"`
	Body     string `json:"body" description:"Plain-text body"`
	MatterID string `json:"matter_id,omitempty" description:"Related matter reference"`
}

func communicationTools(bo Backoffice) []tool.Tool {
	return []tool.Tool{
		typed(tool.Definition{
			Name:        "draft_email",
			Description: "Prepare an email draft for review. Nothing is sent.",
			Skill:       SkillDrafting,
		}, func(ctx context.Context, tenantID string, args draftEmailArgs) (any, error) {
			draft, err := bo.Create(ctx, tenantID, KindCommunication, Record{
				"channel":   "email",
				"to":        args.To,
				"subject":   args.Subject,
				"body":      args.Body,
				"matter_id": args.MatterID,
				"status":    "draft",
			})
			if err != nil {
				return nil, err
			}

			return map[string]any{"draft_id": draft["id"], "status": "draft"}, nil
		}),
	}
}

type actionArgs struct {
	Summary  string         `json:"summary" description:"What should be done and why"`
	Target   string         `json:"target,omitempty" description:"Record, recipient or court the action concerns"`
	MatterID string         `json:"matter_id,omitempty" description:"Related matter reference"`
	Details  map[string]any `json:"details,omitempty" description:"Additional structured details"`
}

var approvalDescriptions = map[string]string{
	"send_communication":  "Send a prepared communication to a client or third party.",
	"file_court_document": "File a document with a court.",
	"submit_to_notary":    "Submit a document to a notary.",
	"disburse_payment":    "Pay out money from a client or firm account.",
	"sign_document":       "Sign a document on behalf of the firm.",
	"delete_record":       "Permanently delete a business record.",
	"publish_document":    "Publish a document outside the firm.",
}

// approvalTools are never run by an agent on its own: every call requires
// human approval, after which the action request is recorded.
func approvalTools(bo Backoffice) []tool.Tool {
	names := make([]string, 0, len(approvalDescriptions))
	for name := range approvalDescriptions {
		names = append(names, name)
	}

	sort.Strings(names)

	tools := make([]tool.Tool, 0, len(names))

	for _, name := range names {
		tools = append(tools, typed(tool.Definition{
			Name:             name,
			Description:      approvalDescriptions[name] + " Requires human approval.",
			RequiresApproval: true,
		}, func(ctx context.Context, tenantID string, args actionArgs) (any, error) {
			req, err := bo.Create(ctx, tenantID, KindActionRequest, Record{
				"action":    name,
				"summary":   args.Summary,
				"target":    args.Target,
				"matter_id": args.MatterID,
				"details":   args.Details,
				"status":    "submitted",
			})
			if err != nil {
				return nil, err
			}

			return map[string]any{"request_id": req["id"], "status": "submitted"}, nil
		}))
	}

	return tools
}
