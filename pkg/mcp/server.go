package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/permission"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
)

// Dependencies are the services the MCP server exposes. Verifier is
// required; tools for nil services are not registered.
type Dependencies struct {
	Verifier   Verifier
	Guard      *Guard
	A2A        *a2a.Service
	Reputation *reputation.Engine

	// GuardConfig applies to every authorize_tool call.
	GuardConfig *EvaluateConfig
	Version     string
}

// Server adapts the AgentID services to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	deps      Dependencies
}

// NewServer creates the server and registers its tools and prompts.
func NewServer(deps Dependencies) *Server {
	if deps.Version == "" {
		deps.Version = "1.0.0"
	}
	if deps.Guard == nil && deps.Verifier != nil {
		deps.Guard = NewGuard(deps.Verifier, nil)
	}
	s := &Server{
		mcpServer: server.NewMCPServer("agentid", deps.Version),
		deps:      deps,
	}
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server, for alternative transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	if s.deps.Verifier != nil {
		s.mcpServer.AddTool(mcp.NewTool(
			"verify_credential",
			mcp.WithDescription("Verify an agent credential by id or full signed payload, optionally checking one action."),
			mcp.WithString("credential_id", mcp.Description("Stored credential id")),
			mcp.WithString("credential", mcp.Description("Full signed credential JSON, instead of credential_id")),
			mcp.WithString("action", mcp.Description("Action to check after verification (e.g. 'read:documents')")),
			mcp.WithString("resource", mcp.Description("Resource the action targets")),
			mcp.WithString("region", mcp.Description("Caller region for region-restricted grants")),
		), s.handleVerify)

		s.mcpServer.AddTool(mcp.NewTool(
			"authorize_tool",
			mcp.WithDescription("Decide whether a credential may invoke a tool. Always records evidence."),
			mcp.WithString("tool_name", mcp.Required(), mcp.Description("Tool being invoked")),
			mcp.WithString("credential_id", mcp.Required(), mcp.Description("Credential of the calling agent")),
			mcp.WithString("params_hash", mcp.Description("SHA-256 of the canonical tool parameters")),
		), s.handleAuthorizeTool)
	}

	if s.deps.A2A != nil {
		s.mcpServer.AddTool(mcp.NewTool(
			"check_a2a_authorization",
			mcp.WithDescription("Check whether an approved agent-to-agent authorization covers an action."),
			mcp.WithString("requester_credential_id", mcp.Required(), mcp.Description("Credential asking to act")),
			mcp.WithString("grantor_credential_id", mcp.Required(), mcp.Description("Credential that granted access")),
			mcp.WithString("action", mcp.Required(), mcp.Description("Action to perform")),
			mcp.WithString("resource", mcp.Description("Resource the action targets")),
			mcp.WithString("region", mcp.Description("Caller region")),
		), s.handleCheckA2A)
	}

	if s.deps.Reputation != nil {
		s.mcpServer.AddTool(mcp.NewTool(
			"get_reputation",
			mcp.WithDescription("Return a credential's trust score and score analytics."),
			mcp.WithString("credential_id", mcp.Required(), mcp.Description("Credential id")),
			mcp.WithNumber("forecast_periods", mcp.Description("Number of future points to forecast (default 0)")),
		), s.handleReputation)
	}
}

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"agentid-aware",
		mcp.WithPromptDescription("Explains AgentID credentials, permissions and A2A authorizations"),
	), s.handleGetPrompt)
}

func (s *Server) handleVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := credential.Request{CredentialID: mcp.ParseString(request, "credential_id", "")}
	if raw := mcp.ParseString(request, "credential", ""); raw != "" {
		if !json.Valid([]byte(raw)) {
			return mcp.NewToolResultError("credential is not valid JSON"), nil
		}
		req.Credential = json.RawMessage(raw)
	}
	if action := mcp.ParseString(request, "action", ""); action != "" {
		req.CheckPermission = &credential.PermissionCheck{
			Action:   action,
			Resource: mcp.ParseString(request, "resource", ""),
			Context:  permission.Context{Region: mcp.ParseString(request, "region", "")},
		}
	}
	return jsonResult(s.deps.Verifier.Verify(ctx, req))
}

func (s *Server) handleAuthorizeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool := mcp.ParseString(request, "tool_name", "")
	if tool == "" {
		return mcp.NewToolResultError("tool_name is required"), nil
	}
	res := s.deps.Guard.EvaluateToolAccess(ctx,
		tool,
		mcp.ParseString(request, "params_hash", ""),
		credential.Request{CredentialID: mcp.ParseString(request, "credential_id", "")},
		s.deps.GuardConfig,
	)
	return jsonResult(res)
}

func (s *Server) handleCheckA2A(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.deps.A2A.Check(ctx, a2a.CheckRequest{
		RequesterCredentialID: mcp.ParseString(request, "requester_credential_id", ""),
		GrantorCredentialID:   mcp.ParseString(request, "grantor_credential_id", ""),
		Action:                mcp.ParseString(request, "action", ""),
		Resource:              mcp.ParseString(request, "resource", ""),
		Context:               permission.Context{Region: mcp.ParseString(request, "region", "")},
	})
	if err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	return jsonResult(res)
}

type reputationView struct {
	*reputation.Record
	Analytics reputation.Analytics `json:"analytics"`
}

func (s *Server) handleReputation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "credential_id", "")
	rec, err := s.deps.Reputation.Get(ctx, id)
	if err != nil {
		if errors.Is(err, reputation.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no reputation record for %q", id)), nil
		}
		return mcp.NewToolResultError(toolError(err)), nil
	}
	analytics, err := reputation.Analyze(rec.Series(), reputation.AnalyzeOptions{
		Periods: mcp.ParseInt(request, "forecast_periods", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(reputationView{Record: rec, Analytics: analytics})
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	if request.Params.Name != "agentid-aware" {
		return nil, fmt.Errorf("prompt not found: %s", request.Params.Name)
	}

	promptText := `You are working with AgentID, which issues signed credentials to AI agents.

Concepts:
- Credential: a signed document naming an agent, its issuer and its permissions.
- Permission: an action pattern such as 'read:*', optionally with conditions and rate limits.
- A2A authorization: a grant from one agent's credential to another's, approved by the grantor.
- Trust score: 0-100 reputation derived from verification history.

Before acting on behalf of another agent, use 'check_a2a_authorization'.
Before invoking a sensitive tool, use 'authorize_tool'. If access is DENIED, do not proceed.
`
	return mcp.NewGetPromptResult(
		"agentid-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError hides internal failure detail from the agent.
func toolError(err error) string {
	if a2a.KindOf(err) == a2a.KindInternal {
		return "internal error"
	}
	return err.Error()
}
