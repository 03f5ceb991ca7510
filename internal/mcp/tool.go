package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/aye/internal/llm"
)

// ToolSpecs exposes every cached MCP tool to the model. Names are prefixed
// with the server id to keep them unique across servers.
func ToolSpecs(m *Manager) []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, st := range m.AllTools() {
		for _, tool := range st.Tools {
			specs = append(specs, llm.ToolSpec{
				Name:        st.ServerID + "__" + tool.Name,
				Description: fmt.Sprintf("[%s] %s", st.ServerID, tool.Description),
				Schema:      tool.InputSchema,
			})
		}
	}
	return specs
}

// parseToolName extracts server id and tool name from a prefixed name.
func parseToolName(fullName string) (serverID, toolName string) {
	if i := strings.Index(fullName, "__"); i >= 0 {
		return fullName[:i], fullName[i+2:]
	}
	return "", fullName
}

// ExecuteToolCall runs a tool call produced by a model against the server
// its name is prefixed with.
func (m *Manager) ExecuteToolCall(ctx context.Context, call llm.ToolCall) (ToolCallResponse, error) {
	serverID, toolName := parseToolName(call.Name)
	if serverID == "" {
		return ToolCallResponse{}, fmt.Errorf("invalid MCP tool name: %s (expected serverid__toolname)", call.Name)
	}

	args := map[string]any{}
	switch v := llm.ParseToolArguments(call.Arguments).(type) {
	case map[string]any:
		args = v
	case string:
		return ToolCallResponse{Content: []map[string]any{}, Error: "tool arguments are not valid JSON"}, nil
	default:
		raw, _ := json.Marshal(v)
		return ToolCallResponse{Content: []map[string]any{}, Error: "tool arguments must be an object, got " + string(raw)}, nil
	}

	return m.CallTool(ctx, ToolCallRequest{ServerID: serverID, ToolName: toolName, Arguments: args})
}
