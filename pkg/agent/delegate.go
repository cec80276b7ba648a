package agent

import (
	"context"
	"fmt"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/tool"
)

// delegationTool exposes another hosted agent as a tool. The target is
// resolved at call time, so agents can reference each other regardless of
// load order. Failures are reported as tool result content, not errors,
// so the calling model can recover.
func delegationTool(target config.DelegationTarget, resolver Resolver) tool.Tool {
	description := target.Description
	if description == "" {
		description = fmt.Sprintf("Delegate to the %s agent", target.AgentPath)
	}
	spec := &tool.ArgSpec{
		Kind: tool.KindRecord,
		Fields: map[string]*tool.ArgSpec{
			"message": {
				Kind:        tool.KindString,
				Description: "The message to send to the agent.",
			},
		},
		Required: []string{"message"},
	}
	return tool.NewFunc(target.ToolName, description, spec,
		func(ctx context.Context, args map[string]any) (string, error) {
			message, _ := args["message"].(string)
			text, err := delegate(ctx, resolver, target.AgentPath, message)
			if err != nil {
				return fmt.Sprintf("Error: Failed to get response from %s agent. %v", target.AgentPath, err), nil
			}
			return text, nil
		})
}

func delegate(ctx context.Context, resolver Resolver, path, message string) (string, error) {
	target, err := resolver.Get(path)
	if err != nil {
		return "", err
	}
	out, err := target.Chat(ctx, &ChatInput{Message: message})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
