package agent

import (
	"context"
	"strings"

	"github.com/atriumhq/atrium/pkg/tool"
)

// DynamicRule derives per-turn tools from the chat input. Rules returning
// nothing cost nothing; returned tools live only for the turn.
type DynamicRule func(input *ChatInput) []tool.Tool

const pageContentToolName = "getPageContent"

// pageContentInstruction is appended to the system prompt whenever the
// page tool is injected.
const pageContentInstruction = "The user is currently viewing a page. " +
	"Use the getPageContent tool to read it before answering questions about it."

// Section markers recognized in page content.
const (
	tablesMarker = "--- Data Tables ---"
	formsMarker  = "--- Form Fields ---"
)

// pageContextRule injects a getPageContent tool when the request carries
// page text in metadata.pageContext.
func pageContextRule(input *ChatInput) []tool.Tool {
	if input == nil {
		return nil
	}
	page, ok := input.Metadata["pageContext"].(string)
	if !ok || page == "" {
		return nil
	}
	return []tool.Tool{pageContentTool(page)}
}

func pageContentTool(page string) tool.Tool {
	spec := &tool.ArgSpec{
		Kind: tool.KindRecord,
		Fields: map[string]*tool.ArgSpec{
			"section": {
				Kind:        tool.KindEnum,
				Enum:        []string{"all", "tables", "forms", "headings"},
				Description: "Which part of the page to return. Defaults to all.",
			},
		},
	}
	return tool.NewFunc(pageContentToolName,
		"Returns the content of the page the user is currently viewing.",
		spec,
		func(_ context.Context, args map[string]any) (string, error) {
			section, _ := args["section"].(string)
			return pageSection(page, section), nil
		})
}

// pageSection extracts one view of the page text. Unknown sections cannot
// reach here; the enum is validated before the call.
func pageSection(page, section string) string {
	switch section {
	case "tables":
		return markedSection(page, tablesMarker)
	case "forms":
		return markedSection(page, formsMarker)
	case "headings":
		var headings []string
		for _, line := range strings.Split(page, "\n") {
			if strings.HasPrefix(line, "#") {
				headings = append(headings, line)
			}
		}
		return strings.Join(headings, "\n")
	default:
		return page
	}
}

// markedSection returns the lines between marker and the next "--- "
// marker, or the empty string when the page has no such section.
func markedSection(page, marker string) string {
	lines := strings.Split(page, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == marker {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "--- ") {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}
