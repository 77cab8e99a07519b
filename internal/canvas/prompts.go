package canvas

import (
	"fmt"
	"strings"

	"kno-canvas/internal/models"
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func titleList(inputs []models.CanvasNode) string {
	lines := make([]string, len(inputs))
	for i, n := range inputs {
		lines[i] = fmt.Sprintf("Input %d: %q", i+1, n.Title)
	}
	return strings.Join(lines, "\n")
}

func colliderPrompt(inputs []models.CanvasNode) string {
	return "Role: Collider. Inputs:\n" + titleList(inputs) +
		"\nTask: Synthesis. Output JSON: { \"title\": \"Title\", \"content\": \"Insight.\" }"
}

func colliderRegeneratePrompt(parents []models.CanvasNode, previous string) string {
	return "Role: Collider (Regeneration). Inputs:\n" + titleList(parents) +
		fmt.Sprintf("\nPrevious: %q", previous) +
		"\nTask: Different synthesis. Output JSON: { \"title\": \"New Title\", \"content\": \"New Insight.\" }"
}

func alchemyPrompt(inputs []models.CanvasNode) string {
	lines := make([]string, len(inputs))
	for i, n := range inputs {
		lines[i] = fmt.Sprintf("Input %d: %s - %s", i+1, n.Title, truncate(n.Content, 150))
	}
	return "Role: Alchemy Engine. Inputs:\n" + strings.Join(lines, "\n") +
		"\nTask: Fuse into cohesive structure. Output JSON: { \"title\": \"Title\", \"content\": \"Output.\" }"
}

func alchemyRegeneratePrompt(parents []models.CanvasNode) string {
	lines := make([]string, len(parents))
	for i, n := range parents {
		lines[i] = fmt.Sprintf("Input %d: %s", i+1, n.Title)
	}
	return "Role: Alchemy (Regeneration). Inputs:\n" + strings.Join(lines, "\n") +
		"\nTask: Better structure. Output JSON: { \"title\": \"Refined Gold\", \"content\": \"Output.\" }"
}

// sparkPrompt pairs a node with a library candidate. Without a candidate
// the generator is asked for an unexpected angle on the node alone.
func sparkPrompt(node models.CanvasNode, candidate *ExternalItem) string {
	a := fmt.Sprintf("%s - %s", node.Title, truncate(node.Content, 200))
	if candidate == nil {
		return fmt.Sprintf("Role: Serendipity Engine. Concept: %q Task: Find a surprising, non-obvious connection to another field. "+
			"Output JSON: { \"title\": \"The Connection\", \"insight\": \"Insight text.\" }", a)
	}
	b := fmt.Sprintf("%s - %s", candidate.Title, truncate(strings.Join(candidate.Summary, " "), 200))
	return fmt.Sprintf("Role: Serendipity Engine. Concept A: %q Concept B: %q Task: Find a surprising connection. "+
		"Output JSON: { \"title\": \"The Connection\", \"insight\": \"Insight text.\" }", a, b)
}
