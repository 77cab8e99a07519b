package openai

import (
	"context"
	"regexp"
	"strings"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/models"
)

// Offline answers without a network: titles come from the quoted inputs
// of the prompt. Used for demos and when no API key is configured.
type Offline struct{}

var promptInput = regexp.MustCompile(`Input \d+: (?:"([^"]*)"|([^\n]+))|Concept(?: [AB])?: "([^"]*)"`)

func (Offline) Generate(ctx context.Context, prompt string) (canvas.Generation, error) {
	if err := ctx.Err(); err != nil {
		return canvas.Generation{}, err
	}
	var titles []string
	for _, m := range promptInput.FindAllStringSubmatch(prompt, -1) {
		t := m[1] + m[2] + m[3]
		if i := strings.Index(t, " - "); i >= 0 {
			t = t[:i]
		}
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return canvas.Generation{Title: "Offline Synthesis", Content: "No inputs were recognised."}, nil
	}
	return canvas.Generation{
		Title:   strings.Join(titles, " × "),
		Content: "Offline synthesis of " + strings.Join(titles, ", ") + ".",
	}, nil
}

func (Offline) Critique(ctx context.Context, text string) (*models.Critique, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := parseCritiqueProse(text)
	c.Confidence = "Offline"
	return c, nil
}

// State reports the generator mode for the health check.
func (Offline) State() string {
	return "offline"
}
