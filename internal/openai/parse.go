package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kno-canvas/internal/canvas"
)

// ErrUnparseable is returned when a reply holds no JSON object.
var ErrUnparseable = errors.New("reply is not a JSON object")

// generationReply accepts both keys the prompts ask for.
type generationReply struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Insight string `json:"insight"`
}

// ParseGeneration reads {title, content} (or {title, insight}) out of a
// model reply. Code fences are stripped; if the reply still does not parse,
// the outermost {...} inside it is tried.
func ParseGeneration(reply string) (canvas.Generation, error) {
	var r generationReply
	if err := decodeObject(reply, &r); err != nil {
		return canvas.Generation{}, err
	}
	content := r.Content
	if strings.TrimSpace(content) == "" {
		content = r.Insight
	}
	return canvas.Generation{
		Title:   strings.TrimSpace(r.Title),
		Content: strings.TrimSpace(content),
	}, nil
}

func decodeObject(reply string, v interface{}) error {
	text := stripFences(reply)
	if text == "" {
		return fmt.Errorf("%w: empty reply", ErrUnparseable)
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ErrUnparseable
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return nil
}

// stripFences removes a surrounding ``` or ```json fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
