// Package export renders a canvas as a Markdown brief or a PNG picture.
package export

import (
	"fmt"
	"strings"
	"time"

	"kno-canvas/internal/models"
)

// Markdown renders the brief: key statistics, then one section per node
// with its logic audit when it has one.
func Markdown(title string, nodes []models.CanvasNode, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Kno Brief: %s\n", title)
	fmt.Fprintf(&b, "**Date:** %s\n\n", now.Format("2006-01-02"))

	b.WriteString("## Key Statistics\n")
	fmt.Fprintf(&b, "* %d Sources Analyzed\n", len(nodes))
	fmt.Fprintf(&b, "* %d Issues Detected\n", countIssues(nodes))
	fmt.Fprintf(&b, "* %d Insights Synthesized\n\n", countInsights(nodes))

	b.WriteString("## Neural Audit Details\n\n")
	for i, n := range nodes {
		nodeTitle := n.Title
		if nodeTitle == "" {
			nodeTitle = "Untitled"
		}
		fmt.Fprintf(&b, "### %d. %s\n\n", i+1, nodeTitle)
		fmt.Fprintf(&b, "%s\n\n", n.Content)
		if n.Critique != nil {
			writeCritique(&b, n.Critique)
		}
		b.WriteString("---\n\n")
	}
	b.WriteString("*Powered by Kno - Spatial Knowledge OS*")
	return b.String()
}

func writeCritique(b *strings.Builder, c *models.Critique) {
	b.WriteString("> **🛡️ TRINITY LOGIC AUDIT**\n")
	if sa := c.StructuredAnalysis; sa != nil {
		fmt.Fprintf(b, "> - **FACTUAL:** %s - %s\n", sa.Factual.Status, orDefault(sa.Factual.Issue, "Verified"))
		fmt.Fprintf(b, "> - **BALANCE:** %s - %s\n", sa.Balance.Status, orDefault(sa.Balance.Check, "Balanced"))
		fmt.Fprintf(b, "> - **LOGIC:** %s - %s : %s\n", sa.Logic.Status, sa.Logic.Type, orDefault(sa.Logic.Explanation, "Verified"))
	} else {
		health := "Stable"
		if !c.IsSafe {
			health = "Vulnerable"
		}
		fmt.Fprintf(b, "> - **HEALTH:** %s | %s\n", health, c.Issue)
	}
	b.WriteString("\n")
}

func countIssues(nodes []models.CanvasNode) int {
	n := 0
	for _, node := range nodes {
		c := node.Critique
		if c == nil {
			continue
		}
		if !c.IsSafe || (c.StructuredAnalysis != nil &&
			strings.Contains(strings.ToLower(c.StructuredAnalysis.Logic.Status), "fallacy")) {
			n++
		}
	}
	return n
}

func countInsights(nodes []models.CanvasNode) int {
	n := 0
	for _, node := range nodes {
		switch node.Type {
		case models.NodeSpark, models.NodeInsight, models.NodeSynthesis:
			n++
		}
	}
	return n
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// StripStars removes bold markers for renderers that print them literally.
func StripStars(s string) string {
	return strings.ReplaceAll(s, "**", "")
}

// Filename is the suggested file name for a brief.
func Filename(title, ext string) string {
	name := strings.Join(strings.Fields(title), "_")
	if name == "" {
		name = "Canvas"
	}
	return name + "_Brief." + ext
}
