package openai

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"kno-canvas/internal/models"
)

func critiquePrompt(text string, now time.Time) string {
	r := []rune(text)
	if len(r) > 1000 {
		r = r[:1000]
	}
	return fmt.Sprintf(`Role: You are an adversarial logic engine (The Critic).
Today's date is %s. Use it as the anchor for chronological verification.
Analyze the input for factual accuracy, cognitive balance (bias, blind spots) and logical integrity.

Input: %q

Output JSON:
{
  "isSafe": boolean,
  "issue": "Short summary line",
  "fix": "Short action",
  "confidence": "e.g. 95%%",
  "structuredAnalysis": {
    "factual": {"status": "Verified | Unverified Claim | Misleading | N/A", "issue": "Specific detail or 'None'"},
    "balance": {"status": "Balanced | Skewed | Echo Chamber | Nuanced", "check": "Biases and blind spots"},
    "logic": {"status": "Sound | Fallacy Detected", "type": "Fallacy name or 'Solid'", "explanation": "Brief explanation"}
  }
}`, now.Format("Mon Jan 02 2006"), string(r))
}

type critiqueReply struct {
	IsSafe             bool   `json:"isSafe"`
	Issue              string `json:"issue"`
	Fix                string `json:"fix"`
	Confidence         string `json:"confidence"`
	StructuredAnalysis *struct {
		Factual models.FactualCheck `json:"factual"`
		Balance models.BalanceCheck `json:"balance"`
		Logic   models.LogicCheck   `json:"logic"`
	} `json:"structuredAnalysis"`
}

// ParseCritique reads a critic reply. Replies without a structured
// analysis are read section by section; an empty reply yields
// AnalysisFailed.
func ParseCritique(reply string) *models.Critique {
	if strings.TrimSpace(reply) == "" {
		return AnalysisFailed()
	}
	var r critiqueReply
	if err := decodeObject(reply, &r); err == nil && r.StructuredAnalysis != nil {
		return &models.Critique{
			Issue:      r.Issue,
			Fix:        r.Fix,
			Confidence: r.Confidence,
			IsSafe:     r.IsSafe,
			StructuredAnalysis: &models.StructuredAnalysis{
				Factual: r.StructuredAnalysis.Factual,
				Balance: r.StructuredAnalysis.Balance,
				Logic:   r.StructuredAnalysis.Logic,
			},
		}
	}
	return parseCritiqueProse(reply)
}

var (
	factualStatusRe = regexp.MustCompile(`(?is)FACTUAL ACCURACY.*?Status:\s*(.*?)(?:\n|$)`)
	factualIssueRe  = regexp.MustCompile(`(?is)FACTUAL ACCURACY.*?(?:Note|Issue|Reason):\s*(.*?)(?:\n|$)`)
	balanceStatusRe = regexp.MustCompile(`(?is)COGNITIVE BALANCE.*?Status:\s*(.*?)(?:\n|$)`)
	balanceCheckRe  = regexp.MustCompile(`(?is)COGNITIVE BALANCE.*?(?:Bias|Analysis|Check):\s*(.*?)(?:\n|$)`)
	logicStatusRe   = regexp.MustCompile(`(?is)LOGICAL INTEGRITY.*?Status:\s*(.*?)(?:\n|$)`)
	logicTypeRe     = regexp.MustCompile(`(?is)LOGICAL INTEGRITY.*?(?:Type|Verdict):\s*(.*?)(?:\n|$)`)
	logicExplRe     = regexp.MustCompile(`(?is)LOGICAL INTEGRITY.*?(?:Verdict|Analysis|Explanation):\s*(.*?)(?:\n|$)`)
)

// unsafeMarkers flag a prose reply as reporting a problem.
var unsafeMarkers = []string{"fallacy detected", "misleading", "skewed", "high risk"}

func parseCritiqueProse(reply string) *models.Critique {
	lower := strings.ToLower(reply)
	safe := true
	for _, m := range unsafeMarkers {
		if strings.Contains(lower, m) {
			safe = false
			break
		}
	}

	c := &models.Critique{
		IsSafe:     safe,
		Issue:      "Logic Sound",
		Fix:        "None",
		Confidence: "Low (Parsed)",
		StructuredAnalysis: &models.StructuredAnalysis{
			Factual: models.FactualCheck{
				Status: extract(factualStatusRe, reply, "Unknown"),
				Issue:  extract(factualIssueRe, reply, "See analysis"),
			},
			Balance: models.BalanceCheck{
				Status: extract(balanceStatusRe, reply, "Unknown"),
				Check:  extract(balanceCheckRe, reply, "See analysis"),
			},
			Logic: models.LogicCheck{
				Status:      extract(logicStatusRe, reply, "Unknown"),
				Type:        extract(logicTypeRe, reply, "Analysis"),
				Explanation: extract(logicExplRe, reply, "See analysis"),
			},
		},
	}
	if !safe {
		c.Issue = "Potential Issues Detected"
		c.Fix = "Review highlighted sections"
	}
	return c
}

func extract(re *regexp.Regexp, s, fallback string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return fallback
	}
	if v := strings.TrimSpace(m[1]); v != "" {
		return v
	}
	return fallback
}

// AnalysisFailed is the critique shown when the critic gave nothing usable.
func AnalysisFailed() *models.Critique {
	return &models.Critique{
		Issue:      "Analysis Failed",
		Fix:        "Manual check required.",
		Confidence: "0%",
		IsSafe:     true,
		StructuredAnalysis: &models.StructuredAnalysis{
			Factual: models.FactualCheck{Status: "Unknown", Issue: "Analysis failed"},
			Balance: models.BalanceCheck{Status: "Unknown", Check: "Analysis failed"},
			Logic:   models.LogicCheck{Status: "Unknown", Type: "None", Explanation: "Analysis failed"},
		},
	}
}
