package router

import (
	"regexp"
	"strings"

	"github.com/xhad/pdfchat/internal/models"
)

// Rule maps a message to an intent. Match receives the lowercased message.
type Rule struct {
	Intent  models.Intent
	Trigger string
	Match   func(lower string) bool
}

// Router classifies chat messages. The first matching rule wins; messages no
// rule matches go to retrieval_qa.
type Router struct {
	rules   []Rule
	aliases map[string]models.Intent
}

func New() *Router {
	return NewWithRules(DefaultRules())
}

func NewWithRules(rules []Rule) *Router {
	return &Router{
		rules:   rules,
		aliases: defaultAliases(),
	}
}

func defaultAliases() map[string]models.Intent {
	return map[string]models.Intent{
		"rag":           models.IntentRetrievalQA,
		"qa":            models.IntentRetrievalQA,
		"retrieval_qa":  models.IntentRetrievalQA,
		"chat":          models.IntentRetrievalQA,
		"summary":       models.IntentSummarization,
		"summarization": models.IntentSummarization,
		"summarize":     models.IntentSummarization,
		"mcq":           models.IntentMCQ,
		"quiz":          models.IntentMCQ,
	}
}

// DefaultRules checks summarization before quiz generation so that
// "summarize the questions about X" is a summary.
func DefaultRules() []Rule {
	return []Rule{
		keywordRule(models.IntentSummarization, "summarize", "summarise", "executive summary", "summary", "overview"),
		keywordRule(models.IntentMCQ, "multiple choice", "multiple-choice", "mcq", "quiz", "questions about"),
	}
}

func keywordRule(intent models.Intent, keywords ...string) Rule {
	return Rule{
		Intent:  intent,
		Trigger: strings.Join(keywords, "|"),
		Match: func(lower string) bool {
			for _, k := range keywords {
				if strings.Contains(lower, k) {
					return true
				}
			}
			return false
		},
	}
}

// Route never fails: every input, including "", yields a decision.
func (r *Router) Route(message, agentType string) models.RoutingDecision {
	if t := strings.ToLower(strings.TrimSpace(agentType)); t != "" {
		intent, ok := r.aliases[t]
		if !ok {
			return models.RoutingDecision{
				Intent:   models.IntentError,
				Reason:   "unknown agent type " + agentType,
				Trigger:  agentType,
				Explicit: true,
			}
		}
		return models.RoutingDecision{
			Intent:    intent,
			Reason:    "explicit agent type",
			Trigger:   agentType,
			Explicit:  true,
			Analytics: intent == models.IntentRetrievalQA && IsAnalytical(message),
		}
	}

	lower := strings.ToLower(message)
	for _, rule := range r.rules {
		if rule.Match(lower) {
			return models.RoutingDecision{
				Intent:  rule.Intent,
				Reason:  "keyword match",
				Trigger: rule.Trigger,
			}
		}
	}

	return models.RoutingDecision{
		Intent:    models.IntentRetrievalQA,
		Reason:    "default",
		Analytics: IsAnalytical(message),
	}
}

var (
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:%|percent|bn|billion|million|m\b|k\b)|[$€£¥]\s*\d`)

	analyticsTerms = []string{
		"ratio", "margin", "growth", "trend", "compare", "comparison", "increase", "decrease",
		"revenue", "profit", "ebitda", "kpi", "metric", "forecast", "year over year", "yoy",
		"quarter", "average", "percentage", "how much", "how many",
	}
)

// IsAnalytical reports whether a question asks for numeric analysis.
func IsAnalytical(message string) bool {
	lower := strings.ToLower(message)
	if numberPattern.MatchString(lower) {
		return true
	}
	for _, term := range analyticsTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
