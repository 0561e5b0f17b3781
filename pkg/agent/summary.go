package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

const summarySystem = `You write executive summaries of PDF documents from numbered excerpts.
Use only the excerpts. Cite the excerpt number in square brackets, like [3], after each point.`

const summaryPrompt = `Excerpts:
%s

Request: %s

Write an executive summary of at most %d words. Then add a section starting with "Key quotes:" listing up to
three short verbatim quotes from the excerpts, each followed by its citation.`

const summaryFallbackQuery = "main topics, key findings and conclusions"

var keyQuotesHeading = regexp.MustCompile(`(?i)key quotes`)

// Summary writes an executive summary with key quotes.
type Summary struct {
	completer types.Completer
	topK      int
	maxWords  int
	logger    *slog.Logger
}

var _ Agent = (*Summary)(nil)

func NewSummary(completer types.Completer, topK, maxWords int, logger *slog.Logger) *Summary {
	if topK <= 0 {
		topK = 12
	}
	if maxWords <= 0 {
		maxWords = 500
	}
	return &Summary{completer: completer, topK: topK, maxWords: maxWords, logger: discardLogger(logger)}
}

func (a *Summary) Name() models.Intent { return models.IntentSummarization }

var summaryVerbs = regexp.MustCompile(`(?i)\b(please|give me|write|an?|executive|summari[sz]e|summary|overview|of|this|the|document|pdf|file)\b`)

// Plan searches for what the summary should cover. A bare "summarize this
// document" carries no topic, so a generic query is used instead.
func (a *Summary) Plan(q models.Query) RetrievalPlan {
	query := q.Message
	topic := strings.TrimFunc(summaryVerbs.ReplaceAllString(query, ""), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if topic == "" {
		query = summaryFallbackQuery
	}
	return RetrievalPlan{Query: query, TopK: a.topK}
}

func (a *Summary) Respond(ctx context.Context, q models.Query, decision models.RoutingDecision, result models.RetrievalResult) (*models.AgentResponse, error) {
	if result.Empty() {
		return noContent(a.Name(), q, decision, result), nil
	}

	prompt := fmt.Sprintf(summaryPrompt, buildContext(result), q.Message, a.maxWords)
	text, err := a.completer.Complete(ctx, summarySystem, prompt, q.History)
	if err != nil {
		return nil, err
	}

	resp := respond(a.Name(), a.bound(text), q, decision, result, a.logger)
	resp.Metadata["max_words"] = a.maxWords
	return resp, nil
}

// bound truncates the summary part to maxWords, leaving the quotes intact.
func (a *Summary) bound(text string) string {
	body, quotes := text, ""
	if loc := keyQuotesHeading.FindStringIndex(text); loc != nil && loc[0] > 0 {
		body, quotes = text[:loc[0]], text[loc[0]:]
	}

	words := strings.Fields(body)
	if len(words) <= a.maxWords {
		return text
	}
	body = strings.Join(words[:a.maxWords], " ") + "..."
	if quotes != "" {
		return body + "\n\n" + quotes
	}
	return body
}
