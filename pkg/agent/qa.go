package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

const qaSystem = `You are a helpful assistant that answers questions about the user's PDF documents.
Answer only from the numbered context blocks. Cite every claim with the block number in square brackets, like [1].
If the context does not contain the answer, say so plainly. Be concise but complete.`

const analyticsSystem = `You are a financial analyst answering questions about the user's PDF documents.
Use only the numbered context blocks. Quote the exact figures you rely on, show any calculation step by step,
state units and periods, and cite every figure with its block number in square brackets, like [2].
If a figure needed for the answer is missing from the context, say which one.`

const qaPrompt = `Context:
%s

Question: %s

Answer:`

// QA answers questions from retrieved chunks.
type QA struct {
	completer types.Completer
	topK      int
	logger    *slog.Logger
}

var _ Agent = (*QA)(nil)

func NewQA(completer types.Completer, topK int, logger *slog.Logger) *QA {
	if topK <= 0 {
		topK = 5
	}
	return &QA{completer: completer, topK: topK, logger: discardLogger(logger)}
}

func (a *QA) Name() models.Intent { return models.IntentRetrievalQA }

func (a *QA) Plan(q models.Query) RetrievalPlan {
	return RetrievalPlan{Query: q.Message, TopK: a.topK}
}

func (a *QA) Respond(ctx context.Context, q models.Query, decision models.RoutingDecision, result models.RetrievalResult) (*models.AgentResponse, error) {
	if result.Empty() {
		return noContent(a.Name(), q, decision, result), nil
	}

	system := qaSystem
	if decision.Analytics {
		system = analyticsSystem
	}

	answer, err := a.completer.Complete(ctx, system, fmt.Sprintf(qaPrompt, buildContext(result), q.Message), q.History)
	if err != nil {
		return nil, err
	}
	return respond(a.Name(), answer, q, decision, result, a.logger), nil
}
