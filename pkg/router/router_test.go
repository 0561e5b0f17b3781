package router_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/pkg/router"
)

func TestRouter_Route(t *testing.T) {
	r := router.New()

	tests := []struct {
		name      string
		message   string
		agentType string
		want      models.Intent
		explicit  bool
	}{
		{name: "summarize", message: "Summarize this document", want: models.IntentSummarization},
		{name: "british spelling", message: "Please summarise section 2", want: models.IntentSummarization},
		{name: "overview", message: "Give me an overview of the filing", want: models.IntentSummarization},
		{name: "quiz", message: "Create a quiz on chapter 3", want: models.IntentMCQ},
		{name: "multiple choice", message: "Write 5 MULTIPLE CHOICE questions", want: models.IntentMCQ},
		{name: "summary wins over quiz", message: "summarize the questions about liquidity", want: models.IntentSummarization},
		{name: "question", message: "What was the net income in 2023?", want: models.IntentRetrievalQA},
		{name: "empty", message: "", want: models.IntentRetrievalQA},
		{name: "explicit overrides keywords", message: "Summarize this document", agentType: "rag", want: models.IntentRetrievalQA, explicit: true},
		{name: "explicit quiz", message: "anything", agentType: "MCQ", want: models.IntentMCQ, explicit: true},
		{name: "explicit summary", message: "", agentType: "summarization", want: models.IntentSummarization, explicit: true},
		{name: "unknown explicit", message: "hello", agentType: "poetry", want: models.IntentError, explicit: true},
		{name: "blank explicit is ignored", message: "make a quiz", agentType: "  ", want: models.IntentMCQ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Route(tt.message, tt.agentType)
			assert.Equal(t, tt.want, d.Intent)
			assert.Equal(t, tt.explicit, d.Explicit)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestRouter_Analytics(t *testing.T) {
	r := router.New()

	tests := []struct {
		message string
		want    bool
	}{
		{message: "What was the revenue growth year over year?", want: true},
		{message: "Did costs rise by 12%?", want: true},
		{message: "Was it above $4.2M?", want: true},
		{message: "Who is the CEO?", want: false},
		{message: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			d := r.Route(tt.message, "")
			assert.Equal(t, models.IntentRetrievalQA, d.Intent)
			assert.Equal(t, tt.want, d.Analytics)
		})
	}

	assert.False(t, r.Route("summarize the revenue trend", "").Analytics, "analytics only applies to retrieval_qa")
}

func TestRouter_Total(t *testing.T) {
	r := router.New()
	valid := map[models.Intent]bool{
		models.IntentRetrievalQA:   true,
		models.IntentSummarization: true,
		models.IntentMCQ:           true,
		models.IntentError:         true,
	}

	inputs := []string{
		"", " ", "\x00", "\xff\xfe", "🙂 quiz 🙂", strings.Repeat("summary ", 10000),
		"\n\n\t", "QUESTIONS ABOUT", "résumé", "$", "%",
	}
	for _, in := range inputs {
		for _, agent := range []string{"", "qa", "??"} {
			assert.NotPanics(t, func() {
				d := r.Route(in, agent)
				assert.True(t, valid[d.Intent])
			})
		}
	}
}

func TestRouter_CustomRules(t *testing.T) {
	r := router.NewWithRules([]router.Rule{{
		Intent:  models.IntentMCQ,
		Trigger: "test me",
		Match:   func(lower string) bool { return strings.HasPrefix(lower, "test me") },
	}})

	assert.Equal(t, models.IntentMCQ, r.Route("Test me on chapter 1", "").Intent)
	assert.Equal(t, models.IntentRetrievalQA, r.Route("summarize", "").Intent)
}
