package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
)

const mcqSystem = `You write multiple-choice quiz questions from numbered excerpts of PDF documents.
Every question must be answerable from a single excerpt. Reply with JSON only.`

const mcqPrompt = `Excerpts:
%s

Request: %s

Write %d questions. Reply with a JSON object of this exact shape and nothing else:
{"questions": [{"question": "...", "options": ["...", "...", "...", "..."], "answer": "<the correct option, verbatim>", "rationale": "...", "source": <excerpt number>}]}
Each question has exactly 4 options and one correct answer. "source" is the number of the excerpt the question comes from.`

const optionCount = 4

// MCQ generates a multiple-choice quiz. Output that fails validation is an
// error; no partial quiz is returned.
type MCQ struct {
	completer    types.Completer
	topK         int
	numQuestions int
	logger       *slog.Logger
}

var _ Agent = (*MCQ)(nil)

func NewMCQ(completer types.Completer, topK, numQuestions int, logger *slog.Logger) *MCQ {
	if topK <= 0 {
		topK = 8
	}
	if numQuestions <= 0 {
		numQuestions = 5
	}
	return &MCQ{completer: completer, topK: topK, numQuestions: numQuestions, logger: discardLogger(logger)}
}

func (a *MCQ) Name() models.Intent { return models.IntentMCQ }

func (a *MCQ) Plan(q models.Query) RetrievalPlan {
	return RetrievalPlan{Query: q.Message, TopK: a.topK}
}

func (a *MCQ) Respond(ctx context.Context, q models.Query, decision models.RoutingDecision, result models.RetrievalResult) (*models.AgentResponse, error) {
	if result.Empty() {
		return noContent(a.Name(), q, decision, result), nil
	}

	prompt := fmt.Sprintf(mcqPrompt, buildContext(result), q.Message, a.numQuestions)
	text, err := a.completer.Complete(ctx, mcqSystem, prompt, nil)
	if err != nil {
		return nil, err
	}

	quiz, err := parseQuiz(text, len(result.Items))
	if err != nil {
		a.logger.Warn("quiz generation rejected", "error", err)
		return nil, err
	}
	if len(quiz) > a.numQuestions {
		quiz = quiz[:a.numQuestions]
	}

	cited := make(map[int]bool, len(quiz))
	for _, question := range quiz {
		cited[question.Source] = true
	}

	meta := metadata(a.Name(), q, decision, result)
	meta["num_questions"] = len(quiz)

	return &models.AgentResponse{
		Response:  renderQuiz(quiz),
		AgentType: a.Name(),
		Status:    models.ResponseCompleted,
		Sources:   buildSources(result, cited),
		Quiz:      quiz,
		Metadata:  meta,
	}, nil
}

type quizPayload struct {
	Questions []quizItem `json:"questions"`
}

type quizItem struct {
	Question  string          `json:"question"`
	Options   []string        `json:"options"`
	Answer    string          `json:"answer"`
	Rationale string          `json:"rationale"`
	Source    json.RawMessage `json:"source"`
}

func malformed(format string, args ...any) error {
	return &types.GenerationError{Agent: string(models.IntentMCQ), Reason: fmt.Sprintf(format, args...)}
}

// parseQuiz validates generated JSON. numSources is the number of excerpts
// the model was shown.
func parseQuiz(text string, numSources int) ([]models.QuizQuestion, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, malformed("no JSON object in output")
	}

	var payload quizPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if len(payload.Questions) == 0 {
		return nil, malformed("no questions")
	}

	quiz := make([]models.QuizQuestion, 0, len(payload.Questions))
	for i, item := range payload.Questions {
		n := i + 1
		if strings.TrimSpace(item.Question) == "" {
			return nil, malformed("question %d: missing question text", n)
		}
		if len(item.Options) != optionCount {
			return nil, malformed("question %d: want %d options, got %d", n, optionCount, len(item.Options))
		}
		for _, opt := range item.Options {
			if strings.TrimSpace(opt) == "" {
				return nil, malformed("question %d: empty option", n)
			}
		}
		answer, ok := resolveAnswer(item.Answer, item.Options)
		if !ok {
			return nil, malformed("question %d: answer %q is not one of the options", n, item.Answer)
		}
		if strings.TrimSpace(item.Rationale) == "" {
			return nil, malformed("question %d: missing rationale", n)
		}
		source, err := parseSource(item.Source)
		if err != nil {
			return nil, malformed("question %d: %v", n, err)
		}
		if source < 1 || source > numSources {
			return nil, malformed("question %d: source %d outside 1..%d", n, source, numSources)
		}

		quiz = append(quiz, models.QuizQuestion{
			Question:  strings.TrimSpace(item.Question),
			Options:   item.Options,
			Answer:    answer,
			Rationale: strings.TrimSpace(item.Rationale),
			Source:    source,
		})
	}
	return quiz, nil
}

// extractJSON finds the outermost object in text, tolerating code fences and
// surrounding prose.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// resolveAnswer accepts the option text or its letter (A-D).
func resolveAnswer(answer string, options []string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			return opt, true
		}
	}
	letter := strings.ToUpper(strings.TrimRight(answer, ").: "))
	if len(letter) == 1 && letter[0] >= 'A' && int(letter[0]-'A') < len(options) {
		return options[letter[0]-'A'], true
	}
	return "", false
}

// parseSource accepts 2, "2" or "[2]".
func parseSource(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing source")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid source %s", raw)
	}
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid source %q", s)
	}
	return n, nil
}

func renderQuiz(quiz []models.QuizQuestion) string {
	var b strings.Builder
	for i, q := range quiz {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Question)
		for j, opt := range q.Options {
			fmt.Fprintf(&b, "   %c) %s\n", 'A'+j, opt)
		}
		fmt.Fprintf(&b, "   Answer: %s [%d]\n   %s\n\n", q.Answer, q.Source, q.Rationale)
	}
	return strings.TrimRight(b.String(), "\n")
}
