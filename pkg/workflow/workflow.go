package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/agent"
	"github.com/xhad/pdfchat/pkg/logging"
	"github.com/xhad/pdfchat/pkg/router"
)

type Stage string

const (
	StageRoute        Stage = "route"
	StageRetrieve     Stage = "retrieve"
	StageGenerate     Stage = "generate"
	StageAssemble     Stage = "assemble"
	StageErrorHandler Stage = "error_handler"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// ErrUnknownAgent is returned when a request names an agent type no agent serves.
var ErrUnknownAgent = errors.New("unknown agent type")

// next is the transition function. Any error sends a working stage to the
// error handler; the error handler always ends in failed.
func next(stage Stage, err error) Stage {
	if stage.Terminal() {
		return stage
	}
	if stage == StageErrorHandler {
		return StageFailed
	}
	if err != nil {
		return StageErrorHandler
	}
	switch stage {
	case StageRoute:
		return StageRetrieve
	case StageRetrieve:
		return StageGenerate
	case StageGenerate:
		return StageAssemble
	case StageAssemble:
		return StageCompleted
	}
	return StageErrorHandler
}

// state is the per-request record carried through the stages.
type state struct {
	query    models.Query
	explicit string
	decision models.RoutingDecision
	agent    agent.Agent
	plan     agent.RetrievalPlan
	result   models.RetrievalResult
	response *models.AgentResponse
	failedAt Stage
	err      error
	visited  []Stage
}

// Workflow routes a message, retrieves context, runs the chosen agent and
// assembles the response. Each request makes one pass through the stages.
type Workflow struct {
	router    *router.Router
	retriever types.Retriever
	agents    map[models.Intent]agent.Agent
	logger    *slog.Logger
}

func New(r *router.Router, retriever types.Retriever, agents []agent.Agent, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = logging.Discard()
	}
	byIntent := make(map[models.Intent]agent.Agent, len(agents))
	for _, a := range agents {
		byIntent[a.Name()] = a
	}
	return &Workflow{
		router:    r,
		retriever: retriever,
		agents:    byIntent,
		logger:    logger,
	}
}

// Run always returns a response. Failures come back with status failed and
// an ErrorInfo instead of an error value.
func (w *Workflow) Run(ctx context.Context, req models.ChatRequest) (resp *models.AgentResponse) {
	st := &state{
		query: models.Query{
			Message:    strings.TrimSpace(req.Message),
			DocumentID: strings.TrimSpace(req.DocumentID),
			History:    req.History,
		},
		explicit: req.AgentType,
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("workflow panic", "panic", r, "stage", st.failedAt)
			st.err = fmt.Errorf("internal error: %v", r)
			resp = w.fail(st)
		}
	}()

	stage := StageRoute
	for !stage.Terminal() {
		st.visited = append(st.visited, stage)

		var err error
		if stage != StageErrorHandler {
			st.failedAt = stage
			if err = ctx.Err(); err == nil {
				err = w.run(ctx, stage, st)
			}
			if err != nil {
				st.err = err
			}
		} else {
			st.response = w.fail(st)
		}

		w.logger.Debug("workflow stage", "stage", stage, "intent", st.decision.Intent, "error", err)
		stage = next(stage, err)
	}

	w.logger.Info("message handled",
		"intent", st.response.AgentType,
		"status", st.response.Status,
		"sources", len(st.response.Sources),
		"elapsed", time.Since(start),
	)
	return st.response
}

func (w *Workflow) run(ctx context.Context, stage Stage, st *state) error {
	switch stage {
	case StageRoute:
		return w.route(st)
	case StageRetrieve:
		return w.retrieve(ctx, st)
	case StageGenerate:
		return w.generate(ctx, st)
	case StageAssemble:
		return w.assemble(st)
	}
	return fmt.Errorf("no handler for stage %s", stage)
}

func (w *Workflow) route(st *state) error {
	st.decision = w.router.Route(st.query.Message, st.explicit)
	if st.decision.Intent == models.IntentError {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, st.explicit)
	}
	a, ok := w.agents[st.decision.Intent]
	if !ok {
		return fmt.Errorf("%w: no agent configured for %s", types.ErrValidation, st.decision.Intent)
	}
	st.agent = a
	st.plan = a.Plan(st.query)
	return nil
}

func (w *Workflow) retrieve(ctx context.Context, st *state) error {
	result, err := w.retriever.Retrieve(ctx, st.plan.Query, st.query.DocumentID, st.plan.TopK)
	if err != nil {
		return err
	}
	st.result = result
	return nil
}

func (w *Workflow) generate(ctx context.Context, st *state) error {
	resp, err := st.agent.Respond(ctx, st.query, st.decision, st.result)
	if err != nil {
		return err
	}
	st.response = resp
	return nil
}

func (w *Workflow) assemble(st *state) error {
	resp := st.response
	if resp == nil {
		return errors.New("agent returned no response")
	}

	given := make(map[string]bool, len(st.result.Items))
	for _, item := range st.result.Items {
		given[item.Chunk.ID] = true
	}
	for _, src := range resp.Sources {
		if !given[src.ChunkID] {
			return fmt.Errorf("source %s was not part of the retrieved context", src.ChunkID)
		}
	}

	if resp.Sources == nil {
		resp.Sources = []models.Source{}
	}
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.AgentType = st.decision.Intent
	resp.Status = models.ResponseCompleted
	resp.Metadata["routing"] = st.decision
	resp.Metadata["stages"] = stageNames(append(st.visited, StageCompleted))
	return nil
}

func (w *Workflow) fail(st *state) *models.AgentResponse {
	info := errorInfo(st.err)
	w.logger.Warn("message failed", "stage", st.failedAt, "code", info.Code, "error", st.err)

	intent := st.decision.Intent
	if intent == "" {
		intent = models.IntentError
	}
	meta := map[string]any{
		"error":        info.Message,
		"failed_stage": string(st.failedAt),
		"stages":       stageNames(append(st.visited, StageFailed)),
	}
	if st.decision.Intent != "" {
		meta["routing"] = st.decision
	}
	return &models.AgentResponse{
		Response:  userMessage(info.Code),
		AgentType: intent,
		Status:    models.ResponseFailed,
		Sources:   []models.Source{},
		Metadata:  meta,
		Error:     &info,
	}
}

func stageNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return names
}
