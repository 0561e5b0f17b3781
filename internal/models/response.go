package models

// Intent is the classified purpose of a chat message.
type Intent string

const (
	IntentRetrievalQA   Intent = "retrieval_qa"
	IntentSummarization Intent = "summarization"
	IntentMCQ           Intent = "mcq"
	IntentError         Intent = "error"
)

// Turn is one prior message of a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatRequest is what the boundary layer hands to the core.
type ChatRequest struct {
	Message    string `json:"message"`
	AgentType  string `json:"agent_type,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	History    []Turn `json:"conversation_history,omitempty"`
}

// Query is the ephemeral view of a request the agents work on.
type Query struct {
	Message    string
	DocumentID string
	History    []Turn
}

// RoutingDecision records the chosen intent and what triggered it. The
// trigger is kept for observability only.
type RoutingDecision struct {
	Intent    Intent `json:"intent"`
	Reason    string `json:"reason"`
	Trigger   string `json:"trigger,omitempty"`
	Explicit  bool   `json:"explicit"`
	Analytics bool   `json:"analytics"`
}

type ResponseStatus string

const (
	ResponseCompleted ResponseStatus = "completed"
	ResponseFailed    ResponseStatus = "failed"
)

// Source is a citation back to a chunk that was handed to the agent.
type Source struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	Ordinal      int     `json:"chunk_index"`
	Filename     string  `json:"filename"`
	DocumentType string  `json:"document_type"`
	Preview      string  `json:"content"`
	Score        float64 `json:"relevance_score"`
	Marker       int     `json:"marker"`
	Cited        bool    `json:"cited"`
}

type QuizQuestion struct {
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Answer    string   `json:"answer"`
	Rationale string   `json:"rationale"`
	Source    int      `json:"source"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AgentResponse struct {
	Response  string         `json:"response"`
	AgentType Intent         `json:"agent_type"`
	Status    ResponseStatus `json:"status"`
	Sources   []Source       `json:"sources"`
	Quiz      []QuizQuestion `json:"quiz,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Error     *ErrorInfo     `json:"error,omitempty"`
}
