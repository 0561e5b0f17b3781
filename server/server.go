package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/logging"
)

// maxHistory bounds the turns a websocket session replays to the agents.
const maxHistory = 10

// Service is the part of chatbot.Service the server exposes.
type Service interface {
	UploadDocument(ctx context.Context, filename string, data []byte) (models.Document, error)
	HandleMessage(ctx context.Context, req models.ChatRequest) *models.AgentResponse
	ListDocuments(ctx context.Context) ([]models.Document, error)
	GetDocument(ctx context.Context, documentID string) (models.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
	GetStats(ctx context.Context) (models.Stats, error)
	SearchDocuments(ctx context.Context, query string, topK int) ([]models.ScoredChunk, error)
}

type Config struct {
	Addr           string
	MaxUploadFiles int
	// MaxFileSize is the per-file upload limit in bytes.
	MaxFileSize    int64
	RequestTimeout time.Duration
	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	AgentType  string `json:"agent_type,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Data       any    `json:"data,omitempty"`
}

const (
	MessageChat     = "chat"
	MessageReset    = "reset"
	MessageResponse = "response"
	MessageError    = "error"
	MessageStatus   = "status"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// UploadResult lists the documents created by one upload request and the
// files that were rejected.
type UploadResult struct {
	Documents []models.Document `json:"documents"`
	Errors    []string          `json:"errors,omitempty"`
}

type WSServer struct {
	config   Config
	svc      Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSServer(svc Service, config Config, logger *slog.Logger) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxUploadFiles <= 0 {
		config.MaxUploadFiles = 10
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = 50 << 20
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 3 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}

	s := &WSServer{config: config, svc: svc, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /search", s.handleSearch)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.config.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func (s *WSServer) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var history []models.Turn
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("error reading message", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(conn, Message{Type: MessageError, Content: "invalid message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case MessageReset:
			history = nil
			s.send(conn, Message{Type: MessageStatus, Content: "conversation cleared"})
			continue
		case "", MessageChat:
		default:
			s.send(conn, Message{Type: MessageError, Content: fmt.Sprintf("unknown message type %q", msg.Type)})
			continue
		}

		if strings.TrimSpace(msg.Content) == "" {
			s.send(conn, Message{Type: MessageError, Content: "message cannot be empty"})
			continue
		}

		// Messages on one connection are answered in order so history stays
		// consistent with what the client saw.
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		resp := s.svc.HandleMessage(ctx, models.ChatRequest{
			Message:    msg.Content,
			AgentType:  msg.AgentType,
			DocumentID: msg.DocumentID,
			History:    history,
		})
		cancel()

		reply := Message{Type: MessageResponse, Content: resp.Response, Data: resp}
		if resp.Status == models.ResponseFailed {
			reply.Type = MessageError
		} else {
			history = appendHistory(history,
				models.Turn{Role: models.RoleUser, Content: msg.Content},
				models.Turn{Role: models.RoleAssistant, Content: resp.Response})
		}
		if !s.send(conn, reply) {
			return
		}
	}
}

func appendHistory(history []models.Turn, turns ...models.Turn) []models.Turn {
	history = append(history, turns...)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	return history
}

func (s *WSServer) send(conn *websocket.Conn, msg Message) bool {
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("error sending message", "error", err)
		return false
	}
	return true
}

func (s *WSServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *WSServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":           "PDF chat API",
		"supported_formats": []string{models.FileTypePDF},
		"agents":            []models.Intent{models.IntentRetrievalQA, models.IntentSummarization, models.IntentMCQ},
	})
}

func (s *WSServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid request body: %v", types.ErrValidation, err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, fmt.Errorf("%w: message cannot be empty", types.ErrValidation))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, s.svc.HandleMessage(ctx, req))
}

func (s *WSServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxFileSize*int64(s.config.MaxUploadFiles) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid upload: %v", types.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var files []*multipart.FileHeader
	files = append(files, r.MultipartForm.File["files"]...)
	files = append(files, r.MultipartForm.File["file"]...)
	switch {
	case len(files) == 0:
		s.writeError(w, fmt.Errorf("%w: no files provided", types.ErrValidation))
		return
	case len(files) > s.config.MaxUploadFiles:
		s.writeError(w, fmt.Errorf("%w: maximum %d files allowed per upload", types.ErrValidation, s.config.MaxUploadFiles))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	var result UploadResult
	for _, fh := range files {
		doc, err := s.uploadFile(ctx, fh)
		if err != nil {
			s.logger.Warn("upload rejected", "filename", fh.Filename, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		if doc.Status == models.StatusError {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", fh.Filename, doc.Error))
		}
		result.Documents = append(result.Documents, doc)
	}

	status := http.StatusOK
	if len(result.Errors) > 0 && !anyProcessed(result.Documents) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *WSServer) uploadFile(ctx context.Context, fh *multipart.FileHeader) (models.Document, error) {
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return models.Document{}, fmt.Errorf("%w: only PDF files are allowed", types.ErrUnsupportedType)
	}
	if fh.Size > s.config.MaxFileSize {
		return models.Document{}, fmt.Errorf("%w: file size %d exceeds maximum %d bytes", types.ErrValidation, fh.Size, s.config.MaxFileSize)
	}

	f, err := fh.Open()
	if err != nil {
		return models.Document{}, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return models.Document{}, fmt.Errorf("reading upload: %w", err)
	}
	return s.svc.UploadDocument(ctx, fh.Filename, data)
}

func anyProcessed(docs []models.Document) bool {
	for _, d := range docs {
		if d.Status == models.StatusProcessed {
			return true
		}
	}
	return false
}

func (s *WSServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *WSServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *WSServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *WSServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *WSServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: top_k must be a non-negative integer", types.ErrValidation))
			return
		}
		topK = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	hits, err := s.svc.SearchDocuments(ctx, r.URL.Query().Get("q"), topK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hits == nil {
		hits = []models.ScoredChunk{}
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *WSServer) writeError(w http.ResponseWriter, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: strconv.Itoa(status)})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrUnsupportedType):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
