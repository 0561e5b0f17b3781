package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/pkg/chatbot"
	"github.com/xhad/pdfchat/server"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

// spin shows a spinner until fn returns.
func spin(description string, fn func()) {
	spinner := getSpinner(description)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				spinner.Add(1)
			}
		}
	}()
	fn()
	close(done)
	spinner.Finish()
}

// embedProgress draws one bar per document from the service's progress
// callbacks.
type embedProgress struct {
	mu    sync.Mutex
	docID string
	bar   *progressbar.ProgressBar
}

func (p *embedProgress) update(documentID string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || p.docID != documentID {
		p.docID = documentID
		p.bar = getProgressBar(total, "🔄 Embedding chunks...")
	}
	p.bar.Set(done)
}

func (p *embedProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		fmt.Println()
	}
	p.bar, p.docID = nil, ""
}

// ingestFiles uploads each path, reporting per-file results. It fails only
// when no file could be processed.
func ingestFiles(ctx context.Context, svc *chatbot.Service, progress *embedProgress, paths []string) error {
	processed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			color.Red("✗ %s: %v", path, err)
			continue
		}

		color.Blue("📄 Processing %s", filepath.Base(path))
		doc, err := svc.UploadDocument(ctx, filepath.Base(path), data)
		progress.finish()
		switch {
		case err != nil:
			color.Red("✗ %s: %v", path, err)
		case doc.Status == models.StatusError:
			color.Red("✗ %s: %s", path, doc.Error)
		default:
			processed++
			color.Green("✓ %s → %s (%d chunks, %d words)", doc.Filename, doc.ID, doc.ChunkCount, doc.WordCount)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if processed == 0 && len(paths) > 0 {
		return fmt.Errorf("no documents were processed")
	}
	return nil
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.pdf>...",
		Short: "Extract, chunk and index PDF documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress := &embedProgress{}
			a, err := setup(cmd.Context(), progress.update)
			if err != nil {
				return err
			}
			defer a.Close()

			return ingestFiles(cmd.Context(), a.svc, progress, args)
		},
	}
}

func printResponse(resp *models.AgentResponse) {
	assistant := color.New(color.FgCyan).PrintfFunc()

	if resp.Status == models.ResponseFailed {
		color.Red("\n%s", resp.Response)
		if resp.Error != nil {
			color.Red("(%s)", resp.Error.Code)
		}
		return
	}

	assistant("\nAssistant [%s]: ", resp.AgentType)
	fmt.Println(resp.Response)

	for _, src := range resp.Sources {
		if !src.Cited && resp.AgentType != models.IntentMCQ {
			continue
		}
		color.White("  [%d] %s, chunk %d (score %.2f)", src.Marker, src.Filename, src.Ordinal, src.Score)
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [file.pdf]...",
		Short: "Chat about indexed documents",
		Long: `Starts an interactive session. Files given as arguments are ingested first.

Commands:
  /summary [topic]   summarize the documents
  /quiz [topic]      generate multiple choice questions
  /doc <id>          restrict answers to one document (/doc alone clears it)
  /docs              list documents
  /reset             forget the conversation
  exit               quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			progress := &embedProgress{}
			a, err := setup(ctx, progress.update)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				if err := ingestFiles(ctx, a.svc, progress, args); err != nil {
					return err
				}
			}
			return chatLoop(ctx, a.svc)
		},
	}
}

func chatLoop(ctx context.Context, svc *chatbot.Service) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit, /summary, /quiz, /doc <id>)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	var (
		history    []models.Turn
		documentID string
	)
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		req := models.ChatRequest{Message: line, DocumentID: documentID}

		switch cmd, rest, _ := strings.Cut(line, " "); strings.ToLower(cmd) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			history = nil
			color.Yellow("Conversation cleared")
			continue
		case "/doc":
			documentID = strings.TrimSpace(rest)
			if documentID == "" {
				color.Yellow("Searching all documents")
			} else {
				color.Yellow("Restricted to document %s", documentID)
			}
			continue
		case "/docs":
			if err := listDocuments(ctx, svc); err != nil {
				color.Red("Error: %v", err)
			}
			continue
		case "/summary":
			req.AgentType = string(models.IntentSummarization)
			req.Message = defaultMessage(rest, "Summarize the documents")
		case "/quiz":
			req.AgentType = string(models.IntentMCQ)
			req.Message = defaultMessage(rest, "Create a quiz about the documents")
		}
		req.History = history

		var resp *models.AgentResponse
		spin("🤖 Thinking...", func() {
			resp = svc.HandleMessage(ctx, req)
		})
		printResponse(resp)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp.Status == models.ResponseCompleted {
			history = append(history,
				models.Turn{Role: models.RoleUser, Content: req.Message},
				models.Turn{Role: models.RoleAssistant, Content: resp.Response})
			if len(history) > 10 {
				history = history[len(history)-10:]
			}
		}
	}
}

func defaultMessage(rest, fallback string) string {
	if rest = strings.TrimSpace(rest); rest != "" {
		return rest
	}
	return fallback
}

func askCmd() *cobra.Command {
	var (
		agentType  string
		documentID string
		files      []string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			progress := &embedProgress{}
			a, err := setup(ctx, progress.update)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(files) > 0 {
				if err := ingestFiles(ctx, a.svc, progress, files); err != nil {
					return err
				}
			}

			var resp *models.AgentResponse
			spin("🤖 Thinking...", func() {
				resp = a.svc.HandleMessage(ctx, models.ChatRequest{
					Message:    strings.Join(args, " "),
					AgentType:  agentType,
					DocumentID: documentID,
				})
			})
			printResponse(resp)
			if resp.Status == models.ResponseFailed {
				return fmt.Errorf("request failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentType, "agent", "a", "", "agent to use: retrieval_qa, summarization or mcq")
	cmd.Flags().StringVarP(&documentID, "doc", "d", "", "restrict retrieval to one document id")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "PDF files to ingest before asking")
	return cmd
}

func searchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank indexed chunks against a query without generating an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.svc.SearchDocuments(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				color.Yellow("No matching chunks")
				return nil
			}
			for i, h := range hits {
				color.Cyan("%d. %s, chunk %d (score %.3f)", i+1, h.Chunk.Metadata.Filename, h.Chunk.Ordinal, h.Score)
				fmt.Println(preview(h.Chunk.Text, 240))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of chunks to return")
	return cmd
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func listDocuments(ctx context.Context, svc *chatbot.Service) error {
	docs, err := svc.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		color.Yellow("No documents")
		return nil
	}
	for _, d := range docs {
		line := fmt.Sprintf("%s  %-30s %-9s %4d chunks  %s", d.ID, d.Filename, d.Status, d.ChunkCount, d.CreatedAt.Local().Format(time.DateTime))
		if d.Status == models.StatusError {
			color.Red("%s  %s", line, d.Error)
			continue
		}
		fmt.Println(line)
	}
	return nil
}

func documentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs", "ls"},
		Short:   "List indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return listDocuments(cmd.Context(), a.svc)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Delete documents and their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, id := range args {
				if err := a.svc.DeleteDocument(cmd.Context(), id); err != nil {
					color.Red("✗ %s: %v", id, err)
					failed++
					continue
				}
				color.Green("✓ deleted %s", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletions failed", failed, len(args))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document and chunk counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.svc.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Backend:   %s\n", stats.IndexBackend)
			fmt.Printf("Documents: %d\n", stats.DocumentCount)
			fmt.Printf("Chunks:    %d\n", stats.ChunkCount)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			srv := server.NewWSServer(a.svc, server.Config{
				Addr:           cfg.Addr,
				MaxUploadFiles: cfg.MaxUploadFiles,
				MaxFileSize:    a.config.MaxFileSize(),
				RequestTimeout: cfg.RequestTimeout,
				AllowedOrigins: cfg.AllowedOrigins,
			}, a.logger)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	return cmd
}
