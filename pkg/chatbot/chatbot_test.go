package chatbot_test

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/pdfchat/internal/models"
	"github.com/xhad/pdfchat/internal/types"
	"github.com/xhad/pdfchat/pkg/chatbot"
	"github.com/xhad/pdfchat/pkg/store"
)

const dims = 64

// bagEmbedder hashes words into a fixed number of buckets.
type bagEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (b *bagEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, dims)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(strings.Trim(w, ".,?!")))
			v[h.Sum32()%dims]++
		}
		out[i] = v
	}
	return out, nil
}

func (b *bagEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := b.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (b *bagEmbedder) Dimensions() int { return dims }

type progressEmbedder struct{ bagEmbedder }

func (p *progressEmbedder) EmbedDocumentsWithProgress(ctx context.Context, texts []string, progress func(int)) ([][]float32, error) {
	out, err := p.EmbedDocuments(ctx, texts)
	if err == nil {
		progress(len(texts))
	}
	return out, err
}

type stubCompleter struct{ reply string }

func (s stubCompleter) Complete(context.Context, string, string, []models.Turn) (string, error) {
	return s.reply, nil
}

// textExtractor treats the upload bytes as the extracted text.
type textExtractor struct{}

func (textExtractor) ExtractText(data []byte) (string, error) {
	if strings.HasPrefix(string(data), "%BROKEN") {
		return "", types.ErrExtraction
	}
	return string(data), nil
}

var report = strings.Repeat("Revenue increased to 4.2 million dollars in the third quarter. ", 20) +
	"\n\n" + strings.Repeat("The board approved a new dividend policy for shareholders. ", 20)

type fixture struct {
	svc   *chatbot.Service
	index *store.MemoryIndex
	emb   *bagEmbedder
}

func newFixture(t *testing.T, mutate ...func(*chatbot.Deps, *chatbot.Config)) fixture {
	t.Helper()
	f := fixture{index: store.NewMemoryIndex(dims), emb: &bagEmbedder{}}
	deps := chatbot.Deps{
		Completer: stubCompleter{reply: "Revenue rose to 4.2 million [1]."},
		Embedder:  f.emb,
		Index:     f.index,
		Documents: store.NewRegistry(),
		Extractor: textExtractor{},
	}
	config := chatbot.Config{ChunkSize: 300, ChunkOverlap: 50, MaxFileSize: 1 << 20, MinScore: 0.5}
	for _, m := range mutate {
		m(&deps, &config)
	}
	svc, err := chatbot.New(deps, config)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := chatbot.New(chatbot.Deps{}, chatbot.Config{})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestService_UploadDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.svc.UploadDocument(ctx, "/tmp/uploads/Q3 Report.PDF", []byte(report))
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "Q3 Report.PDF", doc.Filename)
	assert.Equal(t, models.StatusProcessed, doc.Status)
	assert.Equal(t, "pdf", doc.FileType)
	assert.Greater(t, doc.ChunkCount, 1)
	assert.Greater(t, doc.WordCount, 100)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{DocumentCount: 1, ChunkCount: doc.ChunkCount, IndexBackend: "memory"}, stats)

	stored, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc, stored)
}

func TestService_UploadRejected(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantIs   error
	}{
		{name: "not a pdf", filename: "notes.txt", data: []byte("x"), wantIs: types.ErrUnsupportedType},
		{name: "no extension", filename: "report", data: []byte("x"), wantIs: types.ErrUnsupportedType},
		{name: "empty", filename: "a.pdf", data: nil, wantIs: types.ErrValidation},
		{name: "too large", filename: "a.pdf", data: make([]byte, 2<<20), wantIs: types.ErrValidation},
		{name: "no filename", filename: " ", data: []byte("x"), wantIs: types.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UploadDocument(context.Background(), tt.filename, tt.data)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}

	docs, err := f.svc.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestService_UploadExtractionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.svc.UploadDocument(ctx, "scan.pdf", []byte("%BROKEN"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, doc.Status)
	assert.NotEmpty(t, doc.Error)
	assert.Zero(t, doc.ChunkCount)

	n, err := f.index.Count(ctx, models.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.emb.calls)
}

func TestService_ReuploadReplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.UploadDocument(ctx, "report.pdf", []byte(report))
	require.NoError(t, err)
	second, err := f.svc.UploadDocument(ctx, "report.pdf", []byte("Short replacement text about revenue."))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	_, err = f.svc.GetDocument(ctx, first.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.ChunkCount)
}

func TestService_FailedReuploadKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.UploadDocument(ctx, "report.pdf", []byte(report))
	require.NoError(t, err)
	before, err := f.index.Count(ctx, models.Filter{DocumentID: first.ID})
	require.NoError(t, err)
	require.Positive(t, before)

	broken, err := f.svc.UploadDocument(ctx, "report.pdf", []byte("%BROKEN pdf"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, broken.Status)

	kept, err := f.svc.GetDocument(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, kept.Status)
	after, err := f.index.Count(ctx, models.Filter{DocumentID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	f.emb.err = &types.ServiceError{Service: "embedding", Attempts: 4, Err: errors.New("timeout")}
	_, err = f.svc.UploadDocument(ctx, "report.pdf", []byte("Short replacement text about revenue."))
	require.ErrorIs(t, err, types.ErrServiceUnavailable)
	after, err = f.index.Count(ctx, models.Filter{DocumentID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	f.emb.err = nil
	latest, err := f.svc.UploadDocument(ctx, "report.pdf", []byte("Short replacement text about revenue."))
	require.NoError(t, err)

	docs, err := f.svc.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, latest.ID, docs[0].ID)
}

func TestService_IngestFailureLeavesNoChunks(t *testing.T) {
	tests := []struct {
		name   string
		ctx    func() context.Context
		embErr error
		wantIs error
	}{
		{
			name:   "embedding unavailable",
			ctx:    context.Background,
			embErr: &types.ServiceError{Service: "embedding", Attempts: 4, Err: errors.New("timeout")},
			wantIs: types.ErrServiceUnavailable,
		},
		{
			name: "cancelled",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantIs: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.emb.err = tt.embErr

			doc, err := f.svc.UploadDocument(tt.ctx(), "report.pdf", []byte(report))
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, models.StatusError, doc.Status)

			n, err := f.index.Count(context.Background(), models.Filter{})
			require.NoError(t, err)
			assert.Zero(t, n)

			stored, err := f.svc.GetDocument(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusError, stored.Status)
		})
	}
}

func TestService_ProcessDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stats, err := f.svc.ProcessDocument(ctx, "manual", report)
	require.NoError(t, err)
	assert.Greater(t, stats.ChunkCount, 1)
	assert.Equal(t, len(strings.Fields(report)), stats.WordCount)

	again, err := f.svc.ProcessDocument(ctx, "manual", "one short line")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStats{ChunkCount: 1, WordCount: 3, CharCount: 14}, again)

	n, err := f.index.Count(ctx, models.Filter{DocumentID: "manual"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reprocessing replaces earlier chunks")

	doc, err := f.svc.GetDocument(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, doc.Status)

	_, err = f.svc.ProcessDocument(ctx, "  ", "text")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestService_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	keep, err := f.svc.UploadDocument(ctx, "keep.pdf", []byte(report))
	require.NoError(t, err)
	drop, err := f.svc.UploadDocument(ctx, "drop.pdf", []byte(report))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteDocument(ctx, drop.ID))
	assert.ErrorIs(t, f.svc.DeleteDocument(ctx, drop.ID), types.ErrNotFound)

	n, err := f.index.Count(ctx, models.Filter{DocumentID: drop.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, keep.ChunkCount, stats.ChunkCount)
}

func TestService_HandleMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.svc.UploadDocument(ctx, "report.pdf", []byte(report))
	require.NoError(t, err)

	resp := f.svc.HandleMessage(ctx, models.ChatRequest{Message: "What was the revenue in the third quarter?", DocumentID: doc.ID})
	require.Equal(t, models.ResponseCompleted, resp.Status)
	assert.Equal(t, models.IntentRetrievalQA, resp.AgentType)
	assert.Equal(t, "Revenue rose to 4.2 million [1].", resp.Response)
	require.NotEmpty(t, resp.Sources)
	assert.LessOrEqual(t, len(resp.Sources), 5)
	assert.True(t, resp.Sources[0].Cited)
	for _, src := range resp.Sources {
		assert.Equal(t, doc.ID, src.DocumentID)
		assert.Equal(t, "report.pdf", src.Filename)
	}

	resp = f.svc.HandleMessage(ctx, models.ChatRequest{Message: "What was revenue?", DocumentID: "no-such-doc"})
	assert.Equal(t, models.ResponseCompleted, resp.Status)
	assert.Empty(t, resp.Sources)

	resp = f.svc.HandleMessage(ctx, models.ChatRequest{Message: "hi", AgentType: "sonnet"})
	assert.Equal(t, models.ResponseFailed, resp.Status)
	assert.Equal(t, "unknown_agent", resp.Error.Code)
}

// flakyIndex fails queries once down is set.
type flakyIndex struct {
	*store.MemoryIndex
	down bool
}

func (f *flakyIndex) Query(ctx context.Context, v []float32, topK int, filter models.Filter) ([]models.ScoredChunk, error) {
	if f.down {
		return nil, errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	}
	return f.MemoryIndex.Query(ctx, v, topK, filter)
}

func TestService_HandleMessageIndexDown(t *testing.T) {
	ctx := context.Background()
	var idx *flakyIndex
	f := newFixture(t, func(d *chatbot.Deps, _ *chatbot.Config) {
		idx = &flakyIndex{MemoryIndex: store.NewMemoryIndex(dims)}
		d.Index = idx
	})

	_, err := f.svc.UploadDocument(ctx, "report.pdf", []byte(report))
	require.NoError(t, err)
	idx.down = true

	resp := f.svc.HandleMessage(ctx, models.ChatRequest{Message: "What was the revenue in the third quarter?"})
	require.Equal(t, models.ResponseFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "service_unavailable", resp.Error.Code)
	assert.Equal(t, "retrieve", resp.Metadata["failed_stage"])
}

func TestService_SearchDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SearchDocuments(ctx, " ", 5)
	assert.ErrorIs(t, err, types.ErrValidation)

	hits, err := f.svc.SearchDocuments(ctx, "dividend policy", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = f.svc.UploadDocument(ctx, "report.pdf", []byte(report))
	require.NoError(t, err)

	hits, err = f.svc.SearchDocuments(ctx, "dividend policy", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 3)
	assert.Contains(t, hits[0].Chunk.Text, "dividend")
}

func TestService_Progress(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	f := newFixture(t, func(d *chatbot.Deps, _ *chatbot.Config) {
		d.Embedder = &progressEmbedder{}
		d.Progress = func(_ string, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, done, total)
		}
	})

	doc, err := f.svc.UploadDocument(context.Background(), "report.pdf", []byte(report))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{doc.ChunkCount, doc.ChunkCount}, seen)
}
