package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/provider"
)

type fakeStore struct {
	history       []domain.Message
	knnResults    []domain.ChunkSearchResult
	knnErr        error
	createdUser   *domain.Message
	createdAssist *domain.Message
	createErr     error
}

func (f *fakeStore) ListMessagesByChat(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	return f.history, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if f.createErr != nil {
		return domain.Message{}, f.createErr
	}
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	if m.Role == domain.RoleUser {
		f.createdUser = &m
	} else {
		f.createdAssist = &m
	}
	return m, nil
}

func (f *fakeStore) KNN(ctx context.Context, queryVector []float32, projectIDs []uuid.UUID, k int) ([]domain.ChunkSearchResult, error) {
	if f.knnErr != nil {
		return nil, f.knnErr
	}
	return f.knnResults, nil
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

type fakeChatStreamer struct {
	tokens []string
	err    error
}

func (f *fakeChatStreamer) StreamChat(ctx context.Context, messages []provider.ChatMessage, onToken func(string) error) (string, error) {
	var full string
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return full, err
		}
		full += tok
	}
	if f.err != nil {
		return full, f.err
	}
	return full, nil
}

func drainAll(ch <-chan bus.Event, timeout time.Duration) []bus.Event {
	var out []bus.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func eventTypes(events []bus.Event) []bus.EventType {
	types := make([]bus.EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestAnswerHappyPathEmitsEventsInOrder(t *testing.T) {
	st := &fakeStore{
		knnResults: []domain.ChunkSearchResult{
			{CompanyName: "ACME", DocumentType: "annual_report", FiscalYear: "2024", Field: "revenue", Content: "Revenue was $1B"},
		},
	}
	embedder := &fakeEmbedder{vectors: [][]float32{{0.1, 0.2}}}
	chat := &fakeChatStreamer{tokens: []string{"The ", "revenue ", "was $1B."}}
	p := New(st, embedder, chat, 10)

	ch := p.Answer(context.Background(), uuid.New(), "What was the revenue?", []uuid.UUID{uuid.New()})
	events := drainAll(ch, 2*time.Second)

	types := eventTypes(events)
	require.GreaterOrEqual(t, len(types), 6)
	assert.Equal(t, bus.EventStatus, types[0])
	assert.Equal(t, bus.EventStatus, types[1])
	assert.Equal(t, bus.EventContext, types[2])
	assert.Equal(t, bus.EventStart, types[3])
	assert.Equal(t, bus.EventChunk, types[4])
	assert.Equal(t, bus.EventDone, types[len(types)-1])

	require.NotNil(t, st.createdUser)
	assert.Equal(t, "What was the revenue?", st.createdUser.Content)
	require.NotNil(t, st.createdAssist)
	assert.Equal(t, "The revenue was $1B.", st.createdAssist.Content)

	contextPayload := events[2].Payload.(map[string]int)
	assert.Equal(t, 1, contextPayload["chunks_found"])

	done := events[len(events)-1]
	donePayload := done.Payload.(map[string]string)
	assert.Equal(t, st.createdAssist.ID.String(), donePayload["message_id"])
}

func TestAnswerEmitsErrorWhenEmbeddingFails(t *testing.T) {
	st := &fakeStore{}
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	chat := &fakeChatStreamer{}
	p := New(st, embedder, chat, 10)

	ch := p.Answer(context.Background(), uuid.New(), "hello", []uuid.UUID{uuid.New()})
	events := drainAll(ch, 2*time.Second)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, bus.EventError, last.Type)
	assert.Nil(t, st.createdAssist)
}

func TestAnswerSkipsAssistantPersistenceOnCancellation(t *testing.T) {
	st := &fakeStore{}
	embedder := &fakeEmbedder{vectors: [][]float32{{0.1}}}
	chat := &fakeChatStreamer{tokens: []string{"partial"}, err: errs.ErrCancelled}
	p := New(st, embedder, chat, 10)

	ch := p.Answer(context.Background(), uuid.New(), "hello", []uuid.UUID{uuid.New()})
	events := drainAll(ch, 2*time.Second)

	for _, ev := range events {
		assert.NotEqual(t, bus.EventDone, ev.Type)
		assert.NotEqual(t, bus.EventError, ev.Type)
	}
	assert.Nil(t, st.createdAssist)
}

func TestFormatContextGroupsByCompanyInFirstSeenOrder(t *testing.T) {
	results := []domain.ChunkSearchResult{
		{CompanyName: "ACME", DocumentType: "annual_report", FiscalYear: "2024", Field: "revenue", Content: "chunk A"},
		{CompanyName: "Globex", DocumentType: "transcript", FiscalYear: "2023", Field: "net_profit", Content: "chunk B"},
		{CompanyName: "ACME", DocumentType: "presentation", FiscalYear: "2024", Field: "revenue", Content: "chunk C"},
	}
	out := formatContext(results)

	acmeIdx := indexOf(out, "ACME:")
	globexIdx := indexOf(out, "Globex:")
	require.GreaterOrEqual(t, acmeIdx, 0)
	require.GreaterOrEqual(t, globexIdx, 0)
	assert.Less(t, acmeIdx, globexIdx)
	assert.Contains(t, out, "[Document: annual_report, Period: 2024, Field: revenue]")
	assert.Contains(t, out, "[Document: transcript, Period: 2023, Field: net_profit]")
}

func TestFormatContextEmptyResults(t *testing.T) {
	assert.Equal(t, "", formatContext(nil))
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
