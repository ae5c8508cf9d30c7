// Package retrieval implements the chat-answer pipeline: embed the user's
// question, pull the nearest chunks from Store.KNN scoped to the selected
// projects, assemble a grounded prompt, and stream the chat provider's
// response back turn by token. It runs on the caller's own request task
// (§5) rather than a worker pool job, and its event stream shares the
// bus package's Event shape and SSE framing without going through a
// ProgressBus topic — there is exactly one subscriber per request.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgerline/filings-orchestrator/internal/bus"
	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/provider"
)

// systemDirective is prepended to every chat completion, keeping the model
// from inventing figures the retrieved chunks don't contain.
const systemDirective = "Use only the given data; do not guess numbers; answer each company separately."

// store is the narrow subset of store.Store the pipeline needs, kept as an
// interface so tests can substitute a fake instead of a live database.
type store interface {
	ListMessagesByChat(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error)
	CreateMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	KNN(ctx context.Context, queryVector []float32, projectIDs []uuid.UUID, k int) ([]domain.ChunkSearchResult, error)
}

// Pipeline answers chat messages against the selected projects' indexed
// content, adapted from the teacher's provider-backed request handlers but
// specialized to this domain's retrieval-augmented-generation shape.
type Pipeline struct {
	Store    store
	Embedder provider.Embedder
	Chat     provider.ChatStreamer
	K        int
}

// New constructs a Pipeline. k is the KNN fan-out (spec default 10); a
// non-positive value is left to Store.KNN's own default.
func New(st store, embedder provider.Embedder, chat provider.ChatStreamer, k int) *Pipeline {
	return &Pipeline{Store: st, Embedder: embedder, Chat: chat, K: k}
}

// Answer runs the seven-step algorithm (§4.4) asynchronously and returns a
// channel of events in the fixed order: status*, context, start, chunk+,
// done — or an error event at any point, which is terminal. The channel is
// always closed by the time Answer's goroutine returns, with or without a
// done event, so a caller's SSE loop can simply range over it.
func (p *Pipeline) Answer(ctx context.Context, chatID uuid.UUID, content string, projectIDs []uuid.UUID) <-chan bus.Event {
	out := make(chan bus.Event, 16)
	go p.run(ctx, chatID, content, projectIDs, out)
	return out
}

func (p *Pipeline) run(ctx context.Context, chatID uuid.UUID, content string, projectIDs []uuid.UUID, out chan<- bus.Event) {
	defer close(out)

	emit := func(ev bus.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(step string, err error) {
		emit(bus.Event{Type: bus.EventError, Payload: map[string]string{"step": step, "message": err.Error()}})
	}

	// Fetched before persisting the new turn, so it holds only prior
	// messages — the current question is threaded into the prompt
	// separately, alongside the retrieved context.
	history, err := p.Store.ListMessagesByChat(ctx, chatID)
	if err != nil {
		fail("history", err)
		return
	}

	if _, err := p.Store.CreateMessage(ctx, domain.Message{
		ChatID: chatID, Role: domain.RoleUser, Content: content, ProjectIDs: projectIDs,
	}); err != nil {
		fail("persist_user_message", err)
		return
	}

	if !emit(statusEvent("Creating query embedding")) {
		return
	}
	vectors, err := p.Embedder.CreateEmbeddings(ctx, []string{content})
	if err != nil {
		fail("embed", err)
		return
	}
	if len(vectors) == 0 {
		fail("embed", errs.Internalf("embedding provider returned no vectors"))
		return
	}

	if !emit(statusEvent("Searching relevant documents")) {
		return
	}
	results, err := p.Store.KNN(ctx, vectors[0], projectIDs, p.K)
	if err != nil {
		fail("knn", err)
		return
	}
	if !emit(bus.Event{Type: bus.EventContext, Payload: map[string]int{"chunks_found": len(results)}}) {
		return
	}

	messages := assemblePrompt(history, results, content)

	if !emit(bus.Event{Type: bus.EventStart, Payload: struct{}{}}) {
		return
	}

	var full strings.Builder
	_, streamErr := p.Chat.StreamChat(ctx, messages, func(token string) error {
		full.WriteString(token)
		// encoding/json escapes backslash/quote/newline for us when this
		// event is marshaled for the wire (bus.Event.MarshalSSE), the same
		// three characters §4.4 calls out, just applied by the standard
		// encoder instead of by hand.
		if !emit(bus.Event{Type: bus.EventChunk, Payload: map[string]string{"content": token}}) {
			return errs.ErrCancelled
		}
		return nil
	})
	if streamErr != nil {
		if errs.IsCancelled(streamErr) || ctx.Err() != nil {
			return // client disconnected: skip persistence, discard the in-flight answer (§4.4, §5)
		}
		fail("chat", streamErr)
		return
	}
	if ctx.Err() != nil {
		return
	}

	assistant, err := p.Store.CreateMessage(ctx, domain.Message{
		ChatID: chatID, Role: domain.RoleAI, Content: full.String(), ProjectIDs: projectIDs,
	})
	if err != nil {
		fail("persist_assistant_message", err)
		return
	}

	emit(bus.Event{Type: bus.EventDone, Payload: map[string]string{"message_id": assistant.ID.String()}})
}

func statusEvent(message string) bus.Event {
	return bus.Event{Type: bus.EventStatus, Payload: map[string]string{"message": message}}
}

// assemblePrompt builds the message list sent to the chat provider: the
// grounding directive, the chat's prior turns in order, and a final user
// turn combining the grouped-by-company retrieved context with the new
// question.
func assemblePrompt(history []domain.Message, results []domain.ChunkSearchResult, question string) []provider.ChatMessage {
	messages := make([]provider.ChatMessage, 0, len(history)+2)
	messages = append(messages, provider.ChatMessage{Role: "system", Content: systemDirective})
	for _, m := range history {
		messages = append(messages, provider.ChatMessage{Role: chatRole(m.Role), Content: m.Content})
	}

	context := formatContext(results)
	var finalTurn strings.Builder
	if context != "" {
		finalTurn.WriteString(context)
		finalTurn.WriteString("\n")
	}
	finalTurn.WriteString(question)
	messages = append(messages, provider.ChatMessage{Role: "user", Content: finalTurn.String()})
	return messages
}

// formatContext groups chunks by company, preserving the order companies
// first appear in the KNN result set, and renders each chunk under a
// bracketed header naming its document type, fiscal period and field.
func formatContext(results []domain.ChunkSearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var order []string
	grouped := make(map[string][]domain.ChunkSearchResult)
	for _, r := range results {
		if _, seen := grouped[r.CompanyName]; !seen {
			order = append(order, r.CompanyName)
		}
		grouped[r.CompanyName] = append(grouped[r.CompanyName], r)
	}

	var sb strings.Builder
	for _, company := range order {
		sb.WriteString(company)
		sb.WriteString(":\n")
		for _, r := range grouped[company] {
			sb.WriteString(fmt.Sprintf("[Document: %s, Period: %s, Field: %s]\n", r.DocumentType, r.FiscalYear, r.Field))
			sb.WriteString(r.Content)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func chatRole(r domain.MessageRole) string {
	if r == domain.RoleAI {
		return "assistant"
	}
	return "user"
}
