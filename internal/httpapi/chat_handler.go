package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ledgerline/filings-orchestrator/internal/domain"
	"github.com/ledgerline/filings-orchestrator/internal/errs"
	"github.com/ledgerline/filings-orchestrator/internal/retrieval"
	"github.com/ledgerline/filings-orchestrator/internal/store"
)

// ChatsHandler serves every /api/chats route (spec.md §6).
type ChatsHandler struct {
	Store     *store.Store
	Retrieval *retrieval.Pipeline
	KeepAlive time.Duration
}

func (h *ChatsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/messages", h.sendMessage)
}

type createChatRequest struct {
	Title      string      `json:"title"`
	ProjectIDs []uuid.UUID `json:"project_ids"`
}

type chatResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatResponse(c domain.Chat) chatResponse {
	return chatResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
}

// create auto-titles from the selected projects' company names when the
// caller omits one, per §10's supplemented titling rule ported from
// original_source's create_chat: "Chat with {company}" for a single
// project, "Chat with {n} companies" for more than one.
func (h *ChatsHandler) create(c echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid request body")
	}
	ctx := c.Request().Context()

	title := req.Title
	if title == "" {
		names, err := h.projectNames(ctx, req.ProjectIDs)
		if err != nil {
			return err
		}
		title = autoTitleNames(names)
	}

	chat, err := h.Store.CreateChat(ctx, title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toChatResponse(chat))
}

// projectNames resolves each selected project's company name for
// auto-titling; a project that no longer exists is skipped rather than
// failing chat creation over it.
func (h *ChatsHandler) projectNames(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		project, err := h.Store.GetProject(ctx, id)
		if err != nil {
			if errs.KindOf(err) == errs.NotFound {
				continue
			}
			return nil, err
		}
		names = append(names, project.CompanyName)
	}
	return names, nil
}

func (h *ChatsHandler) list(c echo.Context) error {
	chats, err := h.Store.ListChats(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]chatResponse, len(chats))
	for i, ch := range chats {
		out[i] = toChatResponse(ch)
	}
	return c.JSON(http.StatusOK, out)
}

type messageResponse struct {
	ID         uuid.UUID          `json:"id"`
	ChatID     uuid.UUID          `json:"chat_id"`
	Role       domain.MessageRole `json:"role"`
	Content    string             `json:"content"`
	ProjectIDs []uuid.UUID        `json:"project_ids"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{ID: m.ID, ChatID: m.ChatID, Role: m.Role, Content: m.Content, ProjectIDs: m.ProjectIDs, CreatedAt: m.CreatedAt}
}

type chatDetailResponse struct {
	chatResponse
	Messages []messageResponse `json:"messages"`
}

func (h *ChatsHandler) get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	chat, err := h.Store.GetChat(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := h.Store.ListMessagesByChat(ctx, id)
	if err != nil {
		return err
	}
	out := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageResponse(m)
	}
	return c.JSON(http.StatusOK, chatDetailResponse{chatResponse: toChatResponse(chat), Messages: out})
}

func (h *ChatsHandler) delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteChat(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content    string      `json:"content"`
	ProjectIDs []uuid.UUID `json:"project_ids"`
}

// sendMessage streams the retrieval pipeline's answer as SSE, the same
// event framing as the job progress stream (§4.4, §6).
func (h *ChatsHandler) sendMessage(c echo.Context) error {
	chatID, err := parseID(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return errs.Validationf("invalid request body")
	}
	if req.Content == "" {
		return errs.Validationf("content must not be empty")
	}
	if len(req.ProjectIDs) == 0 {
		return errs.Validationf("project_ids must not be empty")
	}

	ctx := c.Request().Context()
	if _, err := h.Store.GetChat(ctx, chatID); err != nil {
		return err
	}

	resp := c.Response()
	flusher, ok := setSSEHeaders(resp)
	if !ok {
		return errs.Unavailablef("streaming unsupported by this connection")
	}

	events := h.Retrieval.Answer(ctx, chatID, req.Content, req.ProjectIDs)

	keepAlive := time.NewTicker(keepAliveInterval(h.KeepAlive))
	defer keepAlive.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return nil
			}
			if err := writeSSE(resp, flusher, ev); err != nil {
				return nil // client disconnected mid-stream
			}
			keepAlive.Reset(keepAliveInterval(h.KeepAlive))
		case <-keepAlive.C:
			if err := writeKeepAlive(resp, flusher); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func autoTitleNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("Chat with %s", names[0])
	default:
		return fmt.Sprintf("Chat with %d companies", len(names))
	}
}
