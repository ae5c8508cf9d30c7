// Package openai implements provider.Embedder, provider.ChatStreamer and
// provider.Extractor against the OpenAI-compatible chat/embeddings API,
// adapted from the teacher's provider/openai client (non-streaming
// completions + embeddings) and extended with a streaming chat method
// grounded on the official streaming chat-completions SSE format.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ledgerline/filings-orchestrator/internal/provider"
)

// Client is an OpenAI-compatible HTTP client bound to one API key and a
// fixed set of model identifiers for chat, embeddings and extraction.
type Client struct {
	apiKey          string
	baseURL         string
	chatModel       string
	embeddingModel  string
	extractionModel string
	temperature     float64
	maxTokens       int
	httpClient      *http.Client
	limiter         *rate.Limiter
}

// New constructs a Client. baseURL defaults to the public OpenAI API when
// empty. requestsPerSecond throttles every outbound call through a
// token-bucket limiter; zero or negative disables throttling.
func New(apiKey, baseURL, chatModel, embeddingModel, extractionModel string, temperature float64, maxTokens int, timeout time.Duration, requestsPerSecond float64) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Client{
		apiKey:          apiKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		chatModel:       chatModel,
		embeddingModel:  embeddingModel,
		extractionModel: extractionModel,
		temperature:     temperature,
		maxTokens:       maxTokens,
		httpClient:      &http.Client{Timeout: timeout},
		limiter:         limiter,
	}
}

// wait blocks until the rate limiter admits the next request, a no-op when
// no limit was configured.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

var (
	_ provider.Embedder          = (*Client)(nil)
	_ provider.ChatStreamer      = (*Client)(nil)
	_ provider.Extractor         = (*Client)(nil)
	_ provider.SnapshotGenerator = (*Client)(nil)
)

// CreateEmbeddings batches texts into a single embeddings request.
func (c *Client) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embeddings request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp)
	}

	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	vecs := make([][]float32, len(decoded.Data))
	for _, d := range decoded.Data {
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	ResponseFmt *responseFmt  `json:"response_format,omitempty"`
}

type responseFmt struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toChatMessages(in []provider.ChatMessage) []chatMessage {
	out := make([]chatMessage, len(in))
	for i, m := range in {
		out[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// StreamChat issues a streaming chat-completions request and invokes
// onToken for every delta as it arrives, returning the accumulated text.
// Grounded on original_source's stream_chat_response: OpenAI's
// text/event-stream chunks, each a `data: {...}` line terminated by
// `data: [DONE]`.
func (c *Client) StreamChat(ctx context.Context, messages []provider.ChatMessage, onToken func(string) error) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.chatModel,
		Messages:    toChatMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", httpStatusError(resp)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // ignore malformed keep-alive/comment frames
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if onToken != nil {
				if err := onToken(choice.Delta.Content); err != nil {
					return full.String(), err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read chat stream: %w", err)
	}
	return full.String(), nil
}

// ExtractData asks the extraction model for a strict-JSON structured
// extraction over a document's page text, using response_format
// json_object so the result always parses.
func (c *Client) ExtractData(ctx context.Context, pageTexts []string, hints provider.ExtractionHints) (provider.ExtractionOutput, error) {
	system := "You extract structured financial data from filing text. " +
		"Respond with a single JSON object with keys: data (line items and figures), " +
		"metadata (citations and reasoning), revenue (number or null), net_profit (number or null). " +
		"Use only the given text; do not guess numbers."
	user := fmt.Sprintf("Company: %s\nDocument type: %s\nFiscal year: %s\n\n%s",
		hints.CompanyName, hints.DocumentType, hints.FiscalYear, strings.Join(pageTexts, "\n\n"))

	if err := c.wait(ctx); err != nil {
		return provider.ExtractionOutput{}, err
	}
	body, err := json.Marshal(chatRequest{
		Model: c.extractionModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		ResponseFmt: &responseFmt{Type: "json_object"},
	})
	if err != nil {
		return provider.ExtractionOutput{}, fmt.Errorf("marshal extraction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return provider.ExtractionOutput{}, fmt.Errorf("build extraction request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.ExtractionOutput{}, fmt.Errorf("send extraction request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.ExtractionOutput{}, httpStatusError(resp)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return provider.ExtractionOutput{}, fmt.Errorf("decode extraction response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return provider.ExtractionOutput{}, fmt.Errorf("extraction response had no choices")
	}

	var parsed struct {
		Data      json.RawMessage `json:"data"`
		Metadata  json.RawMessage `json:"metadata"`
		Revenue   *float64        `json:"revenue"`
		NetProfit *float64        `json:"net_profit"`
	}
	if err := json.Unmarshal([]byte(decoded.Choices[0].Message.Content), &parsed); err != nil {
		return provider.ExtractionOutput{}, fmt.Errorf("parse extraction JSON: %w", err)
	}
	return provider.ExtractionOutput{
		Data:      parsed.Data,
		Metadata:  parsed.Metadata,
		Revenue:   parsed.Revenue,
		NetProfit: parsed.NetProfit,
	}, nil
}

// GenerateSnapshot asks the chat model to summarize a project's
// accumulated extraction results into the cached snapshot JSON payload.
func (c *Client) GenerateSnapshot(ctx context.Context, input provider.SnapshotInput) ([]byte, error) {
	system := "You produce a concise JSON company snapshot from structured filing extractions. " +
		"Respond with a single JSON object summarizing revenue, profit trend, and key facts. " +
		"Use only the given data; do not guess numbers."
	var parts []string
	for _, e := range input.Extractions {
		parts = append(parts, string(e.Data))
	}
	user := fmt.Sprintf("Company: %s\n\nExtractions:\n%s", input.CompanyName, strings.Join(parts, "\n\n"))

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatRequest{
		Model: c.extractionModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0,
		ResponseFmt: &responseFmt{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send snapshot request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError(resp)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode snapshot response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("snapshot response had no choices")
	}
	return []byte(decoded.Choices[0].Message.Content), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// statusError carries the upstream HTTP status so the executor can tell a
// 4xx from a 5xx.
type statusError struct{ code int }

func (e *statusError) Error() string   { return fmt.Sprintf("openai: unexpected status %d", e.code) }
func (e *statusError) StatusCode() int { return e.code }

func httpStatusError(resp *http.Response) error {
	return &statusError{code: resp.StatusCode}
}
