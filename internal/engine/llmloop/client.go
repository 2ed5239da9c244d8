package llmloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nextlevelbuilder/ohbridge/internal/config"
)

// DefaultAPIBase is used when an LLM entry sets no base_url.
const DefaultAPIBase = "https://api.openai.com/v1"

// ChatMessage is one OpenAI chat message. Content is either a string or
// a list of content parts when images are attached.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// userMessage builds a user message, with image parts when urls are given.
func userMessage(text string, urls []string) ChatMessage {
	if len(urls) == 0 {
		return ChatMessage{Role: "user", Content: text}
	}
	parts := []contentPart{{Type: "text", Text: text}}
	for _, u := range urls {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: u}})
	}
	return ChatMessage{Role: "user", Content: parts}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Completer answers a conversation with the next assistant turn.
type Completer interface {
	Complete(ctx context.Context, llm config.LLMConfig, messages []ChatMessage) (string, error)
}

// HTTPCompleter calls an OpenAI-compatible /chat/completions endpoint.
type HTTPCompleter struct {
	client *http.Client
}

// NewHTTPCompleter creates a completer. A nil client uses a default one;
// per-request timeouts come from the LLM config.
func NewHTTPCompleter(client *http.Client) *HTTPCompleter {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCompleter{client: client}
}

// Complete POSTs {apiBase}/chat/completions and returns the first choice.
func (c *HTTPCompleter) Complete(ctx context.Context, llm config.LLMConfig, messages []ChatMessage) (string, error) {
	base := llm.BaseURL
	if base == "" {
		base = DefaultAPIBase
	}

	bodyJSON, err := json.Marshal(chatRequest{
		Model:       llm.Model,
		Messages:    messages,
		Temperature: llm.Temperature,
		MaxTokens:   llm.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, llm.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if llm.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+llm.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completions error %d: %s", resp.StatusCode, string(errBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completions returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
