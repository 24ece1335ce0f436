// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"product-atlas/internal/config"
	"product-atlas/pkg/log"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为；nil 字段使用配置中的默认值。
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
}

// DeltaFunc receives streamed content fragments in order.
type DeltaFunc func(delta string) error

// Client defines the interface for an LLM client.
type Client interface {
	// Chat 以 role-based 消息调用聊天接口并返回完整回答。
	Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// StreamChat 以流式方式调用聊天接口，每个分片回调一次 onDelta，并返回拼接后的完整回答。
	StreamChat(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) (string, error)
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	base := strings.TrimRight(cfg.BaseURL, "/")
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &openAIClient{cfg: cfg, base: base, client: httpClient}
	default:
		return &ollamaClient{cfg: cfg, base: base, client: httpClient}
	}
}

func resolve(cfg config.LLMConfig, gen *GenerationParams) (float64, int) {
	temperature, maxTokens := cfg.Temperature, cfg.MaxTokens
	if gen != nil {
		if gen.Temperature != nil {
			temperature = *gen.Temperature
		}
		if gen.MaxTokens != nil {
			maxTokens = *gen.MaxTokens
		}
	}
	return temperature, maxTokens
}

// openAIClient talks to any OpenAI-compatible /chat/completions endpoint.
type openAIClient struct {
	cfg    config.LLMConfig
	base   string
	client *http.Client
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
		Delta   struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAIClient) request(ctx context.Context, messages []Message, gen *GenerationParams, stream bool) (*http.Response, error) {
	temperature, maxTokens := resolve(c.cfg, gen)
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Stream:      stream,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	if stream {
		headers["Accept"] = "text/event-stream"
	}
	return post(ctx, c.client, c.base+"/chat/completions", headers, reqBody)
}

func (c *openAIClient) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	resp, err := c.request(ctx, messages, gen, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *openAIClient) StreamChat(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) (string, error) {
	resp, err := c.request(ctx, messages, gen, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return full.String(), fmt.Errorf("failed to read from stream: %w", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		full.WriteString(content)
		if onDelta != nil {
			if err := onDelta(content); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}

// ollamaClient talks to Ollama's /api/chat endpoint.
type ollamaClient struct {
	cfg    config.LLMConfig
	base   string
	client *http.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func (c *ollamaClient) request(ctx context.Context, messages []Message, gen *GenerationParams, stream bool) (*http.Response, error) {
	temperature, maxTokens := resolve(c.cfg, gen)
	reqBody := ollamaChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   stream,
		Options:  ollamaOptions{Temperature: temperature, NumPredict: maxTokens},
	}
	return post(ctx, c.client, c.base+"/api/chat", nil, reqBody)
}

func (c *ollamaClient) Chat(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	resp, err := c.request(ctx, messages, gen, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Message.Content, nil
}

func (c *ollamaClient) StreamChat(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) (string, error) {
	resp, err := c.request(ctx, messages, gen, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return full.String(), fmt.Errorf("failed to read from stream: %w", err)
		}
		if chunk.Error != "" {
			return full.String(), fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if content := chunk.Message.Content; content != "" {
			full.WriteString(content)
			if onDelta != nil {
				if err := onDelta(content); err != nil {
					return full.String(), err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	return full.String(), nil
}

func post(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] 调用聊天接口失败: %v", err)
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}
