package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentlee/agentlee/pkg/logger"
)

const defaultHTTPTimeout = 300 * time.Second

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// httpChatSession streams replies from a chat completions endpoint,
// carrying the running conversation history.
type httpChatSession struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client

	mu      sync.Mutex
	history []message
}

func newHTTPChatSession(settings Settings) (*httpChatSession, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(settings.APIBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("API base not configured")
	}
	apiKey := strings.TrimSpace(settings.APIKey)
	if apiKey == "" {
		return nil, ErrMissingCredential
	}

	client := &http.Client{Timeout: defaultHTTPTimeout}
	if proxy := strings.TrimSpace(settings.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	s := &httpChatSession{
		apiKey:     apiKey,
		apiBase:    apiBase,
		model:      strings.TrimSpace(settings.Model),
		httpClient: client,
	}
	if prompt := strings.TrimSpace(settings.SystemPrompt); prompt != "" {
		s.history = append(s.history, message{Role: "system", Content: prompt})
	}
	return s, nil
}

func (s *httpChatSession) SendMessageStream(ctx context.Context, userMessage string) (<-chan StreamChunk, error) {
	s.mu.Lock()
	s.history = append(s.history, message{Role: "user", Content: userMessage})
	messages := make([]message, len(s.history))
	copy(messages, s.history)
	s.mu.Unlock()

	requestBody := map[string]interface{}{
		"model":    s.model,
		"messages": messages,
		"stream":   true,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := s.apiBase + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s", ErrMissingCredential, extractAPIError(body))
		}
		return nil, fmt.Errorf("chat API request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}

	out := make(chan StreamChunk, 16)
	go s.consumeStream(resp.Body, out)
	return out, nil
}

// consumeStream reads server-sent events off the response body and
// forwards delta text in receipt order.
func (s *httpChatSession) consumeStream(body io.ReadCloser, out chan<- StreamChunk) {
	defer close(out)
	defer body.Close()

	var reply strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			logger.DebugCF("providers", "skipping unparseable stream event", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		for _, choice := range event.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			reply.WriteString(choice.Delta.Content)
			out <- StreamChunk{Text: choice.Delta.Content}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Err: fmt.Errorf("read chat stream: %w", err)}
		return
	}

	s.mu.Lock()
	s.history = append(s.history, message{Role: "assistant", Content: reply.String()})
	s.mu.Unlock()
}

// extractAPIError pulls the provider's error message out of a JSON
// error body, falling back to the raw body.
func extractAPIError(body []byte) string {
	var apiError struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Error.Message != "" {
		return apiError.Error.Message
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "unknown error"
	}
	if len(trimmed) > 300 {
		trimmed = trimmed[:300] + "..."
	}
	return trimmed
}
