package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Completer produces an assistant reply for one user message. The chat hub
// never touches this; AI requests share no state and run concurrently.
type Completer interface {
	Complete(ctx context.Context, message string) (string, error)
}

type aiCategory int

const (
	aiUnknown aiCategory = iota
	aiUnauthenticated
	aiRateLimited
	aiContentBlocked
	aiUnavailable
)

// AIError carries the provider failure category plus a user-displayable
// message. The HTTP handler maps categories to status codes.
type AIError struct {
	Category aiCategory
	Message  string
	Err      error
}

func (e *AIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AIError) Unwrap() error { return e.Err }

func (e *AIError) HTTPStatus() int {
	switch e.Category {
	case aiUnauthenticated:
		return http.StatusUnauthorized
	case aiRateLimited:
		return http.StatusTooManyRequests
	case aiContentBlocked:
		return http.StatusBadRequest
	case aiUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newAIError(cat aiCategory, err error) *AIError {
	msg := "AI 서비스 처리 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	switch cat {
	case aiUnauthenticated:
		msg = "AI 서비스 인증에 실패했습니다. API 키를 확인해주세요."
	case aiRateLimited:
		msg = "AI 서비스 사용량 한도를 초과했습니다. 잠시 후 다시 시도해주세요."
	case aiContentBlocked:
		msg = "부적절한 내용이 감지되었습니다. 다른 메시지를 시도해주세요."
	case aiUnavailable:
		msg = "AI 서비스가 현재 사용할 수 없습니다. 잠시 후 다시 시도해주세요."
	}
	return &AIError{Category: cat, Message: msg, Err: err}
}

// personaPrompt wraps every user message in the 잼민이 assistant persona.
const personaPrompt = `당신은 '잼민이'라는 친근하고 재미있는 AI 어시스턴트입니다.
사용자와 자연스럽게 대화하고, 유용하고 재미있는 답변을 제공해주세요.
답변은 한국어로 하고, 친근하고 재미있는 톤을 유지해주세요.

사용자 메시지: %s`

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-1.5-pro"
	aiRequestTimeout     = 30 * time.Second
)

// GeminiClient talks to the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	hc      *http.Client
}

type geminiOption func(*GeminiClient)

// withGeminiBaseURL points the client at an alternative endpoint (tests).
func withGeminiBaseURL(u string) geminiOption {
	return func(c *GeminiClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func NewGeminiClient(apiKey string, opts ...geminiOption) *GeminiClient {
	c := &GeminiClient{
		apiKey:  apiKey,
		model:   defaultGeminiModel,
		baseURL: defaultGeminiBaseURL,
		hc:      &http.Client{Timeout: aiRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *GeminiClient) Complete(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: fmt.Sprintf(personaPrompt, message)}}}},
	})
	if err != nil {
		return "", newAIError(aiUnknown, err)
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", newAIError(aiUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", newAIError(aiUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", newAIError(aiUnavailable, err)
	}

	var parsed geminiResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		return "", newAIError(classifyGeminiFailure(resp.StatusCode, parsed.Error.Message),
			fmt.Errorf("gemini status %d: %s", resp.StatusCode, parsed.Error.Message))
	}
	if parsed.PromptFeedback.BlockReason != "" {
		return "", newAIError(aiContentBlocked,
			fmt.Errorf("prompt blocked: %s", parsed.PromptFeedback.BlockReason))
	}
	if len(parsed.Candidates) == 0 {
		return "", newAIError(aiUnknown, fmt.Errorf("empty candidate list"))
	}
	if reason := parsed.Candidates[0].FinishReason; reason == "SAFETY" {
		return "", newAIError(aiContentBlocked, fmt.Errorf("candidate blocked: %s", reason))
	}
	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", newAIError(aiUnknown, fmt.Errorf("candidate without text parts"))
	}
	return sb.String(), nil
}

func classifyGeminiFailure(status int, providerMsg string) aiCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return aiUnauthenticated
	case status == http.StatusTooManyRequests:
		return aiRateLimited
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(providerMsg), "api key"):
		// Gemini reports a bad key as 400 INVALID_ARGUMENT.
		return aiUnauthenticated
	case status == http.StatusBadRequest:
		return aiContentBlocked
	case status >= 500:
		return aiUnavailable
	default:
		return aiUnknown
	}
}
