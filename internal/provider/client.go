// Package provider is the HTTP client for the external multi-modal AI API.
// It only shapes requests and parses responses; quota gating and persistence
// happen in the service layer.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loveaihub/loveaihub/internal/config"
)

// Error is a non-2xx answer from the provider, surfaced to callers with the
// upstream status and message. Provider calls are never retried automatically.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error: status=%d message=%s", e.Status, e.Message)
}

// Unauthorized reports whether the provider rejected our credentials, which
// callers surface distinctly so the client can trigger re-authentication.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type Client struct {
	apiKey       string
	baseURL      string
	enhanceModel string
	httpClient   *http.Client
	log          *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		apiKey:       cfg.ProviderAPIKey,
		baseURL:      strings.TrimRight(cfg.ProviderBaseURL, "/"),
		enhanceModel: cfg.EnhanceModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type ImageRequest struct {
	Model   string
	Prompt  string
	N       int
	Size    string
	Quality string
	Style   string
}

// Asset is one generated artifact; the provider returns either a hosted URL
// or inline base64 data depending on the model.
type Asset struct {
	URL string `json:"url"`
	B64 string `json:"b64_json"`
}

func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) ([]Asset, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"n":      n,
	}
	if req.Size != "" {
		payload["size"] = req.Size
	}
	if req.Quality != "" {
		payload["quality"] = req.Quality
	}
	if req.Style != "" {
		payload["style"] = req.Style
	}

	var resp struct {
		Data []Asset `json:"data"`
	}
	if err := c.postJSON(ctx, "/images/generations", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Status: http.StatusBadGateway, Message: "provider returned no images"}
	}
	return resp.Data, nil
}

type ImageEditRequest struct {
	Model    string
	Prompt   string
	ImageURL string
	Size     string
}

func (c *Client) EditImage(ctx context.Context, req ImageEditRequest) ([]Asset, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"image":  req.ImageURL,
	}
	if req.Size != "" {
		payload["size"] = req.Size
	}

	var resp struct {
		Data []Asset `json:"data"`
	}
	if err := c.postJSON(ctx, "/images/edits", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Status: http.StatusBadGateway, Message: "provider returned no edited images"}
	}
	return resp.Data, nil
}

type VideoRequest struct {
	Model    string
	Prompt   string
	Duration int
}

func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (string, error) {
	payload := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
	}
	if req.Duration > 0 {
		payload["duration"] = req.Duration
	}

	var resp struct {
		URL  string  `json:"url"`
		Data []Asset `json:"data"`
	}
	if err := c.postJSON(ctx, "/video/generations", payload, &resp); err != nil {
		return "", err
	}
	if resp.URL != "" {
		return resp.URL, nil
	}
	if len(resp.Data) > 0 && resp.Data[0].URL != "" {
		return resp.Data[0].URL, nil
	}
	return "", &Error{Status: http.StatusBadGateway, Message: "provider returned no video url"}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model    string
	Messages []ChatMessage
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	payload := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}

	var resp struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Error{Status: http.StatusBadGateway, Message: "provider returned no completion"}
	}
	return resp.Choices[0].Message.Content, nil
}

type SpeechRequest struct {
	Model string
	Input string
	Voice string
}

// Audio is a binary speech payload; the caller uploads it to object storage
// and keeps only the public URL.
type Audio struct {
	Bytes []byte
	Mime  string
}

func (c *Client) Speech(ctx context.Context, req SpeechRequest) (*Audio, error) {
	payload := map[string]any{
		"model": req.Model,
		"input": req.Input,
	}
	if req.Voice != "" {
		payload["voice"] = req.Voice
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal speech payload: %w", err)
	}
	httpReq, err := c.newRequest(ctx, "/audio/speech", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post audio/speech: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, c.asError(resp.StatusCode, "/audio/speech", raw)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	return &Audio{Bytes: raw, Mime: mime}, nil
}

type TranscriptionRequest struct {
	Model    string
	AudioURL string
	Language string
}

func (c *Client) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	payload := map[string]any{
		"model": req.Model,
		"file":  req.AudioURL,
	}
	if req.Language != "" {
		payload["language"] = req.Language
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := c.postJSON(ctx, "/audio/transcriptions", payload, &resp); err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", &Error{Status: http.StatusBadGateway, Message: "provider returned no transcript"}
	}
	return resp.Text, nil
}

// EnhancePrompt asks the chat endpoint to rewrite a generation prompt with
// more visual detail. Best effort; callers fall back to the original prompt.
func (c *Client) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	enhanced, err := c.Chat(ctx, ChatRequest{
		Model: c.enhanceModel,
		Messages: []ChatMessage{
			{Role: "system", Content: "Rewrite the user's prompt for an image or video generation model. Add concrete visual detail. Reply with the rewritten prompt only."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(enhanced), nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := c.newRequest(ctx, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return c.asError(resp.StatusCode, path, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, truncateBody(raw))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) asError(status int, path string, body []byte) error {
	message := extractMessage(body)
	if c.log != nil {
		c.log.Error("provider call failed", "status", status, "path", path, "body", truncateBody(body))
	}
	return &Error{Status: status, Message: message}
}

// extractMessage pulls a human-readable message out of the provider's error
// envelope, falling back to the raw body.
func extractMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return truncateBody(body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
