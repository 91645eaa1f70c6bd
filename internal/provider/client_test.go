package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loveaihub/loveaihub/internal/config"
)

func testClient(url string) *Client {
	return NewClient(config.Config{
		ProviderBaseURL: url,
		ProviderAPIKey:  "test-key",
		ProviderTimeout: 5 * time.Second,
		EnhanceModel:    "gpt-4o-mini",
	}, slog.Default())
}

func TestGenerateImage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.test/out.png"}},
		})
	}))
	defer srv.Close()

	assets, err := testClient(srv.URL).GenerateImage(context.Background(), ImageRequest{
		Model:  "flux-pro",
		Prompt: "a fox",
		Size:   "1024x1024",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/images/generations" {
		t.Errorf("wrong path: %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("wrong authorization header: %s", gotAuth)
	}
	if gotBody["n"] != float64(1) {
		t.Errorf("n must default to 1, got %v", gotBody["n"])
	}
	if gotBody["size"] != "1024x1024" {
		t.Errorf("size not forwarded: %v", gotBody["size"])
	}
	if len(assets) != 1 || assets[0].URL != "https://img.test/out.png" {
		t.Errorf("unexpected assets: %+v", assets)
	}
}

func TestGenerateImageEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GenerateImage(context.Background(), ImageRequest{Model: "m", Prompt: "p"})
	var provErr *Error
	if !errors.As(err, &provErr) || provErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 provider error, got %v", err)
	}
}

func TestProviderErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{Model: "m", Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if provErr.Status != http.StatusTooManyRequests || provErr.Message != "rate limited" {
		t.Errorf("unexpected error detail: %+v", provErr)
	}
}

func TestProviderUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GenerateVideo(context.Background(), VideoRequest{Model: "m", Prompt: "p"})
	var provErr *Error
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !provErr.Unauthorized() {
		t.Errorf("401 must report Unauthorized, got %+v", provErr)
	}
	if provErr.Message != "invalid api key" {
		t.Errorf("flat message envelope not parsed: %q", provErr.Message)
	}
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "pong"}},
			},
		})
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []ChatMessage{{Role: "user", Content: "ping"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "pong" {
		t.Errorf("unexpected completion: %q", text)
	}
}

func TestGenerateVideoDataFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://video.test/out.mp4"}},
		})
	}))
	defer srv.Close()

	url, err := testClient(srv.URL).GenerateVideo(context.Background(), VideoRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://video.test/out.mp4" {
		t.Errorf("unexpected url: %q", url)
	}
}

func TestSpeechReturnsBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("binary-mp3"))
	}))
	defer srv.Close()

	audio, err := testClient(srv.URL).Speech(context.Background(), SpeechRequest{Model: "tts-1", Input: "hello", Voice: "alloy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio.Bytes) != "binary-mp3" || audio.Mime != "audio/mpeg" {
		t.Errorf("unexpected audio payload: %+v", audio)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("wrong path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).Transcribe(context.Background(), TranscriptionRequest{Model: "whisper-1", AudioURL: "https://a.test/in.mp3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("unexpected transcript: %q", text)
	}
}

func TestEnhancePromptTrims(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-4o-mini" {
			t.Errorf("enhancement must use the configured model, got %q", body.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  a detailed fox portrait \n"}},
			},
		})
	}))
	defer srv.Close()

	enhanced, err := testClient(srv.URL).EnhancePrompt(context.Background(), "a fox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enhanced != "a detailed fox portrait" {
		t.Errorf("expected trimmed prompt, got %q", enhanced)
	}
}
