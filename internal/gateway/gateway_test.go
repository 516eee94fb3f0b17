package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/llms"

	"podforge/internal/config"
)

type fakeLLM struct {
	calls    int
	lastOpts llms.CallOptions
	reply    string
}

func (f *fakeLLM) GenerateContent(_ context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	for _, opt := range options {
		opt(&f.lastOpts)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

type fakeSearch struct {
	calls      int
	lastPrompt string
	reply      string
}

func (f *fakeSearch) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.calls++
	for _, part := range parts {
		if text, ok := part.(genai.Text); ok {
			f.lastPrompt += string(text)
		}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(f.reply)}},
		}},
	}, nil
}

func TestGenerateText_RejectsIncompatibleOptions(t *testing.T) {
	c := &Client{}
	_, err := c.GenerateText(context.Background(), "prompt", Options{GroundedSearch: true, ForceJSON: true})
	if !errors.Is(err, ErrIncompatibleOptions) {
		t.Fatalf("expected ErrIncompatibleOptions before any network call, got %v", err)
	}
}

func TestGenerateText_GroundedRoutesThroughSearchModel(t *testing.T) {
	llm := &fakeLLM{reply: "ungrounded"}
	search := &fakeSearch{reply: "grounded answer"}
	c := &Client{llm: llm, grounded: search}

	got, err := c.GenerateText(context.Background(), "what happened today", Options{GroundedSearch: true})
	if err != nil {
		t.Fatalf("grounded call: %v", err)
	}
	if got != "grounded answer" {
		t.Fatalf("unexpected reply: %q", got)
	}
	if search.calls != 1 {
		t.Fatalf("search model not used: calls=%d", search.calls)
	}
	if search.lastPrompt != "what happened today" {
		t.Fatalf("prompt not forwarded: %q", search.lastPrompt)
	}
	if llm.calls != 0 {
		t.Fatalf("grounded call must not touch the plain model, calls=%d", llm.calls)
	}
}

func TestGenerateText_GroundedWithoutSearchModel(t *testing.T) {
	c := &Client{llm: &fakeLLM{}}
	if _, err := c.GenerateText(context.Background(), "prompt", Options{GroundedSearch: true}); err == nil {
		t.Fatal("expected error when search model is not configured")
	}
}

func TestGenerateText_ForceJSONRoutesThroughLLM(t *testing.T) {
	llm := &fakeLLM{reply: `{"ok":true}`}
	search := &fakeSearch{reply: "unexpected"}
	c := &Client{llm: llm, grounded: search}

	got, err := c.GenerateText(context.Background(), "prompt", Options{ForceJSON: true})
	if err != nil {
		t.Fatalf("forced-json call: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("unexpected reply: %q", got)
	}
	if llm.calls != 1 || search.calls != 0 {
		t.Fatalf("routing mismatch: llm=%d search=%d", llm.calls, search.calls)
	}
	if !llm.lastOpts.JSONMode {
		t.Fatal("JSON mode not applied to the call")
	}
}

func TestTTSClient_Synthesize(t *testing.T) {
	audio := []byte("pcm-bytes")
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/text:synthesize") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer srv.Close()

	client := NewTTSClient(config.Config{
		TTSEndpoint:  srv.URL,
		TTSVoiceLang: "en-US",
		GenAIAPIKey:  "test-key",
	})

	got, err := client.Synthesize(context.Background(), SpeechRequest{
		Text:         "hello",
		Voice:        "en-US-Neural2-F",
		SpeakingRate: 1.15,
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("decoded audio mismatch: %q", got)
	}

	audioCfg, _ := gotBody["audioConfig"].(map[string]any)
	if audioCfg["audioEncoding"] != "LINEAR16" {
		t.Fatalf("expected LINEAR16 encoding, got %v", audioCfg["audioEncoding"])
	}
	if audioCfg["speakingRate"] != 1.15 {
		t.Fatalf("speaking rate not forwarded: %v", audioCfg["speakingRate"])
	}
	voice, _ := gotBody["voice"].(map[string]any)
	if voice["name"] != "en-US-Neural2-F" || voice["languageCode"] != "en-US" {
		t.Fatalf("voice not forwarded: %v", voice)
	}
}

func TestTTSClient_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewTTSClient(config.Config{TTSEndpoint: srv.URL})
	_, err := client.Synthesize(context.Background(), SpeechRequest{Text: "hello"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestImageClient_GenerateImage(t *testing.T) {
	img := []byte("png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/test-model:predict") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]string{{
				"bytesBase64Encoded": base64.StdEncoding.EncodeToString(img),
				"mimeType":           "image/png",
			}},
		})
	}))
	defer srv.Close()

	client := NewImageClient(config.Config{
		ImageEndpoint: srv.URL,
		ImageModel:    "test-model",
		GenAIAPIKey:   "test-key",
	})

	got, err := client.GenerateImage(context.Background(), "a lighthouse at dusk")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(got) != string(img) {
		t.Fatalf("decoded image mismatch: %q", got)
	}
}

func TestImageClient_NoPredictions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"predictions": []any{}})
	}))
	defer srv.Close()

	client := NewImageClient(config.Config{ImageEndpoint: srv.URL, ImageModel: "m"})
	if _, err := client.GenerateImage(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error for empty predictions")
	}
}
