package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"podforge/internal/config"
)

// SpeechRequest is one synthesis call for a single text chunk.
type SpeechRequest struct {
	Text         string
	Voice        string
	SpeakingRate float64
}

// SpeechSynthesizer turns one text chunk into raw audio bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// TTSClient calls the text-to-speech REST endpoint. There is no client
// library for this surface, so it is a thin typed HTTP wrapper.
type TTSClient struct {
	endpoint   string
	apiKey     string
	voiceLang  string
	httpClient *http.Client
}

// NewTTSClient builds a synthesis client from configuration.
func NewTTSClient(cfg config.Config) *TTSClient {
	timeout := cfg.GatewayTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &TTSClient{
		endpoint:  cfg.TTSEndpoint,
		apiKey:    cfg.GenAIAPIKey,
		voiceLang: cfg.TTSVoiceLang,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ttsRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
	} `json:"audioConfig"`
}

type ttsResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize sends one chunk and returns the decoded audio payload.
func (c *TTSClient) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New("synthesize: empty text")
	}

	var body ttsRequest
	body.Input.Text = req.Text
	body.Voice.LanguageCode = c.voiceLang
	body.Voice.Name = req.Voice
	body.AudioConfig.AudioEncoding = "LINEAR16"
	body.AudioConfig.SpeakingRate = req.SpeakingRate
	if body.AudioConfig.SpeakingRate == 0 {
		body.AudioConfig.SpeakingRate = 1.0
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text:synthesize?key=%s", c.endpoint, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call tts: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("tts: status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var decoded ttsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	if decoded.AudioContent == "" {
		return nil, errors.New("tts: empty audio content")
	}

	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return audio, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
