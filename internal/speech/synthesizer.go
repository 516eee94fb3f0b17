// Package speech renders long narration into a single audio object by
// synthesizing bounded-size chunks sequentially and reassembling them.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"podforge/internal/gateway"
	"podforge/internal/storage"
	"podforge/internal/telemetry"
)

// Fixed voice-name table keyed by gender then style.
var voiceTable = map[string]map[string]string{
	"female": {
		"warm":      "en-US-Neural2-F",
		"energetic": "en-US-Neural2-G",
		"calm":      "en-US-Neural2-H",
	},
	"male": {
		"warm":      "en-US-Neural2-A",
		"energetic": "en-US-Neural2-D",
		"calm":      "en-US-Neural2-J",
	},
}

const defaultVoice = "en-US-Neural2-F"

// VoiceFor resolves a gender and style onto an upstream voice name.
func VoiceFor(gender, style string) string {
	styles, ok := voiceTable[gender]
	if !ok {
		return defaultVoice
	}
	if voice, ok := styles[style]; ok {
		return voice
	}
	return styles["warm"]
}

// PaceFor resolves a pace label onto a speaking-rate multiplier.
func PaceFor(pace string) float64 {
	switch pace {
	case "slow":
		return 0.85
	case "fast":
		return 1.15
	default:
		return 1.0
	}
}

// SplitChunks slices text into fixed-size windows. Slicing is by byte offset
// with no sentence or word awareness; every window except the last is exactly
// size bytes.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		size = 3000
	}
	if text == "" {
		return nil
	}
	chunks := make([]string, 0, len(text)/size+1)
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// RenderRequest is one full narration render.
type RenderRequest struct {
	UserID      string
	PodID       string
	Text        string
	VoiceGender string
	VoiceStyle  string
	Pace        string
}

// Result is the uploaded audio location and its coarse duration estimate.
type Result struct {
	URL             string
	DurationSeconds float64
}

// Synthesizer renders narration through the speech gateway chunk by chunk.
type Synthesizer struct {
	tts            gateway.SpeechSynthesizer
	uploader       storage.Uploader
	chunkSize      int
	maxScriptBytes int
	bytesPerSecond int
	logger         *slog.Logger
}

// NewSynthesizer builds a chunked synthesizer. maxScriptBytes bounds the
// narration length accepted for one render; longer scripts are truncated.
func NewSynthesizer(tts gateway.SpeechSynthesizer, uploader storage.Uploader, chunkSize, maxScriptBytes, bytesPerSecond int, logger *slog.Logger) *Synthesizer {
	if chunkSize <= 0 {
		chunkSize = 3000
	}
	if maxScriptBytes <= 0 {
		maxScriptBytes = 60000
	}
	if bytesPerSecond <= 0 {
		bytesPerSecond = 48000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		tts:            tts,
		uploader:       uploader,
		chunkSize:      chunkSize,
		maxScriptBytes: maxScriptBytes,
		bytesPerSecond: bytesPerSecond,
		logger:         logger,
	}
}

// Render synthesizes every chunk sequentially, concatenates the decoded
// payloads in order, uploads the result, and estimates duration from total
// byte length. Chunks are not parallelized: the upstream API enforces
// per-request size and rate limits.
func (s *Synthesizer) Render(ctx context.Context, req RenderRequest) (Result, error) {
	if req.Text == "" {
		return Result{}, fmt.Errorf("render audio for pod %s: empty narration", req.PodID)
	}

	text := req.Text
	if len(text) > s.maxScriptBytes {
		text = truncateToRune(text, s.maxScriptBytes)
		s.logger.Warn("narration exceeds the render cap, truncating",
			"pod_id", req.PodID, "bytes", len(req.Text), "cap", s.maxScriptBytes)
	}

	voice := VoiceFor(req.VoiceGender, req.VoiceStyle)
	rate := PaceFor(req.Pace)
	chunks := SplitChunks(text, s.chunkSize)
	s.logger.Info("rendering narration", "pod_id", req.PodID, "chunks", len(chunks), "voice", voice, "rate", rate)

	var buf bytes.Buffer
	for i, chunk := range chunks {
		audio, err := s.tts.Synthesize(ctx, gateway.SpeechRequest{
			Text:         chunk,
			Voice:        voice,
			SpeakingRate: rate,
		})
		if err != nil {
			return Result{}, fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		buf.Write(audio)
		telemetry.ChunksSynthesized.Inc()
	}

	key := fmt.Sprintf("pods/%s/%s/audio.wav", req.UserID, req.PodID)
	url, err := s.uploader.Upload(ctx, key, buf.Bytes(), "audio/wav")
	if err != nil {
		return Result{}, fmt.Errorf("upload audio: %w", err)
	}

	// Coarse estimate: total bytes over the empirical PCM rate, not decoded
	// from the audio container.
	duration := float64(buf.Len()) / float64(s.bytesPerSecond)

	return Result{URL: url, DurationSeconds: duration}, nil
}

// truncateToRune cuts text to at most max bytes, backing off so the cut
// never lands inside a multi-byte rune.
func truncateToRune(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
