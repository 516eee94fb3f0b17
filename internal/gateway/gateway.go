// Package gateway wraps the external generative-language, text-to-speech,
// and image models behind stateless clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"google.golang.org/api/option"

	"podforge/internal/config"
)

// ErrIncompatibleOptions is returned when a call requests grounded search
// together with forced-JSON output. The upstream model rejects structured
// output combined with tool use, so the gateway refuses the combination
// before any network call.
var ErrIncompatibleOptions = errors.New("grounded search cannot be combined with forced JSON output")

// Options select the augmentation mode for a text call.
type Options struct {
	GroundedSearch bool
	ForceJSON      bool
}

// TextGenerator is the text-call surface consumed by the pipeline stages.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)
}

// VisionGenerator is the multimodal surface: prompt plus an optional image.
type VisionGenerator interface {
	GenerateVision(ctx context.Context, prompt string, image []byte, forceJSON bool) (string, error)
}

// Embedder produces a semantic embedding for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// searchModel is the grounded-generation surface. Search grounding is only
// reachable through the vendor SDK's tool config, so grounded calls bypass
// the langchaingo layer entirely.
type searchModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client is the gateway to the generative-language model.
type Client struct {
	llm      llms.Model
	grounded searchModel
	embedder embeddingClient
	sdk      *genai.Client
	model    string
}

// New builds a gateway client from configuration. Plain and forced-JSON
// calls go through langchaingo; grounded calls go through a dedicated SDK
// model carrying the search-retrieval tool.
func New(ctx context.Context, cfg config.Config) (*Client, error) {
	if cfg.GenAIAPIKey == "" {
		return nil, errors.New("GENAI_API_KEY is required")
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(cfg.GenAIAPIKey),
		googleai.WithDefaultModel(cfg.GenAIModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	sdk, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GenAIAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai sdk client: %w", err)
	}
	groundedModel := sdk.GenerativeModel(cfg.GenAIModel)
	groundedModel.Tools = []*genai.Tool{
		{GoogleSearchRetrieval: &genai.GoogleSearchRetrieval{}},
	}

	return &Client{
		llm:      llm,
		grounded: groundedModel,
		embedder: llm,
		sdk:      sdk,
		model:    cfg.GenAIModel,
	}, nil
}

// Close releases the underlying SDK connection.
func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

// GenerateText runs one text call against the model. GroundedSearch permits
// the model to consult an external search tool; ForceJSON constrains output
// to a JSON document. The two are mutually exclusive.
func (c *Client) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	if opts.GroundedSearch && opts.ForceJSON {
		return "", ErrIncompatibleOptions
	}

	if opts.GroundedSearch {
		return c.generateGrounded(ctx, prompt)
	}

	callOpts := make([]llms.CallOption, 0, 1)
	if opts.ForceJSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate text: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generate text: no response choices")
	}
	return resp.Choices[0].Content, nil
}

func (c *Client) generateGrounded(ctx context.Context, prompt string) (string, error) {
	if c.grounded == nil {
		return "", errors.New("generate grounded text: search model not configured")
	}
	resp, err := c.grounded.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate grounded text: %w", err)
	}
	text, err := joinTextParts(resp)
	if err != nil {
		return "", fmt.Errorf("generate grounded text: %w", err)
	}
	return text, nil
}

// joinTextParts flattens the candidate content onto one string, skipping
// non-text parts such as grounding attributions.
func joinTextParts(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("no text parts in response")
	}
	return sb.String(), nil
}

// GenerateVision runs a multimodal call: prompt plus an optional image.
func (c *Client) GenerateVision(ctx context.Context, prompt string, image []byte, forceJSON bool) (string, error) {
	parts := []llms.ContentPart{llms.TextPart(prompt)}
	if len(image) > 0 {
		parts = append(parts, llms.BinaryPart("image/jpeg", image))
	}

	callOpts := make([]llms.CallOption, 0, 1)
	if forceJSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	messages := []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: parts,
	}}
	resp, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("generate vision: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generate vision: no response choices")
	}
	return resp.Choices[0].Content, nil
}

// Embed generates the semantic embedding for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("embed: no vectors returned")
	}
	return vectors[0], nil
}
