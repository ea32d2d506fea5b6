package modgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/webmodder/internal/infrastructure/resilience"
	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// contentGenerator is the slice of the genai client the generator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini generator
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Gemini generates modifications with Google's Gemini models
type Gemini struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewGemini creates a Gemini-backed generator. It returns ErrDisabled when no
// API key is configured.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models contentGenerator, cfg GeminiConfig, logger *zap.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		models:  models,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		breaker: resilience.New("gemini", resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		logger: logger,
	}
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	parts := []*genai.Part{{Text: buildPrompt(req)}}
	if len(req.Image) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = mimetype.Detect(req.Image).String()
		}
		if !strings.HasPrefix(mime, "image/") {
			return nil, fmt.Errorf("%w: detected %s", ErrBadImage, mime)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: req.Image}})
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := resilience.Call(g.breaker, func() (*genai.GenerateContentResponse, error) {
		return g.models.GenerateContent(ctx, g.model,
			[]*genai.Content{{Role: "user", Parts: parts}},
			&genai.GenerateContentConfig{
				SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction(req.Mode)}}},
				ResponseMIMEType:  "application/json",
				ResponseSchema:    resultSchema,
			})
	})
	if err != nil {
		g.logger.Error("gemini request failed",
			zap.String("model", g.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	result, err := parseResult(resp.Text())
	if err != nil {
		return nil, err
	}
	g.logger.Info("modification generated",
		zap.String("model", g.model),
		zap.String("mode", string(req.Mode)),
		zap.String("kind", string(req.Kind)),
		zap.Int("files", len(result.Files)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

var resultSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"explanation": {Type: genai.TypeString},
		"files": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":     {Type: genai.TypeString},
					"language": {Type: genai.TypeString, Enum: []string{"javascript", "json", "css", "html", "markdown"}},
					"content":  {Type: genai.TypeString},
				},
				Required: []string{"name", "language", "content"},
			},
		},
	},
	Required: []string{"explanation", "files"},
}

// parseResult decodes the model's JSON answer, tolerating a markdown fence.
func parseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoResponse
	}

	var res Result
	if err := sonic.UnmarshalString(text, &res); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	files := res.Files[:0]
	for _, f := range res.Files {
		if strings.TrimSpace(f.Name) != "" {
			files = append(files, f)
		}
	}
	res.Files = files
	return &res, nil
}
