package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/derekphilipau/deep-label/internal/logger"
)

// Caller is the call surface the rest of the engine depends on. Tests swap
// in scripted fakes; production uses Client.
type Caller interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is one multimodal inference call: prompt text, an optional inline
// JPEG image, and the JSON response schema the model must fill.
type Request struct {
	Prompt          string
	ImageJPEG       []byte
	Schema          map[string]any
	MaxOutputTokens int
}

// Usage is the advisory token accounting of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the structured text the model produced plus its usage.
type Response struct {
	Text  string
	Usage Usage
}

// Config contains configuration for the inference client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client is an HTTP client for the multimodal inference service.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a new inference client.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// Wire shapes of the generateContent API.
type apiPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *apiInlineData `json:"inline_data,omitempty"`
}

type apiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type apiContent struct {
	Parts []apiPart `json:"parts"`
}

type apiGenerationConfig struct {
	ResponseMimeType string         `json:"response_mime_type"`
	ResponseSchema   map[string]any `json:"response_schema,omitempty"`
	MaxOutputTokens  int            `json:"max_output_tokens,omitempty"`
}

type apiRequest struct {
	Contents         []apiContent        `json:"contents"`
	GenerationConfig apiGenerationConfig `json:"generation_config"`
}

type apiResponse struct {
	Candidates []struct {
		Content apiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate performs a single inference call. Failures come back classified:
// 429 as rate-limited, 5xx and network trouble as transient, everything
// else as fatal.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	parts := []apiPart{{Text: req.Prompt}}
	if len(req.ImageJPEG) > 0 {
		parts = append(parts, apiPart{InlineData: &apiInlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(req.ImageJPEG),
		}})
	}

	body := apiRequest{
		Contents: []apiContent{{Parts: parts}},
		GenerationConfig: apiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
			MaxOutputTokens:  req.MaxOutputTokens,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fatalErr("failed to marshal request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.endpoint, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fatalErr("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	c.logger.Debug("Sending inference request", "model", c.model, "prompt_bytes", len(req.Prompt), "image_bytes", len(req.ImageJPEG))
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transientErr("failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr("failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		cerr := classifyStatus(resp.StatusCode, string(respBody))
		c.logger.Warn(
			"Inference service returned error",
			"status", resp.StatusCode,
			"class", cerr.Class.String(),
		)
		return nil, cerr
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fatalErr("failed to parse response", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fatalErr("response contains no candidates", nil)
	}

	text := ""
	for _, p := range parsed.Candidates[0].Content.Parts {
		text += p.Text
	}

	c.logger.Debug(
		"Inference completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", parsed.UsageMetadata.PromptTokenCount,
		"output_tokens", parsed.UsageMetadata.CandidatesTokenCount,
	)

	return &Response{
		Text: text,
		Usage: Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}
