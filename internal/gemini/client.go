package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"nano-banana/internal/codec"
	"nano-banana/internal/genai"
	"nano-banana/internal/transport"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"
)

const (
	temperature     = 0.8
	topK            = 32
	topP            = 1.0
	maxOutputTokens = 4096
)

type Options struct {
	Transport transport.Executor
	Logger    *slog.Logger
}

type Client struct {
	transport transport.Executor
	logger    *slog.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		transport: opts.Transport,
		logger:    logger,
	}
}

func (c *Client) Name() string {
	return "gemini"
}

func (c *Client) Generate(ctx context.Context, req genai.Request, progress genai.ProgressFunc) (genai.Result, error) {
	if c.transport == nil {
		return genai.Result{}, genai.NewError(genai.KindInvalidRequest, "gemini: transport is nil")
	}

	progress.Report(10, "preparing request")
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return genai.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	progress.Report(20, "sending request")
	httpReq := transport.Request{
		Method: http.MethodPost,
		URL:    Endpoint(req.BaseURL, req.Model, req.APIKey),
		Headers: map[string]string{
			"content-type":   "application/json",
			"x-goog-api-key": req.APIKey,
		},
		Body: body,
	}

	progress.Report(30, "waiting for model")
	resp, err := c.transport.Execute(ctx, httpReq)
	if err != nil {
		return genai.Result{}, err
	}

	progress.Report(60, "reading response")
	if !resp.OK() {
		gerr := genai.ClassifyStatus(resp.StatusCode, resp.Body)
		c.logger.Warn("gemini call failed", "model", req.Model, "status", resp.StatusCode, "kind", gerr.Kind)
		return genai.Result{}, gerr
	}

	progress.Report(80, "collecting images")
	result, err := ParseResponse(resp.Body)
	if err != nil {
		return genai.Result{}, err
	}

	progress.Report(100, "done")
	return result, nil
}

// buildRequest replays history verbatim and appends newParts as a user turn.
func buildRequest(req genai.Request) generateContentRequest {
	contents := codec.ToGeminiContents(req.History)
	contents = append(contents, codec.GeminiContent{
		Role:  string(genai.RoleUser),
		Parts: codec.ToGeminiParts(req.NewParts),
	})

	cfg := generationConfig{
		Temperature:     temperature,
		TopK:            topK,
		TopP:            topP,
		MaxOutputTokens: maxOutputTokens,
	}
	if size := strings.TrimSpace(req.ImageSize); size != "" && IsImageModel(req.Model) {
		cfg.ImageConfig = &imageConfig{ImageSize: size}
	}

	return generateContentRequest{
		Contents:         contents,
		GenerationConfig: cfg,
	}
}

// IsImageModel reports whether the model name signals image output support.
func IsImageModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "image")
}

func Endpoint(baseURL, model, apiKey string) string {
	base := transport.NormalizeBaseURL(baseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		base, apiVersion, url.PathEscape(model), url.QueryEscape(apiKey))
}

// ParseResponse picks the first candidate with non-empty parts; upstream may return an
// empty first candidate after safety filtering while a later one is usable.
func ParseResponse(body []byte) (genai.Result, error) {
	var decoded generateContentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return genai.Result{}, genai.NewError(genai.KindMalformedResponse, "gemini response is not valid JSON").WithCause(err)
	}

	var chosen *candidate
	for i := range decoded.Candidates {
		if len(decoded.Candidates[i].Content.Parts) > 0 {
			chosen = &decoded.Candidates[i]
			break
		}
	}
	if chosen == nil {
		return genai.Result{}, genai.NewError(genai.KindEmptyContent, "model returned no content"+diagnostics(decoded))
	}

	var text strings.Builder
	var images []genai.Image
	for _, p := range chosen.Content.Parts {
		if img, ok := p.Inline(); ok {
			images = append(images, img)
			continue
		}
		if p.Text != "" && !p.Thought {
			text.WriteString(p.Text)
		}
	}

	result := genai.Result{Text: text.String(), Images: images}
	if result.Empty() {
		return genai.Result{}, genai.NewError(genai.KindEmptyContent, "model returned neither text nor images"+diagnostics(decoded))
	}
	return result, nil
}

func diagnostics(resp generateContentResponse) string {
	var fields []string
	if pf := resp.PromptFeedback; pf != nil {
		if pf.BlockReason != "" {
			fields = append(fields, "blockReason="+pf.BlockReason)
		}
		if pf.BlockReasonMessage != "" {
			fields = append(fields, "blockReasonMessage="+pf.BlockReasonMessage)
		}
		fields = append(fields, flaggedCategories(pf.SafetyRatings)...)
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason != "" {
			fields = append(fields, "finishReason="+cand.FinishReason)
		}
		if cand.FinishMessage != "" {
			fields = append(fields, "finishMessage="+cand.FinishMessage)
		}
		fields = append(fields, flaggedCategories(cand.SafetyRatings)...)
	}

	if len(fields) == 0 {
		return ""
	}
	return " (" + strings.Join(dedupe(fields), ", ") + ")"
}

func flaggedCategories(ratings []safetyRating) []string {
	var out []string
	for _, r := range ratings {
		if r.Blocked || r.Probability == "HIGH" || r.Probability == "MEDIUM" {
			out = append(out, "safetyCategory="+r.Category)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
