// Package openai drives backends speaking the chat/completions protocol that return
// generated images as links inside the assistant's prose.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"nano-banana/internal/codec"
	"nano-banana/internal/genai"
	"nano-banana/internal/transport"
)

const chatCompletionsPath = "/v1/chat/completions"

type Options struct {
	Transport transport.Executor
	Logger    *slog.Logger
	// OnImageFetchFailure is called when the secondary image download fails.
	OnImageFetchFailure func(err error)
}

type Client struct {
	transport      transport.Executor
	logger         *slog.Logger
	onFetchFailure func(err error)
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		transport:      opts.Transport,
		logger:         logger,
		onFetchFailure: opts.OnImageFetchFailure,
	}
}

func (c *Client) Name() string {
	return "openai-chat"
}

// Generate sends only newParts: this protocol does not replay req.History.
func (c *Client) Generate(ctx context.Context, req genai.Request, progress genai.ProgressFunc) (genai.Result, error) {
	if c.transport == nil {
		return genai.Result{}, genai.NewError(genai.KindInvalidRequest, "openai: transport is nil")
	}

	progress.Report(10, "preparing request")
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: codec.ToOpenAIContent(req.NewParts),
		}},
	})
	if err != nil {
		return genai.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	progress.Report(20, "sending request")
	httpReq := transport.Request{
		Method: http.MethodPost,
		URL:    Endpoint(req.BaseURL),
		Headers: map[string]string{
			"content-type":  "application/json",
			"authorization": "Bearer " + req.APIKey,
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
		c.logger.Warn("chat completion failed", "model", req.Model, "status", resp.StatusCode, "kind", gerr.Kind)
		return genai.Result{}, gerr
	}

	text, err := ParseResponse(resp.Body)
	if err != nil {
		return genai.Result{}, err
	}

	result := genai.Result{Text: text}
	if ref, ok := codec.ExtractImageReference(text); ok {
		progress.Report(80, "downloading image")
		img, err := c.fetchImage(ctx, ref)
		if err != nil {
			c.logger.Warn("image download failed, returning text only", "url", redact(ref), "err", err)
			if c.onFetchFailure != nil {
				c.onFetchFailure(err)
			}
		} else {
			result.Images = []genai.Image{img}
		}
	}

	progress.Report(100, "done")
	return result, nil
}

func Endpoint(baseURL string) string {
	return transport.NormalizeBaseURL(baseURL) + chatCompletionsPath
}

// ParseResponse returns the first choice's message content flattened to a string.
func ParseResponse(body []byte) (string, error) {
	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", genai.NewError(genai.KindMalformedResponse, "chat completion response is not valid JSON").WithCause(err)
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message == nil {
		return "", genai.NewError(genai.KindEmptyMessage, "model returned no message")
	}

	text, ok := codec.MessageText(decoded.Choices[0].Message.Content)
	if !ok || strings.TrimSpace(text) == "" {
		reason := decoded.Choices[0].FinishReason
		msg := "model returned an empty message"
		if reason != "" {
			msg += " (finish_reason=" + reason + ")"
		}
		return "", genai.NewError(genai.KindEmptyMessage, msg)
	}
	return text, nil
}

func (c *Client) fetchImage(ctx context.Context, ref string) (genai.Image, error) {
	if strings.HasPrefix(ref, "data:") {
		mime, data, err := codec.ParseDataURL(ref)
		if err != nil {
			return genai.Image{}, err
		}
		return genai.Image{MimeType: mime, Data: data}, nil
	}

	resp, err := c.transport.Execute(ctx, transport.Request{Method: http.MethodGet, URL: ref})
	if err != nil {
		return genai.Image{}, err
	}
	if !resp.OK() {
		return genai.Image{}, genai.ClassifyStatus(resp.StatusCode, resp.Body)
	}
	if len(resp.Body) == 0 {
		return genai.Image{}, errors.New("image download returned an empty body")
	}

	mimeType := codec.BaseMimeType(resp.Header.Get("content-type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = codec.BaseMimeType(http.DetectContentType(resp.Body))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/png"
	}

	return genai.Image{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(resp.Body),
	}, nil
}

// redact drops query strings, which often carry signed tokens.
func redact(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return "data:..."
	}
	if idx := strings.IndexByte(ref, '?'); idx >= 0 {
		return ref[:idx]
	}
	return ref
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string                    `json:"role"`
	Content []codec.OpenAIContentPart `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
