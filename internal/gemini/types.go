package gemini

import "nano-banana/internal/codec"

type generateContentRequest struct {
	Contents         []codec.GeminiContent `json:"contents"`
	GenerationConfig generationConfig      `json:"generationConfig"`
}

type generationConfig struct {
	Temperature     float64      `json:"temperature"`
	TopK            int          `json:"topK"`
	TopP            float64      `json:"topP"`
	MaxOutputTokens int          `json:"maxOutputTokens"`
	ImageConfig     *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	ImageSize string `json:"imageSize"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content       candidateContent `json:"content"`
	FinishReason  string           `json:"finishReason,omitempty"`
	FinishMessage string           `json:"finishMessage,omitempty"`
	SafetyRatings []safetyRating   `json:"safetyRatings,omitempty"`
}

type candidateContent struct {
	Role  string             `json:"role,omitempty"`
	Parts []codec.GeminiPart `json:"parts"`
}

type promptFeedback struct {
	BlockReason        string         `json:"blockReason,omitempty"`
	BlockReasonMessage string         `json:"blockReasonMessage,omitempty"`
	SafetyRatings      []safetyRating `json:"safetyRatings,omitempty"`
}

type safetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability,omitempty"`
	Blocked     bool   `json:"blocked,omitempty"`
}
