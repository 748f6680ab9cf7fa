package codec

import "nano-banana/internal/genai"

// GeminiContent is one entry of the contents array of a generateContent call.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart decodes both inlineData and the inline_data spelling used by older API
// versions; encoding always emits inlineData.
type GeminiPart struct {
	Text            string      `json:"text,omitempty"`
	Thought         bool        `json:"thought,omitempty"`
	InlineData      *GeminiBlob `json:"inlineData,omitempty"`
	InlineDataSnake *GeminiBlob `json:"inline_data,omitempty"`
}

type GeminiBlob struct {
	MimeType      string `json:"mimeType,omitempty"`
	MimeTypeSnake string `json:"mime_type,omitempty"`
	Data          string `json:"data"`
}

// Inline returns the inline image payload regardless of key casing.
func (p GeminiPart) Inline() (genai.Image, bool) {
	blob := p.InlineData
	if blob == nil {
		blob = p.InlineDataSnake
	}
	if blob == nil || blob.Data == "" {
		return genai.Image{}, false
	}

	mime := blob.MimeType
	if mime == "" {
		mime = blob.MimeTypeSnake
	}
	if mime == "" {
		mime = defaultImageMime
	}
	return genai.Image{MimeType: mime, Data: blob.Data}, true
}

func ToGeminiParts(parts []genai.Part) []GeminiPart {
	out := make([]GeminiPart, 0, len(parts))
	for _, p := range parts {
		if p.Image != nil {
			out = append(out, GeminiPart{InlineData: &GeminiBlob{
				MimeType: p.Image.MimeType,
				Data:     p.Image.Data,
			}})
			continue
		}
		out = append(out, GeminiPart{Text: p.Text})
	}
	return out
}

// FromGeminiParts is the inverse of ToGeminiParts. Parts carrying neither text nor
// inline data (thought signatures, function calls) are dropped.
func FromGeminiParts(parts []GeminiPart) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if img, ok := p.Inline(); ok {
			out = append(out, genai.ImagePart(img.MimeType, img.Data))
			continue
		}
		if p.Text != "" {
			out = append(out, genai.TextPart(p.Text))
		}
	}
	return out
}

func ToGeminiContents(history []genai.Turn) []GeminiContent {
	out := make([]GeminiContent, 0, len(history))
	for _, turn := range history {
		role := string(turn.Role)
		if role == "" {
			role = string(genai.RoleUser)
		}
		out = append(out, GeminiContent{
			Role:  role,
			Parts: ToGeminiParts(turn.Parts),
		})
	}
	return out
}
