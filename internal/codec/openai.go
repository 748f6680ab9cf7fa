package codec

import (
	"encoding/json"
	"strings"

	"nano-banana/internal/genai"
)

// DefaultImagePrompt is prepended when the user attached images without any text.
const DefaultImagePrompt = "Generate an image based on the provided reference images."

type OpenAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

type OpenAIImageURL struct {
	URL string `json:"url"`
}

func ToOpenAIContent(parts []genai.Part) []OpenAIContentPart {
	out := make([]OpenAIContentPart, 0, len(parts)+1)
	hasText := false
	for _, p := range parts {
		if p.Image != nil {
			out = append(out, OpenAIContentPart{
				Type:     "image_url",
				ImageURL: &OpenAIImageURL{URL: DataURL(p.Image.MimeType, p.Image.Data)},
			})
			continue
		}
		if strings.TrimSpace(p.Text) != "" {
			hasText = true
		}
		out = append(out, OpenAIContentPart{Type: "text", Text: p.Text})
	}

	if !hasText {
		out = append([]OpenAIContentPart{{Type: "text", Text: DefaultImagePrompt}}, out...)
	}
	return out
}

// MessageText normalizes an assistant message content that is either a JSON string or an
// array of fragments, each a string or an object with a text field. ok is false when the
// content is absent, null or of any other shape.
func MessageText(raw json.RawMessage) (text string, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var fragments []json.RawMessage
	if err := json.Unmarshal(raw, &fragments); err != nil {
		return "", false
	}

	var b strings.Builder
	for _, frag := range fragments {
		var fs string
		if err := json.Unmarshal(frag, &fs); err == nil {
			b.WriteString(fs)
			continue
		}
		var fo struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(frag, &fo); err == nil {
			b.WriteString(fo.Text)
		}
	}
	return b.String(), true
}
