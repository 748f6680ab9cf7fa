package genai

import "context"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part carries exactly one payload: Text, or an inline image when Image is non-nil.
type Part struct {
	Text  string
	Image *Image
}

type Image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func ImagePart(mimeType, data string) Part {
	return Part{Image: &Image{MimeType: mimeType, Data: data}}
}

func (p Part) IsImage() bool {
	return p.Image != nil
}

type Turn struct {
	Role  Role
	Parts []Part
}

// Clone returns a deep copy so callers cannot mutate a turn already in history.
func (t Turn) Clone() Turn {
	parts := make([]Part, len(t.Parts))
	for i, p := range t.Parts {
		parts[i] = p
		if p.Image != nil {
			img := *p.Image
			parts[i].Image = &img
		}
	}
	return Turn{Role: t.Role, Parts: parts}
}

type Request struct {
	APIKey    string
	BaseURL   string
	Model     string
	History   []Turn
	NewParts  []Part
	ImageSize string
}

type Result struct {
	Text   string  `json:"text"`
	Images []Image `json:"images"`
}

func (r Result) Empty() bool {
	return r.Text == "" && len(r.Images) == 0
}

// ProgressFunc receives advisory milestones in percent with a short stage label.
type ProgressFunc func(percent int, stage string)

// Report calls fn when it is set.
func (fn ProgressFunc) Report(percent int, stage string) {
	if fn != nil {
		fn(percent, stage)
	}
}

type Driver interface {
	Name() string
	Generate(ctx context.Context, req Request, progress ProgressFunc) (Result, error)
}
