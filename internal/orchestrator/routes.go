package orchestrator

import (
	"fmt"
	"strings"
)

type DriverKind string

const (
	DriverGemini     DriverKind = "gemini"
	DriverOpenAIChat DriverKind = "openai-chat"
)

// DesignatedOpenAIModel is routed to the chat/completions driver by the built-in table.
const DesignatedOpenAIModel = "nano-banana"

func ParseDriverKind(s string) (DriverKind, error) {
	switch DriverKind(strings.ToLower(strings.TrimSpace(s))) {
	case DriverGemini:
		return DriverGemini, nil
	case DriverOpenAIChat, "openai":
		return DriverOpenAIChat, nil
	default:
		return "", fmt.Errorf("unknown driver kind %q", s)
	}
}

// Routes maps model identifiers to driver kinds by exact match.
type Routes struct {
	Default DriverKind
	Models  map[string]DriverKind
}

func DefaultRoutes() Routes {
	return Routes{
		Default: DriverGemini,
		Models: map[string]DriverKind{
			DesignatedOpenAIModel: DriverOpenAIChat,
		},
	}
}

// NewRoutes builds a table from raw config values; an empty defaultKind means gemini.
func NewRoutes(defaultKind string, models map[string]string) (Routes, error) {
	r := Routes{Default: DriverGemini, Models: make(map[string]DriverKind, len(models))}
	if strings.TrimSpace(defaultKind) != "" {
		kind, err := ParseDriverKind(defaultKind)
		if err != nil {
			return Routes{}, fmt.Errorf("default route: %w", err)
		}
		r.Default = kind
	}
	for model, raw := range models {
		kind, err := ParseDriverKind(raw)
		if err != nil {
			return Routes{}, fmt.Errorf("route for model %q: %w", model, err)
		}
		r.Models[strings.TrimSpace(model)] = kind
	}
	return r, nil
}

func (r Routes) KindFor(model string) DriverKind {
	if kind, ok := r.Models[strings.TrimSpace(model)]; ok {
		return kind
	}
	if r.Default == "" {
		return DriverGemini
	}
	return r.Default
}

func (r Routes) kinds() []DriverKind {
	def := r.Default
	if def == "" {
		def = DriverGemini
	}
	seen := map[DriverKind]bool{def: true}
	out := []DriverKind{def}
	for _, k := range r.Models {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
