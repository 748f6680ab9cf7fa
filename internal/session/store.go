package session

import (
	"sync"

	"nano-banana/internal/genai"
)

type Options struct {
	// MaxTurns keeps only the newest turns; 0 keeps everything.
	MaxTurns int
}

// History is the ordered conversation replayed as context on every call. Appended turns
// are copied in and snapshots are copied out, so stored turns never change.
type History struct {
	mu       sync.Mutex
	turns    []genai.Turn
	maxTurns int
}

func NewHistory(opts Options) *History {
	maxTurns := opts.MaxTurns
	if maxTurns < 0 {
		maxTurns = 0
	}

	return &History{maxTurns: maxTurns}
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = nil
}

func (h *History) Snapshot() []genai.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]genai.Turn, len(h.turns))
	for i, t := range h.turns {
		out[i] = t.Clone()
	}
	return out
}

func (h *History) Append(turns ...genai.Turn) {
	if len(turns) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, t := range turns {
		h.turns = append(h.turns, t.Clone())
	}

	// Trim in user/model pairs so the replay never starts with a model turn.
	if h.maxTurns > 0 && len(h.turns) > h.maxTurns {
		drop := len(h.turns) - h.maxTurns
		if drop%2 == 1 {
			drop++
		}
		if drop > len(h.turns) {
			drop = len(h.turns)
		}
		h.turns = append([]genai.Turn(nil), h.turns[drop:]...)
	}
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
