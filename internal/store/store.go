package store

import (
	"context"
	"time"

	"nano-banana/internal/genai"
)

// BlobStore holds large payloads such as generated images, keyed by opaque id. A Save is
// visible to the next Get of the same key.
type BlobStore interface {
	Save(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// HistoryRecord is the small structured entry shown in the history list. Image bytes live
// in the BlobStore under ImageRef.
type HistoryRecord struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	PromptText     string    `json:"promptText"`
	ResultText     string    `json:"resultText"`
	ImageRef       string    `json:"imageRef,omitempty"`
	TurnImageCount int       `json:"turnImageCount"`
}

type RecordStore interface {
	SaveRecord(ctx context.Context, rec HistoryRecord) error
	ListRecords(ctx context.Context) ([]HistoryRecord, error)
	GetRecord(ctx context.Context, id string) (HistoryRecord, bool, error)
	DeleteRecord(ctx context.Context, id string) error
	ClearRecords(ctx context.Context) error
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return genai.NewError(genai.KindStore, "local storage failed to "+op).WithCause(err)
}
