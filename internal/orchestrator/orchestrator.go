package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nano-banana/internal/codec"
	"nano-banana/internal/genai"
	"nano-banana/internal/metrics"
	"nano-banana/internal/retry"
	"nano-banana/internal/session"
	"nano-banana/internal/store"
)

// ImageOnlyPlaceholder stands in for the text of an image-only model turn, since the
// Gemini history format expects text-bearing model turns.
const ImageOnlyPlaceholder = "[Image Generated]"

const archiveTimeout = 10 * time.Second

type State int32

const (
	StateIdle State = iota
	StateGenerating
)

func (s State) String() string {
	if s == StateGenerating {
		return "generating"
	}
	return "idle"
}

type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	ImageSize string

	Drivers map[DriverKind]genai.Driver
	Routes  Routes
	History *session.History

	// Blobs and Records are optional; without them nothing is persisted.
	Blobs   store.BlobStore
	Records store.RecordStore

	// Retry wraps the driver call when set.
	Retry    *retry.Policy
	Progress genai.ProgressFunc
	Logger   *slog.Logger

	Now   func() time.Time
	NewID func() string
}

type Orchestrator struct {
	apiKey    string
	baseURL   string
	imageSize string

	mu    sync.Mutex
	model string

	drivers map[DriverKind]genai.Driver
	routes  Routes
	history *session.History
	blobs   store.BlobStore
	records store.RecordStore
	retry   *retry.Policy

	progress genai.ProgressFunc
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	generating atomic.Bool
}

func New(opts Options) (*Orchestrator, error) {
	routes := opts.Routes
	if routes.Default == "" && len(routes.Models) == 0 {
		routes = DefaultRoutes()
	}
	for _, kind := range routes.kinds() {
		if opts.Drivers[kind] == nil {
			return nil, fmt.Errorf("no driver registered for route kind %q", kind)
		}
	}

	history := opts.History
	if history == nil {
		history = session.NewHistory(session.Options{})
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}

	return &Orchestrator{
		apiKey:    opts.APIKey,
		baseURL:   opts.BaseURL,
		imageSize: strings.TrimSpace(opts.ImageSize),
		model:     strings.TrimSpace(opts.Model),
		drivers:   opts.Drivers,
		routes:    routes,
		history:   history,
		blobs:     opts.Blobs,
		records:   opts.Records,
		retry:     opts.Retry,
		progress:  opts.Progress,
		logger:    logger,
		now:       now,
		newID:     newID,
	}, nil
}

type submitConfig struct {
	progress genai.ProgressFunc
}

type SubmitOption func(*submitConfig)

// WithProgress overrides the orchestrator-wide progress callback for one call.
func WithProgress(fn genai.ProgressFunc) SubmitOption {
	return func(c *submitConfig) { c.progress = fn }
}

// Submit sends prompt and images as a new user turn. Only one call may be in flight; a
// concurrent call fails with BUSY before any I/O. History gains the user and model turns
// only on success. A STORE_ERROR is returned together with the valid result when the
// generation succeeded but its history record could not be persisted.
func (o *Orchestrator) Submit(ctx context.Context, prompt string, images []genai.Image, opts ...SubmitOption) (genai.Result, error) {
	if !o.generating.CompareAndSwap(false, true) {
		metrics.SubmitRejected()
		return genai.Result{}, genai.NewError(genai.KindBusy, "a generation is already in progress, wait for it to finish")
	}
	defer o.generating.Store(false)

	cfg := submitConfig{progress: o.progress}
	for _, opt := range opts {
		opt(&cfg)
	}
	progress := increasing(cfg.progress)

	parts, err := buildParts(prompt, images)
	if err != nil {
		return genai.Result{}, err
	}

	model := o.Model()
	kind := o.routes.KindFor(model)
	driver := o.drivers[kind]
	if driver == nil {
		return genai.Result{}, genai.NewError(genai.KindInvalidRequest, fmt.Sprintf("no driver for model %q", model))
	}

	req := genai.Request{
		APIKey:    o.apiKey,
		BaseURL:   o.baseURL,
		Model:     model,
		History:   o.history.Snapshot(),
		NewParts:  parts,
		ImageSize: o.imageSize,
	}

	start := o.now()
	call := func(ctx context.Context) (genai.Result, error) {
		return driver.Generate(ctx, req, progress)
	}
	var result genai.Result
	if o.retry != nil {
		policy := *o.retry
		userHook := policy.OnRetry
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			o.logger.Warn("retrying generation", "driver", driver.Name(), "attempt", attempt, "delay", delay, "err", err)
			if userHook != nil {
				userHook(attempt, err, delay)
			}
		}
		result, err = retry.Do(ctx, policy, call)
	} else {
		result, err = call(ctx)
	}
	if err == nil && result.Empty() {
		err = genai.NewError(genai.KindEmptyContent, "model returned neither text nor images")
	}

	elapsed := o.now().Sub(start)
	if err != nil {
		metrics.ObserveGeneration(driver.Name(), outcome(err), 0, elapsed)
		o.logger.Error("generation failed", "driver", driver.Name(), "model", model, "kind", genai.KindOf(err), "err", err)
		return genai.Result{}, err
	}
	metrics.ObserveGeneration(driver.Name(), "ok", len(result.Images), elapsed)

	modelText := result.Text
	if strings.TrimSpace(modelText) == "" {
		modelText = ImageOnlyPlaceholder
	}
	o.history.Append(
		genai.Turn{Role: genai.RoleUser, Parts: parts},
		genai.Turn{Role: genai.RoleModel, Parts: []genai.Part{genai.TextPart(modelText)}},
	)

	o.logger.Info("generation finished",
		"driver", driver.Name(),
		"model", model,
		"images", len(result.Images),
		"text_len", len(result.Text),
		"dur_ms", elapsed.Milliseconds(),
	)

	if err := o.archive(ctx, prompt, len(images), result); err != nil {
		return result, err
	}
	return result, nil
}

// increasing drops milestones at or below the highest already reported, so a retried
// attempt does not move the bar backwards.
func increasing(fn genai.ProgressFunc) genai.ProgressFunc {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	high := -1
	return func(percent int, stage string) {
		mu.Lock()
		defer mu.Unlock()
		if percent <= high {
			return
		}
		high = percent
		fn(percent, stage)
	}
}

func buildParts(prompt string, images []genai.Image) ([]genai.Part, error) {
	parts := make([]genai.Part, 0, len(images)+1)
	if strings.TrimSpace(prompt) != "" {
		parts = append(parts, genai.TextPart(prompt))
	}
	for i, img := range images {
		mime, data := img.MimeType, img.Data
		if strings.HasPrefix(data, "data:") {
			var err error
			mime, data, err = codec.ParseDataURL(data)
			if err != nil {
				return nil, genai.NewError(genai.KindInvalidRequest, fmt.Sprintf("image %d is not a valid data URL", i+1)).WithCause(err)
			}
		}
		if data == "" {
			return nil, genai.NewError(genai.KindInvalidRequest, fmt.Sprintf("image %d has no data", i+1))
		}
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.ImagePart(mime, data))
	}
	if len(parts) == 0 {
		return nil, genai.NewError(genai.KindInvalidRequest, "nothing to send: prompt and images are both empty")
	}
	return parts, nil
}

func outcome(err error) string {
	if kind := genai.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "error"
}

func (o *Orchestrator) archive(ctx context.Context, prompt string, imageCount int, result genai.Result) error {
	if o.records == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	rec := store.HistoryRecord{
		ID:             o.newID(),
		Timestamp:      o.now(),
		PromptText:     prompt,
		ResultText:     result.Text,
		TurnImageCount: imageCount,
	}

	if len(result.Images) > 0 && o.blobs != nil {
		ref := o.newID()
		img := result.Images[0]
		if err := o.blobs.Save(ctx, ref, []byte(codec.DataURL(img.MimeType, img.Data))); err != nil {
			o.logger.Warn("saving generated image failed", "err", err)
			return err
		}
		rec.ImageRef = ref
	}

	if err := o.records.SaveRecord(ctx, rec); err != nil {
		o.logger.Warn("saving history record failed", "err", err)
		return err
	}
	return nil
}

func (o *Orchestrator) State() State {
	if o.generating.Load() {
		return StateGenerating
	}
	return StateIdle
}

func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

// SetModel switches the model for subsequent calls; the route must have a driver.
func (o *Orchestrator) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if o.drivers[o.routes.KindFor(model)] == nil {
		return genai.NewError(genai.KindInvalidRequest, fmt.Sprintf("no driver for model %q", model))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.model = model
	return nil
}

// DriverFor reports which driver kind serves model.
func (o *Orchestrator) DriverFor(model string) DriverKind {
	return o.routes.KindFor(model)
}

func (o *Orchestrator) History() []genai.Turn {
	return o.history.Snapshot()
}

// Reset drops the conversation context. It is refused while a generation is in flight.
func (o *Orchestrator) Reset() error {
	if !o.generating.CompareAndSwap(false, true) {
		return genai.NewError(genai.KindBusy, "cannot reset the conversation while generating")
	}
	defer o.generating.Store(false)
	o.history.Clear()
	return nil
}

func (o *Orchestrator) Records(ctx context.Context) ([]store.HistoryRecord, error) {
	if o.records == nil {
		return nil, nil
	}
	return o.records.ListRecords(ctx)
}

func (o *Orchestrator) Record(ctx context.Context, id string) (store.HistoryRecord, bool, error) {
	if o.records == nil {
		return store.HistoryRecord{}, false, nil
	}
	return o.records.GetRecord(ctx, id)
}

// Image loads a stored image by reference. ok is false when nothing is stored under ref.
func (o *Orchestrator) Image(ctx context.Context, ref string) (img genai.Image, ok bool, err error) {
	if o.blobs == nil || ref == "" {
		return genai.Image{}, false, nil
	}
	blob, ok, err := o.blobs.Get(ctx, ref)
	if err != nil || !ok {
		return genai.Image{}, false, err
	}
	mime, data, err := codec.ParseDataURL(string(blob))
	if err != nil {
		return genai.Image{}, false, genai.NewError(genai.KindStore, "stored image is corrupt").WithCause(err)
	}
	return genai.Image{MimeType: mime, Data: data}, true, nil
}

func (o *Orchestrator) DeleteRecord(ctx context.Context, id string) error {
	if o.records == nil {
		return nil
	}
	rec, ok, err := o.records.GetRecord(ctx, id)
	if err != nil || !ok {
		return err
	}
	if rec.ImageRef != "" && o.blobs != nil {
		if err := o.blobs.Delete(ctx, rec.ImageRef); err != nil {
			return err
		}
	}
	return o.records.DeleteRecord(ctx, id)
}

func (o *Orchestrator) ClearRecords(ctx context.Context) error {
	if o.records != nil {
		if err := o.records.ClearRecords(ctx); err != nil {
			return err
		}
	}
	if o.blobs != nil {
		return o.blobs.Clear(ctx)
	}
	return nil
}
