package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"nano-banana/internal/genai"
	"nano-banana/internal/mediagroup"
	"nano-banana/internal/orchestrator"
	"nano-banana/internal/store"
	"nano-banana/internal/telegram"
)

const historyListLimit = 5

// Messenger is the chat surface the handler talks to.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendImage(chatID int64, img genai.Image, caption string) error
	DownloadImage(ctx context.Context, fileID string) (genai.Image, error)
}

type Generator interface {
	Submit(ctx context.Context, prompt string, images []genai.Image, opts ...orchestrator.SubmitOption) (genai.Result, error)
	Reset() error
	Model() string
	SetModel(model string) error
	DriverFor(model string) orchestrator.DriverKind
	Records(ctx context.Context) ([]store.HistoryRecord, error)
}

type Options struct {
	Messenger Messenger
	Generator Generator
	// OwnerID is the only Telegram user served; the conversation is a single session.
	OwnerID int64
	Logger  *slog.Logger
	// TypingInterval throttles chat actions sent on progress milestones.
	TypingInterval time.Duration
}

type Handler struct {
	msg            Messenger
	gen            Generator
	ownerID        int64
	logger         *slog.Logger
	typingInterval time.Duration
	aggregator     *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.TypingInterval
	if interval <= 0 {
		interval = 4 * time.Second
	}

	return &Handler{
		msg:            opts.Messenger,
		gen:            opts.Generator,
		ownerID:        opts.OwnerID,
		logger:         logger,
		typingInterval: interval,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	if msg.From.ID != h.ownerID {
		h.logger.Warn("ignoring message from non-owner", "user_id", msg.From.ID)
		return nil
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, msg)
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		return h.generate(ctx, chatID, text, nil)
	}

	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.processPhotos(ctx, group.ChatID, group.Caption, group.FileIDs); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		return h.msg.SendText(chatID,
			"🍌 Nano Banana\n\n"+
				"Send a prompt to generate an image. Attach photos (or an album) as references; "+
				"the caption is the prompt. Follow-up messages refine the previous result.\n\n"+
				"Commands:\n"+
				"/clear - start a new conversation\n"+
				"/history - recent generations\n"+
				"/model [name] - show or switch the model",
		)
	case "clear":
		if err := h.gen.Reset(); err != nil {
			return h.msg.SendText(chatID, "⏳ "+userMessage(err))
		}
		return h.msg.SendText(chatID, "✅ Conversation cleared.")
	case "history":
		return h.sendHistory(ctx, chatID)
	case "model":
		name := strings.TrimSpace(msg.CommandArguments())
		if name == "" {
			model := h.gen.Model()
			return h.msg.SendText(chatID, fmt.Sprintf("Model: %s (%s)", model, h.gen.DriverFor(model)))
		}
		if err := h.gen.SetModel(name); err != nil {
			return h.msg.SendText(chatID, "❌ "+userMessage(err))
		}
		return h.msg.SendText(chatID, fmt.Sprintf("✅ Model set to %s (%s).", name, h.gen.DriverFor(name)))
	default:
		return h.msg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) sendHistory(ctx context.Context, chatID int64) error {
	records, err := h.gen.Records(ctx)
	if err != nil {
		h.logger.Error("list records failed", "err", err)
		return h.msg.SendText(chatID, "❌ "+userMessage(err))
	}
	if len(records) == 0 {
		return h.msg.SendText(chatID, "No generations yet.")
	}

	var b strings.Builder
	b.WriteString("Recent generations:\n")
	for i, rec := range records {
		if i == historyListLimit {
			break
		}
		prompt := rec.PromptText
		if prompt == "" {
			prompt = fmt.Sprintf("(%d reference images)", rec.TurnImageCount)
		}
		marker := ""
		if rec.ImageRef != "" {
			marker = " 🖼"
		}
		fmt.Fprintf(&b, "\n%s%s\n%s\n", rec.Timestamp.Format("2006-01-02 15:04"), marker, truncate(prompt, 120))
	}
	return h.msg.SendText(chatID, b.String())
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       msg.From.ID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	return h.processPhotos(ctx, chatID, msg.Caption, []string{fileID})
}

func (h *Handler) processPhotos(ctx context.Context, chatID int64, caption string, fileIDs []string) error {
	h.msg.SendTyping(chatID)

	images := make([]genai.Image, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		i, fileID := i, fileID
		eg.Go(func() error {
			img, err := h.msg.DownloadImage(egCtx, fileID)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.msg.SendText(chatID, "❌ Could not download the photo.")
	}

	return h.generate(ctx, chatID, strings.TrimSpace(caption), images)
}

func (h *Handler) generate(ctx context.Context, chatID int64, prompt string, images []genai.Image) error {
	h.msg.SendTyping(chatID)

	result, err := h.gen.Submit(ctx, prompt, images, orchestrator.WithProgress(h.typingProgress(chatID)))
	if err != nil && genai.KindOf(err) != genai.KindStore {
		return h.msg.SendText(chatID, "❌ "+userMessage(err))
	}
	if sendErr := h.sendResult(chatID, result); sendErr != nil {
		return sendErr
	}
	if err != nil {
		h.logger.Warn("result not archived", "err", err)
		return h.msg.SendText(chatID, "⚠️ The result was not saved to history.")
	}
	return nil
}

func (h *Handler) typingProgress(chatID int64) genai.ProgressFunc {
	var mu sync.Mutex
	var last time.Time
	return func(int, string) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(last) < h.typingInterval {
			return
		}
		last = time.Now()
		h.msg.SendTyping(chatID)
	}
}

func (h *Handler) sendResult(chatID int64, result genai.Result) error {
	if len(result.Images) == 0 {
		return h.msg.SendText(chatID, result.Text)
	}

	for i, img := range result.Images {
		caption := ""
		if i == 0 {
			caption = result.Text
		}
		if err := h.msg.SendImage(chatID, img, caption); err != nil {
			return err
		}
	}
	return nil
}

func userMessage(err error) string {
	switch genai.KindOf(err) {
	case genai.KindBusy:
		return "A generation is already running, wait for it to finish."
	case genai.KindInvalidCredential:
		return "The API key was rejected."
	case genai.KindAccessDenied:
		return "The API key has no access to this model."
	case genai.KindRateLimited:
		return "Rate limited by the provider, try again later."
	case genai.KindTimeout:
		return "The model took too long to answer."
	case genai.KindEmptyContent, genai.KindEmptyMessage:
		return "The model returned nothing. " + err.Error()
	case genai.KindInvalidRequest:
		var gerr *genai.Error
		if errors.As(err, &gerr) {
			return gerr.Message
		}
		return err.Error()
	default:
		return "Something went wrong: " + err.Error()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
