package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana/internal/genai"
	"nano-banana/internal/mediagroup"
	"nano-banana/internal/orchestrator"
	"nano-banana/internal/store"
)

const ownerID = 42

type sentImage struct {
	img     genai.Image
	caption string
}

type fakeMessenger struct {
	mu       sync.Mutex
	texts    []string
	images   []sentImage
	typing   int
	files    map[string]genai.Image
	failFile string
}

func (m *fakeMessenger) SendTyping(int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
}

func (m *fakeMessenger) SendText(_ int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMessenger) SendImage(_ int64, img genai.Image, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, sentImage{img: img, caption: caption})
	return nil
}

func (m *fakeMessenger) DownloadImage(_ context.Context, fileID string) (genai.Image, error) {
	if fileID == m.failFile {
		return genai.Image{}, errors.New("telegram down")
	}
	return m.files[fileID], nil
}

func (m *fakeMessenger) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type recordingDriver struct {
	name   string
	result genai.Result
	err    error

	mu   sync.Mutex
	reqs []genai.Request
}

func (d *recordingDriver) Name() string { return d.name }

func (d *recordingDriver) Generate(_ context.Context, req genai.Request, progress genai.ProgressFunc) (genai.Result, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	progress.Report(50, "waiting")
	return d.result, d.err
}

func setup(t *testing.T, driver *recordingDriver) (*Handler, *fakeMessenger, *orchestrator.Orchestrator) {
	t.Helper()
	mem := store.NewMemory()
	o, err := orchestrator.New(orchestrator.Options{
		Model: "gemini-3-pro-image-preview",
		Drivers: map[orchestrator.DriverKind]genai.Driver{
			orchestrator.DriverGemini:     driver,
			orchestrator.DriverOpenAIChat: &recordingDriver{name: "openai-chat", result: genai.Result{Text: "chat"}},
		},
		Blobs:   mem,
		Records: mem,
	})
	require.NoError(t, err)

	m := &fakeMessenger{files: map[string]genai.Image{
		"f1": {MimeType: "image/jpeg", Data: "AAAA"},
		"f2": {MimeType: "image/png", Data: "BBBB"},
	}}
	h := New(Options{Messenger: m, Generator: o, OwnerID: ownerID, TypingInterval: time.Hour})
	return h, m, o
}

func textUpdate(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
	}}
}

func commandUpdate(text string, cmdLen int) tgbotapi.Update {
	u := textUpdate(ownerID, text)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}}
	return u
}

func photoUpdate(fileID, caption, group string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:         &tgbotapi.User{ID: ownerID},
		Chat:         &tgbotapi.Chat{ID: 100},
		Caption:      caption,
		MediaGroupID: group,
		Photo: []tgbotapi.PhotoSize{
			{FileID: fileID + "-small", Width: 90},
			{FileID: fileID, Width: 1280},
		},
	}}
}

func TestTextMessageGeneratesImage(t *testing.T) {
	driver := &recordingDriver{name: "gemini", result: genai.Result{
		Text:   "here you go",
		Images: []genai.Image{{MimeType: "image/png", Data: "ZZZZ"}, {MimeType: "image/png", Data: "YYYY"}},
	}}
	h, m, o := setup(t, driver)

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(ownerID, "draw a cat")))

	require.Len(t, m.images, 2)
	assert.Equal(t, "here you go", m.images[0].caption)
	assert.Equal(t, "", m.images[1].caption)
	assert.Empty(t, m.texts)
	assert.GreaterOrEqual(t, m.typing, 1)
	assert.Len(t, o.History(), 2)
}

func TestIgnoresNonOwner(t *testing.T) {
	driver := &recordingDriver{name: "gemini", result: genai.Result{Text: "x"}}
	h, m, _ := setup(t, driver)

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "hello")))
	assert.Empty(t, m.texts)
	assert.Empty(t, driver.reqs)
}

func TestPhotoUsesLargestSizeAndCaption(t *testing.T) {
	driver := &recordingDriver{name: "gemini", result: genai.Result{Text: "edited"}}
	h, m, _ := setup(t, driver)

	require.NoError(t, h.HandleUpdate(context.Background(), photoUpdate("f1", " make it blue ", "")))

	require.Len(t, driver.reqs, 1)
	assert.Equal(t, []genai.Part{
		genai.TextPart("make it blue"),
		genai.ImagePart("image/jpeg", "AAAA"),
	}, driver.reqs[0].NewParts)
	assert.Equal(t, "edited", m.lastText())
}

func TestPhotoDownloadFailure(t *testing.T) {
	driver := &recordingDriver{name: "gemini", result: genai.Result{Text: "x"}}
	h, m, _ := setup(t, driver)
	m.failFile = "f1"

	require.NoError(t, h.HandleUpdate(context.Background(), photoUpdate("f1", "", "")))
	assert.Contains(t, m.lastText(), "Could not download")
	assert.Empty(t, driver.reqs)
}

func TestAlbumBecomesOneSubmit(t *testing.T) {
	driver := &recordingDriver{name: "gemini", result: genai.Result{Text: "merged"}}
	h, m, _ := setup(t, driver)

	flushed := make(chan mediagroup.Group, 1)
	h.SetMediaGroupAggregator(mediagroup.New(mediagroup.Options{
		Debounce: 20 * time.Millisecond,
		OnFlush:  func(g mediagroup.Group) { flushed <- g },
	}))

	require.NoError(t, h.HandleUpdate(context.Background(), photoUpdate("f1", "combine", "album")))
	require.NoError(t, h.HandleUpdate(context.Background(), photoUpdate("f2", "", "album")))
	assert.Empty(t, driver.reqs)

	var group mediagroup.Group
	select {
	case group = <-flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("album not flushed")
	}
	h.HandleMediaGroup(context.Background(), group)

	require.Len(t, driver.reqs, 1)
	assert.Equal(t, []genai.Part{
		genai.TextPart("combine"),
		genai.ImagePart("image/jpeg", "AAAA"),
		genai.ImagePart("image/png", "BBBB"),
	}, driver.reqs[0].NewParts)
	assert.Equal(t, "merged", m.lastText())
}

func TestErrorsAreReported(t *testing.T) {
	driver := &recordingDriver{name: "gemini", err: genai.NewError(genai.KindRateLimited, "slow down")}
	h, m, o := setup(t, driver)

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(ownerID, "x")))
	assert.Contains(t, m.lastText(), "Rate limited")
	assert.Empty(t, o.History())
}

func TestCommands(t *testing.T) {
	driver := &recordingDriver{name: "gemini", result: genai.Result{
		Text:   "cat",
		Images: []genai.Image{{MimeType: "image/png", Data: "ZZZZ"}},
	}}
	h, m, o := setup(t, driver)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/history", 8)))
	assert.Equal(t, "No generations yet.", m.lastText())

	require.NoError(t, h.HandleUpdate(ctx, textUpdate(ownerID, "a cat")))
	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/history", 8)))
	assert.Contains(t, m.lastText(), "a cat")
	assert.Contains(t, m.lastText(), "🖼")

	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/clear", 6)))
	assert.Contains(t, m.lastText(), "cleared")
	assert.Empty(t, o.History())

	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/model nano-banana", 6)))
	assert.Contains(t, m.lastText(), "openai-chat")
	assert.Equal(t, "nano-banana", o.Model())

	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/model", 6)))
	assert.Equal(t, "Model: nano-banana (openai-chat)", m.lastText())

	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/help", 5)))
	assert.Contains(t, m.lastText(), "/clear")

	require.NoError(t, h.HandleUpdate(ctx, commandUpdate("/bogus", 6)))
	assert.Contains(t, m.lastText(), "Unknown command")
}

func TestTypingProgressIsThrottled(t *testing.T) {
	h, m, _ := setup(t, &recordingDriver{name: "gemini"})
	fn := h.typingProgress(1)
	fn(10, "a")
	fn(20, "b")
	fn(30, "c")
	assert.Equal(t, 1, m.typing)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 2))
}
