package mediagroup

import (
	"sync"
	"time"
)

// Item is one photo of a Telegram album.
type Item struct {
	ChatID       int64
	UserID       int64
	MediaGroupID string
	Caption      string
	FileID       string
}

// Group is a whole album, delivered once no new photo arrived within the debounce window.
// FileIDs keep arrival order.
type Group struct {
	ChatID  int64
	UserID  int64
	Caption string
	FileIDs []string
}

type Options struct {
	Debounce time.Duration
	// MaxItems flushes a group early once it holds this many photos. Zero means no cap.
	MaxItems int
	OnFlush  func(Group)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	maxItems int
	onFlush  func(Group)
	groups   map[groupKey]*pendingGroup
	closed   bool
}

type groupKey struct {
	chatID       int64
	mediaGroupID string
}

type pendingGroup struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	return &Aggregator{
		debounce: debounce,
		maxItems: opts.MaxItems,
		onFlush:  opts.OnFlush,
		groups:   make(map[groupKey]*pendingGroup),
	}
}

func (a *Aggregator) Add(item Item) {
	if item.MediaGroupID == "" || item.FileID == "" {
		return
	}

	key := groupKey{chatID: item.ChatID, mediaGroupID: item.MediaGroupID}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{
			group: Group{
				ChatID:  item.ChatID,
				UserID:  item.UserID,
				Caption: item.Caption,
			},
		}
		a.groups[key] = pg
	}
	pg.group.FileIDs = append(pg.group.FileIDs, item.FileID)
	if item.Caption != "" {
		pg.group.Caption = item.Caption
	}

	if pg.timer != nil {
		pg.timer.Stop()
	}
	full := a.maxItems > 0 && len(pg.group.FileIDs) >= a.maxItems
	if !full {
		pg.timer = time.AfterFunc(a.debounce, func() {
			a.flush(key)
		})
	}
	a.mu.Unlock()

	if full {
		a.flush(key)
	}
}

// Pending reports how many albums are still collecting photos.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Close drops pending albums without delivering them; later Adds are ignored.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for key, pg := range a.groups {
		if pg.timer != nil {
			pg.timer.Stop()
		}
		delete(a.groups, key)
	}
}

func (a *Aggregator) flush(key groupKey) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	group := pg.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}
