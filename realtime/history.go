package realtime

import (
	"context"
	"encoding/json"
	"sync"

	authclient "github.com/goliatone/go-auth-client"
	goerrors "github.com/goliatone/go-errors"
)

// KeyNotifications is the storage key of the notification history.
const KeyNotifications = "notifications"

// DefaultHistoryLimit bounds the stored history.
const DefaultHistoryLimit = 100

// History is a capped, most recent first list of notifications kept in a
// authclient.Storage backend as a JSON array.
type History struct {
	mu      sync.Mutex
	storage authclient.Storage
	limit   int
	logger  authclient.Logger
}

// HistoryOption customizes a History.
type HistoryOption func(*History)

// WithHistoryLimit overrides DefaultHistoryLimit
func WithHistoryLimit(limit int) HistoryOption {
	return func(h *History) {
		if limit > 0 {
			h.limit = limit
		}
	}
}

// WithHistoryLogger sets the logger
func WithHistoryLogger(logger authclient.Logger) HistoryOption {
	return func(h *History) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHistory returns a History over storage. A nil storage keeps the
// history in memory.
func NewHistory(storage authclient.Storage, opts ...HistoryOption) *History {
	if storage == nil {
		storage = authclient.NewMemoryStorage()
	}
	h := &History{
		storage: storage,
		limit:   DefaultHistoryLimit,
		logger:  authclient.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Add prepends n, replacing an older entry with the same id, and drops the
// oldest entries past the limit.
func (h *History) Add(ctx context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, err := h.load(ctx)
	if err != nil {
		return err
	}

	out := make([]Notification, 0, len(list)+1)
	out = append(out, n)
	for _, existing := range list {
		if existing.ID != "" && existing.ID == n.ID {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > h.limit {
		out = out[:h.limit]
	}
	return h.save(ctx, out)
}

// List returns the stored notifications, most recent first.
func (h *History) List(ctx context.Context) ([]Notification, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(ctx)
}

// MarkAsRead flags the notification with id as read. It reports whether
// the id was found.
func (h *History) MarkAsRead(ctx context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, err := h.load(ctx)
	if err != nil {
		return false, err
	}

	found := false
	for i := range list {
		if list[i].ID == id {
			found = true
			list[i].Read = true
		}
	}
	if !found {
		return false, nil
	}
	return true, h.save(ctx, list)
}

// MarkAllAsRead flags every notification as read and returns how many
// changed.
func (h *History) MarkAllAsRead(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, err := h.load(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range list {
		if !list[i].Read {
			list[i].Read = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, h.save(ctx, list)
}

func (h *History) UnreadCount(ctx context.Context) (int, error) {
	list, err := h.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.storage.Delete(ctx, KeyNotifications); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear notification history")
	}
	return nil
}

func (h *History) load(ctx context.Context) ([]Notification, error) {
	raw, ok, err := h.storage.Get(ctx, KeyNotifications)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read notification history")
	}
	if !ok || raw == "" {
		return []Notification{}, nil
	}

	var list []Notification
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		h.logger.Warn("History stored notifications are not valid JSON, starting over", "error", err)
		return []Notification{}, nil
	}
	return list, nil
}

func (h *History) save(ctx context.Context, list []Notification) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode notification history")
	}
	if err := h.storage.Set(ctx, KeyNotifications, string(raw)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write notification history")
	}
	return nil
}
