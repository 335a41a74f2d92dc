package history

import (
	"context"
	"errors"
)

// Tracker maintains the read flags shown as unread badges in the UI.
type Tracker struct {
	store *Store
}

func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

func markRead(e *Entry) error {
	if e.Read {
		return ErrNoChange
	}
	e.Read = true
	return nil
}

// MarkRead flips one record to read. Marking an already read record is a no-op.
func (t *Tracker) MarkRead(ctx context.Context, scope, recordID string) error {
	_, err := t.store.UpdateField(ctx, scope, recordID, markRead)
	return err
}

// MarkAllRead flips every unread record of scope and returns how many changed.
// Records evicted between the scan and the update are skipped.
func (t *Tracker) MarkAllRead(ctx context.Context, scope string) (int, error) {
	var unread []string
	for entry, err := range t.store.List(ctx, scope, 0) {
		if err != nil {
			return 0, err
		}
		if !entry.Read {
			unread = append(unread, entry.ID)
		}
	}

	return t.markEach(ctx, scope, unread)
}

// markEach marks the given records read and counts only the ones this call
// flipped; a record another writer already marked is not counted.
func (t *Tracker) markEach(ctx context.Context, scope string, ids []string) (int, error) {
	marked := 0
	for _, id := range ids {
		flipped := false
		_, err := t.store.UpdateField(ctx, scope, id, func(e *Entry) error {
			if err := markRead(e); err != nil {
				return err
			}
			flipped = true
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return marked, err
		}
		if flipped {
			marked++
		}
	}
	return marked, nil
}

func (t *Tracker) CountUnread(ctx context.Context, scope string) (int, error) {
	count := 0
	for entry, err := range t.store.List(ctx, scope, 0) {
		if err != nil {
			return 0, err
		}
		if !entry.Read {
			count++
		}
	}
	return count, nil
}
