package application

import (
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultWarningTTL     = 30 * time.Second
	defaultWarningEntries = 128
)

// warningCache keeps the conflict warnings computed for stored reservations so
// repeated conflict queries skip expanding every reservation in the room.
// Entries live until the TTL lapses or the next write purges them all.
type warningCache struct {
	entries *expirable.LRU[string, []ConflictWarning]
}

func newWarningCache(ttl time.Duration, maxEntries int) *warningCache {
	if ttl <= 0 {
		ttl = defaultWarningTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultWarningEntries
	}
	return &warningCache{entries: expirable.NewLRU[string, []ConflictWarning](maxEntries, nil, ttl)}
}

func (c *warningCache) Get(key string) ([]ConflictWarning, bool) {
	if c == nil {
		return nil, false
	}
	warnings, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(warnings), true
}

func (c *warningCache) Store(key string, warnings []ConflictWarning) {
	if c == nil {
		return
	}
	c.entries.Add(key, slices.Clone(warnings))
}

// Invalidate drops every entry. Any reservation or occurrence write can
// change the conflicts of other reservations in the same room.
func (c *warningCache) Invalidate() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

func buildWarningCacheKey(reservationID string, horizon time.Duration) string {
	return reservationID + "|" + strconv.FormatInt(int64(horizon), 10)
}
