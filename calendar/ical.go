package calendar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimipdb306/scout-tdl/domain"
)

// ICal exports each user's events as an .ics file the user can subscribe to.
// Every write rebuilds the whole file from the backend's event set; removing
// one event is a full rebuild without it. Slow but simple, and it makes
// RemoveEvent trivially idempotent.
type ICal struct {
	dir string

	mu     sync.Mutex
	events map[string]map[string]icalEvent // user -> itemID -> event
	owners map[string]string               // itemID -> user, for removes
}

type icalEvent struct {
	uid     string
	summary string
	desc    string
	dueDate string
	created time.Time
}

// NewICal creates a backend writing calendars under dir.
func NewICal(dir string) (*ICal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ical: create export dir: %w", err)
	}
	return &ICal{
		dir:    dir,
		events: make(map[string]map[string]icalEvent),
		owners: make(map[string]string),
	}, nil
}

func (c *ICal) Name() string { return "ical" }

// AddEvent records the item and rebuilds the user's calendar file. The
// external id is the iCalendar UID.
func (c *ICal) AddEvent(_ context.Context, item *domain.Item, userID string) (string, error) {
	uid := item.ID + "@scout-tdl"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.events[userID] == nil {
		c.events[userID] = make(map[string]icalEvent)
	}
	c.events[userID][item.ID] = icalEvent{
		uid:     uid,
		summary: fmt.Sprintf("[%s] %s", item.Priority, item.Title),
		desc:    fmt.Sprintf("Task ID: %s\\nStatus: %s\\n%s", item.ID, item.Status, escapeText(item.Description)),
		dueDate: item.DueDate,
		created: item.CreatedAt,
	}
	c.owners[item.ID] = userID

	if err := c.rebuildLocked(userID); err != nil {
		return "", err
	}
	return uid, nil
}

// UpdateEvent replaces the item's event, which for a rebuild-on-write export
// is the same as adding it again.
func (c *ICal) UpdateEvent(ctx context.Context, item *domain.Item, userID, _ string) error {
	_, err := c.AddEvent(ctx, item, userID)
	return err
}

// RemoveEvent drops the item from its owner's calendar and rebuilds. Unknown
// items succeed as a no-op.
func (c *ICal) RemoveEvent(_ context.Context, itemID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, ok := c.owners[itemID]
	if !ok {
		return nil
	}
	delete(c.owners, itemID)
	delete(c.events[userID], itemID)
	return c.rebuildLocked(userID)
}

// CalendarPath returns the .ics file location for a user.
func (c *ICal) CalendarPath(userID string) string {
	return filepath.Join(c.dir, userID+"_tdl.ics")
}

func (c *ICal) rebuildLocked(userID string) error {
	var b strings.Builder
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Scout TDL//" + userID + "//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:Scout TDL - " + userID,
		"X-WR-TIMEZONE:America/New_York",
	}

	ids := make([]string, 0, len(c.events[userID]))
	for id := range c.events[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().UTC()
	for _, id := range ids {
		ev := c.events[userID][id]
		day := strings.ReplaceAll(ev.dueDate, "-", "")
		lines = append(lines,
			"BEGIN:VEVENT",
			"UID:"+ev.uid,
			"DTSTAMP:"+now.Format("20060102T150405Z"),
			"CREATED:"+ev.created.UTC().Format("20060102T150405Z"),
			"SUMMARY:"+ev.summary,
			"DESCRIPTION:"+ev.desc,
			"DTSTART;VALUE=DATE:"+day,
			"DTEND;VALUE=DATE:"+day,
			"END:VEVENT",
		)
	}
	lines = append(lines, "END:VCALENDAR")

	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	if err := os.WriteFile(c.CalendarPath(userID), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("ical: write calendar for %s: %w", userID, err)
	}
	return nil
}

// escapeText guards the characters RFC 5545 treats specially in TEXT values.
func escapeText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}
