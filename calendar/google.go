package calendar

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/bytedance/sonic"

	"github.com/kimipdb306/scout-tdl/domain"
)

// Google mirrors items into Google Calendar by shelling out to the gog CLI,
// which owns the OAuth session. Each call is one short-lived process.
type Google struct {
	account string
	run     func(ctx context.Context, args ...string) ([]byte, error)
}

// NewGoogle creates a backend for the given gog account.
func NewGoogle(account string) *Google {
	return &Google{
		account: account,
		run:     runGog,
	}
}

func runGog(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "gog", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("gog: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("gog: %w", err)
	}
	return out, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) summary(item *domain.Item) string {
	return fmt.Sprintf("[TDL-%s] %s", item.Priority, item.Title)
}

// AddEvent creates the event and returns the id gog reports.
func (g *Google) AddEvent(ctx context.Context, item *domain.Item, _ string) (string, error) {
	if g.account == "" {
		return "", errors.New("google: no account configured")
	}

	out, err := g.run(ctx,
		"calendar", "create",
		"--summary", g.summary(item),
		"--start", item.DueDate+"T09:00:00",
		"--end", item.DueDate+"T10:00:00",
		"--description", fmt.Sprintf("Task ID: %s\nPriority: %s\n%s", item.ID, item.Priority, item.Description),
		"--account", g.account,
		"--json",
	)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if len(out) > 0 {
		if err := sonic.Unmarshal(out, &created); err != nil {
			return "", fmt.Errorf("google: decode gog output: %w", err)
		}
	}
	if created.ID == "" {
		// Older gog builds print nothing; fall back to the item id so the
		// event stays addressable for update/delete.
		return item.ID, nil
	}
	return created.ID, nil
}

// UpdateEvent rewrites the event in place.
func (g *Google) UpdateEvent(ctx context.Context, item *domain.Item, _ string, externalID string) error {
	if g.account == "" {
		return errors.New("google: no account configured")
	}

	_, err := g.run(ctx,
		"calendar", "update", externalID,
		"--summary", g.summary(item),
		"--start", item.DueDate+"T09:00:00",
		"--end", item.DueDate+"T10:00:00",
		"--account", g.account,
		"--json",
	)
	return err
}

// RemoveEvent deletes the event. Untracked items fall back to the item id,
// matching the id AddEvent reports when gog is silent.
func (g *Google) RemoveEvent(ctx context.Context, itemID, externalID string) error {
	if externalID == "" {
		externalID = itemID
	}
	_, err := g.run(ctx, "calendar", "delete", externalID, "--json")
	return err
}
