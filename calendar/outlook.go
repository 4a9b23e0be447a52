package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/kimipdb306/scout-tdl/domain"
)

const defaultGraphEndpoint = "https://graph.microsoft.com/v1.0"

var errNotAuthenticated = errors.New("outlook: not authenticated")

// Outlook mirrors items into an Outlook calendar through the Microsoft Graph
// API. Events are one-hour morning blocks on the due date with a 24h reminder.
type Outlook struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewOutlook creates a backend using the given Graph access token. An empty
// endpoint selects the public Graph API.
func NewOutlook(token, endpoint string) *Outlook {
	if endpoint == "" {
		endpoint = defaultGraphEndpoint
	}
	return &Outlook{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (o *Outlook) Name() string { return "outlook" }

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphEvent struct {
	Subject                    string        `json:"subject"`
	Start                      graphDateTime `json:"start"`
	End                        graphDateTime `json:"end"`
	Body                       graphBody     `json:"body"`
	Categories                 []string      `json:"categories,omitempty"`
	IsReminderOn               bool          `json:"isReminderOn,omitempty"`
	ReminderMinutesBeforeStart int           `json:"reminderMinutesBeforeStart,omitempty"`
}

func (o *Outlook) event(item *domain.Item) graphEvent {
	return graphEvent{
		Subject: fmt.Sprintf("[TDL-%s] %s", item.Priority, item.Title),
		Start:   graphDateTime{DateTime: item.DueDate + "T09:00:00", TimeZone: "Eastern Standard Time"},
		End:     graphDateTime{DateTime: item.DueDate + "T10:00:00", TimeZone: "Eastern Standard Time"},
		Body: graphBody{
			ContentType: "HTML",
			Content: fmt.Sprintf("<p><b>Task ID:</b> %s</p><p><b>Priority:</b> %s</p><p><b>Status:</b> %s</p><p>%s</p>",
				item.ID, item.Priority, item.Status, item.Description),
		},
		Categories:                 []string{"TDL", item.Priority.String()},
		IsReminderOn:               true,
		ReminderMinutesBeforeStart: 1440,
	}
}

// AddEvent creates the calendar event and returns the Graph event id.
func (o *Outlook) AddEvent(ctx context.Context, item *domain.Item, _ string) (string, error) {
	if o.token == "" {
		return "", errNotAuthenticated
	}

	payload, err := sonic.Marshal(o.event(item))
	if err != nil {
		return "", fmt.Errorf("outlook: encode event: %w", err)
	}

	resp, err := o.do(ctx, http.MethodPost, o.endpoint+"/me/events", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", graphError(resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("outlook: decode response: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("outlook: response missing event id")
	}
	return created.ID, nil
}

// UpdateEvent rewrites the tracked event in place.
func (o *Outlook) UpdateEvent(ctx context.Context, item *domain.Item, _ string, externalID string) error {
	if o.token == "" {
		return errNotAuthenticated
	}

	payload, err := sonic.Marshal(o.event(item))
	if err != nil {
		return fmt.Errorf("outlook: encode event: %w", err)
	}

	resp, err := o.do(ctx, http.MethodPatch, o.endpoint+"/me/events/"+externalID, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return graphError(resp)
	}
	return nil
}

// RemoveEvent deletes the tracked event. Items the backend never synced are
// skipped without error.
func (o *Outlook) RemoveEvent(ctx context.Context, _ string, externalID string) error {
	if externalID == "" {
		return nil
	}
	if o.token == "" {
		return errNotAuthenticated
	}

	resp, err := o.do(ctx, http.MethodDelete, o.endpoint+"/me/events/"+externalID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return graphError(resp)
	}
	return nil
}

func (o *Outlook) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("outlook: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("outlook: %w", err)
	}
	return resp, nil
}

func graphError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("outlook: graph API error: %d %s", resp.StatusCode, bytes.TrimSpace(snippet))
}
