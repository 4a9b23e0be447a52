package api

import (
	"github.com/kimipdb306/scout-tdl/domain"
)

const writeBodyMaxSize = 64 * 1024 // 64 KiB

// Syncer receives the calendar side effects of board mutations. Calls must
// never block on backend I/O.
type Syncer interface {
	DispatchAdd(item *domain.Item, userID string)
	DispatchUpdate(item *domain.Item, userID string)
	DispatchRemove(itemID string)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

type createItemRequest struct {
	Title       string   `json:"title"`
	Priority    string   `json:"priority"`
	DueDate     string   `json:"due_date"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type updateItemRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	DueDate     *string   `json:"due_date"`
	Tags        *[]string `json:"tags"`
	Priority    *string   `json:"priority"`
	Status      *string   `json:"status"`
}

type moveItemRequest struct {
	Status string `json:"status"`
}

type boardResponse struct {
	Todo       []*domain.Item `json:"todo"`
	InProgress []*domain.Item `json:"in_progress"`
	Review     []*domain.Item `json:"review"`
	Done       []*domain.Item `json:"done"`
}

type itemsResponse struct {
	Items []*domain.Item `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type boardStatsResponse struct {
	TodoCount             int          `json:"todo_count"`
	InProgressCount       int          `json:"in_progress_count"`
	ReviewCount           int          `json:"review_count"`
	DoneCount             int          `json:"done_count"`
	TotalItems            int          `json:"total_items"`
	TopPriorityTodo       *domain.Item `json:"top_priority_todo"`
	TopPriorityInProgress *domain.Item `json:"top_priority_in_progress"`
}

type historyResponse struct {
	Items []*domain.Item         `json:"items"`
	Total int                    `json:"total"`
	Stats domain.CompletionStats `json:"stats"`
}
