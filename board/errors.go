package board

import "fmt"

// NotFoundError reports an operation against an item id that is not on the board.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ID)
}
