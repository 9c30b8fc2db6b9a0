package task

import (
	"errors"
	"time"
)

// ErrNotFound covers both "no such task" and "task owned by someone else".
// Callers must not be able to tell the two apart.
var ErrNotFound = errors.New("task not found")

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// with pointers if optional, it will be nil
type ListTasksFilter struct {
	Completed *bool
	Limit     int
	Offset    int
}

type CreateTaskRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200"`
	Description string `json:"description" binding:"omitempty,max=2000"`
	Completed   bool   `json:"completed"`
}

// a full update payload; the owner reference is immutable and never part of it.
type UpdateTaskRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=200"`
	Description string `json:"description" binding:"omitempty,max=2000"`
	Completed   bool   `json:"completed"`
}

// EnsureOwner is the single ownership gate for read/update/delete.
// A mismatch yields ErrNotFound so a caller probing foreign ids sees the
// same outcome as probing ids that do not exist.
func EnsureOwner(t Task, userID string) error {
	if t.OwnerID != userID {
		return ErrNotFound
	}
	return nil
}
