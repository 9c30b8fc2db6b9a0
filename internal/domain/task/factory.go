package task

import (
	"time"

	"github.com/google/uuid"
)

func NewFromCreateRequest(req CreateTaskRequest, ownerID string) Task {
	now := time.Now().UTC()

	return Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
