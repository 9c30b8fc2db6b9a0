package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

type TaskCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func EncodeTaskCursor(createdAt time.Time, id string) (string, error) {
	b, err := json.Marshal(TaskCursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeTaskCursor(cursor string) (TaskCursor, error) {
	if cursor == "" {
		return TaskCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return TaskCursor{}, err
	}

	var c TaskCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return TaskCursor{}, err
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return TaskCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
