package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskhubio/taskhub/internal/domain/task"
	"github.com/taskhubio/taskhub/internal/utils"
)

type TasksRepo struct {
	mu    sync.RWMutex
	items map[string]task.Task
}

func NewTasksRepo() *TasksRepo {
	return &TasksRepo{
		items: make(map[string]task.Task),
	}
}

func (r *TasksRepo) Create(ctx context.Context, req task.CreateTaskRequest, ownerID string) (task.Task, error) {
	t := task.NewFromCreateRequest(req, ownerID)

	r.mu.Lock()
	r.items[t.ID] = t
	r.mu.Unlock()

	return t, nil
}

func (r *TasksRepo) GetByID(ctx context.Context, id string) (task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.items[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}

	return t, nil
}

// sortedByOwner returns the owner's tasks newest first, ties broken by id
// descending, matching the postgres ordering.
func (r *TasksRepo) sortedByOwner(ownerID string, completed *bool) []task.Task {
	out := make([]task.Task, 0)
	for _, t := range r.items {
		if t.OwnerID != ownerID {
			continue
		}
		if completed != nil && t.Completed != *completed {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	return out
}

func (r *TasksRepo) ListByOwner(ctx context.Context, ownerID string, filter task.ListTasksFilter) ([]task.Task, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.sortedByOwner(ownerID, filter.Completed)
	total := len(all)

	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	return all[start:end], total, nil
}

func (r *TasksRepo) ListCursorByOwner(
	ctx context.Context,
	ownerID string,
	filter task.ListTasksFilter,
	afterCreatedAt time.Time,
	afterID string,
) ([]task.Task, *string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.sortedByOwner(ownerID, filter.Completed)

	page := make([]task.Task, 0, filter.Limit)
	for _, t := range all {
		if !afterCreatedAt.IsZero() {
			if t.CreatedAt.After(afterCreatedAt) {
				continue
			}
			if t.CreatedAt.Equal(afterCreatedAt) && t.ID >= afterID {
				continue
			}
		}
		page = append(page, t)
		if len(page) > filter.Limit {
			break
		}
	}

	hasMore := len(page) > filter.Limit
	if hasMore {
		page = page[:filter.Limit]
	}

	var nextCursor *string
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		cur, err := utils.EncodeTaskCursor(last.CreatedAt, last.ID)
		if err != nil {
			return nil, nil, false, err
		}
		nextCursor = &cur
	}

	return page, nextCursor, hasMore, nil
}

func (r *TasksRepo) CountOpenByOwner(ctx context.Context, ownerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, t := range r.items {
		if t.OwnerID == ownerID && !t.Completed {
			count++
		}
	}

	return count, nil
}

func (r *TasksRepo) Update(ctx context.Context, id string, req task.UpdateTaskRequest) (task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[id]
	if !ok {
		return task.Task{}, task.ErrNotFound
	}

	t.Title = req.Title
	t.Description = req.Description
	t.Completed = req.Completed
	t.UpdatedAt = time.Now().UTC()

	r.items[id] = t

	return t, nil
}

func (r *TasksRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return task.ErrNotFound
	}

	delete(r.items, id)

	return nil
}
