package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskhubio/taskhub/internal/cache"
	"github.com/taskhubio/taskhub/internal/config"
	"github.com/taskhubio/taskhub/internal/domain/job"
	"github.com/taskhubio/taskhub/internal/domain/task"
	"github.com/taskhubio/taskhub/internal/http/middlewares"
	"github.com/taskhubio/taskhub/internal/jobs"
	"github.com/taskhubio/taskhub/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type TasksStore interface {
	Create(ctx context.Context, req task.CreateTaskRequest, ownerID string) (task.Task, error)
	GetByID(ctx context.Context, id string) (task.Task, error)
	ListByOwner(ctx context.Context, ownerID string, filter task.ListTasksFilter) ([]task.Task, int, error)
	ListCursorByOwner(ctx context.Context, ownerID string, filter task.ListTasksFilter, afterCreatedAt time.Time, afterID string) ([]task.Task, *string, bool, error)
	Update(ctx context.Context, id string, req task.UpdateTaskRequest) (task.Task, error)
	Delete(ctx context.Context, id string) error
}

type DigestEnqueuer interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (job.Job, error)
}

type TasksHandler struct {
	repo      TasksStore
	jobsRepo  DigestEnqueuer
	listCache *cache.Cache
}

func NewTasksHandler(repo TasksStore, jobsRepo DigestEnqueuer, listCache *cache.Cache) *TasksHandler {
	return &TasksHandler{repo: repo, jobsRepo: jobsRepo, listCache: listCache}
}

func (h *TasksHandler) invalidateListCache(ownerID string) {
	if h.listCache != nil {
		h.listCache.DeletePrefix("tasks:list:v1:owner=" + ownerID)
	}
}

func (h *TasksHandler) Create(ctx *gin.Context) {
	var req task.CreateTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || ownerID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	t, err := h.repo.Create(cctx, req, ownerID)

	if err != nil {
		RespondInternal(ctx, "Could not create task")
		return
	}

	h.invalidateListCache(ownerID)

	ctx.JSON(http.StatusCreated, t)
}

// List serves only the caller's tasks. Cursor pagination wins when both a
// cursor and an offset are supplied.
func (h *TasksHandler) List(ctx *gin.Context) {
	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || ownerID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	filter, ok := parseListFilter(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if cursor := ctx.Query("cursor"); cursor != "" {
		c, err := utils.DecodeTaskCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "cursor must be a value returned by a previous page", nil)
			return
		}

		items, nextCursor, hasMore, err := h.repo.ListCursorByOwner(cctx, ownerID, filter, c.CreatedAt, c.ID)
		if err != nil {
			RespondInternal(ctx, "Could not list tasks")
			return
		}

		RespondJSONWithETag(ctx, http.StatusOK, gin.H{
			"items":      items,
			"count":      len(items),
			"nextCursor": nextCursor,
			"hasMore":    hasMore,
		})
		return
	}

	key := utils.BuildTasksListCacheKey(ownerID, filter.Limit, filter.Offset, filter.Completed)

	if h.listCache != nil {
		if cached, ok := h.listCache.Get(key); ok {
			RespondJSONWithETag(ctx, http.StatusOK, cached)
			return
		}
	}

	items, total, err := h.repo.ListByOwner(cctx, ownerID, filter)

	if err != nil {
		RespondInternal(ctx, "Could not list tasks")
		return
	}

	payload := gin.H{
		"items":  items,
		"count":  len(items),
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	}

	if h.listCache != nil {
		h.listCache.Set(key, payload)
	}

	RespondJSONWithETag(ctx, http.StatusOK, payload)
}

// getOwned loads a task and hides it when the caller is not its owner.
func (h *TasksHandler) getOwned(ctx *gin.Context, cctx context.Context, id, ownerID string) (task.Task, bool) {
	t, err := h.repo.GetByID(cctx, id)

	if err == nil {
		err = task.EnsureOwner(t, ownerID)
	}

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
		} else {
			RespondInternal(ctx, "Could not fetch task")
		}
		return task.Task{}, false
	}

	return t, true
}

func (h *TasksHandler) Get(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "task id must be a valid UUID", nil)
		return
	}

	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || ownerID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	t, ok := h.getOwned(ctx, cctx, id, ownerID)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, t)
}

func (h *TasksHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "task id must be a valid UUID", nil)
		return
	}

	var req task.UpdateTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || ownerID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if _, ok := h.getOwned(ctx, cctx, id, ownerID); !ok {
		return
	}

	updated, err := h.repo.Update(cctx, id, req)

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}

		RespondInternal(ctx, "Could not update task")
		return
	}

	h.invalidateListCache(ownerID)

	ctx.JSON(http.StatusOK, updated)
}

func (h *TasksHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "task id must be a valid UUID", nil)
		return
	}

	ownerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || ownerID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if _, ok := h.getOwned(ctx, cctx, id, ownerID); !ok {
		return
	}

	if err := h.repo.Delete(cctx, id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}

		RespondInternal(ctx, "Could not delete task")
		return
	}

	h.invalidateListCache(ownerID)

	ctx.Status(http.StatusNoContent)
}

// Digest enqueues a per-user summary job. One digest per user per UTC day;
// repeated calls return the already queued job.
func (h *TasksHandler) Digest(ctx *gin.Context) {
	u, ok := middlewares.UserFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	now := time.Now().UTC()
	key := "digest:" + u.ID + ":" + now.Format("2006-01-02")

	if existing, err := h.jobsRepo.GetByIdempotencyKey(cctx, key); err == nil {
		ctx.JSON(http.StatusAccepted, gin.H{
			"jobId":  existing.ID,
			"status": existing.Status,
		})
		return
	} else if !errors.Is(err, job.ErrJobNotFound) {
		RespondInternal(ctx, "Could not request digest")
		return
	}

	payload := jobs.TaskDigestPayload{
		UserID:      u.ID,
		Email:       u.Email,
		RequestedAt: now,
		RequestID:   requestIDFrom(ctx),
	}

	raw, err := payload.JSON()

	if err != nil {
		RespondInternal(ctx, "Could not request digest")
		return
	}

	uid := u.ID

	j, err := h.jobsRepo.Create(cctx, job.CreateRequest{
		Type:           jobs.TypeTaskDigest,
		Payload:        raw,
		RunAt:          now,
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	})

	if err != nil {
		RespondInternal(ctx, "Could not request digest")
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"jobId":  j.ID,
		"status": j.Status,
	})
}

func parseListFilter(ctx *gin.Context) (task.ListTasksFilter, bool) {
	filter := task.ListTasksFilter{Limit: defaultPageSize}

	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			RespondBadRequest(ctx, "limit must be a positive integer", nil)
			return filter, false
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		filter.Limit = n
	}

	if raw := ctx.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondBadRequest(ctx, "offset must be a non-negative integer", nil)
			return filter, false
		}
		filter.Offset = n
	}

	if raw := ctx.Query("completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondBadRequest(ctx, "completed must be true or false", nil)
			return filter, false
		}
		filter.Completed = &v
	}

	return filter, true
}
