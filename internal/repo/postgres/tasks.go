package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhubio/taskhub/internal/domain/task"
	"github.com/taskhubio/taskhub/internal/observability"
	"github.com/taskhubio/taskhub/internal/utils"
)

type TasksRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTasksRepo(pool *pgxpool.Pool, prom *observability.Prom) *TasksRepo {
	return &TasksRepo{pool: pool, prom: prom}
}

func (r *TasksRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *TasksRepo) Create(ctx context.Context, req task.CreateTaskRequest, ownerID string) (task.Task, error) {
	t := task.NewFromCreateRequest(req, ownerID)

	err := r.observe("tasks.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO tasks (id, title, description, completed, owner_id, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			t.ID, t.Title, t.Description, t.Completed, t.OwnerID, t.CreatedAt, t.UpdatedAt)
		return err
	})

	if err != nil {
		return task.Task{}, err
	}

	return t, nil
}

func (r *TasksRepo) GetByID(ctx context.Context, id string) (task.Task, error) {
	var t task.Task

	err := r.observe("tasks.get_by_id", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, title, description, completed, owner_id, created_at, updated_at
			 FROM tasks
			 WHERE id = $1`, id).Scan(
			&t.ID, &t.Title, &t.Description, &t.Completed, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}

		return task.Task{}, err
	}

	return t, nil
}

// ListByOwner scopes at the query boundary: rows of other owners never leave
// the database.
func (r *TasksRepo) ListByOwner(ctx context.Context, ownerID string, filter task.ListTasksFilter) ([]task.Task, int, error) {
	baseQuery := `SELECT id,
		title,
		description,
		completed,
		owner_id,
		created_at,
		updated_at,
		COUNT(*) OVER() AS total
	FROM tasks
	`

	conds := []string{"owner_id = $1"}
	args := []interface{}{ownerID}

	argsPosition := 2

	if filter.Completed != nil {
		conds = append(conds, fmt.Sprintf("completed = $%d", argsPosition))
		args = append(args, *filter.Completed)
		argsPosition++
	}

	query := baseQuery + " WHERE " + strings.Join(conds, " AND ")

	// stable ordering for pagination
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argsPosition, argsPosition+1)

	args = append(args, filter.Limit, filter.Offset)

	var rows pgx.Rows

	err := r.observe("tasks.list_by_owner", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, query, args...)
		return qerr
	})

	if err != nil {
		return nil, 0, err
	}

	defer rows.Close()

	output := make([]task.Task, 0, filter.Limit)
	total := 0

	for rows.Next() {
		var t task.Task
		var n int

		err = rows.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt, &n)

		if err != nil {
			return nil, 0, err
		}

		total = n
		output = append(output, t)
	}

	err = rows.Err()

	if err != nil {
		return nil, 0, err
	}

	return output, total, nil
}

// ListCursorByOwner is the keyset variant: rows strictly older than the
// cursor position, newest first.
func (r *TasksRepo) ListCursorByOwner(
	ctx context.Context,
	ownerID string,
	filter task.ListTasksFilter,
	afterCreatedAt time.Time,
	afterID string,
) (items []task.Task, nextCursor *string, hasMore bool, err error) {
	conds := []string{"owner_id = $1"}
	args := []interface{}{ownerID}
	argsPosition := 2

	if filter.Completed != nil {
		conds = append(conds, fmt.Sprintf("completed = $%d", argsPosition))
		args = append(args, *filter.Completed)
		argsPosition++
	}

	conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", argsPosition, argsPosition+1))
	args = append(args, afterCreatedAt, afterID)
	argsPosition += 2

	query := `SELECT id, title, description, completed, owner_id, created_at, updated_at
	FROM tasks
	WHERE ` + strings.Join(conds, " AND ")

	limitPlusOne := filter.Limit + 1
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argsPosition)
	args = append(args, limitPlusOne)

	var rows pgx.Rows

	err = r.observe("tasks.list_cursor_by_owner", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, query, args...)
		return qerr
	})

	if err != nil {
		return nil, nil, false, err
	}

	defer rows.Close()

	out := make([]task.Task, 0, filter.Limit)

	for rows.Next() {
		var t task.Task

		if scanErr := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); scanErr != nil {
			return nil, nil, false, scanErr
		}

		out = append(out, t)
	}

	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > filter.Limit {
		hasMore = true
		out = out[:filter.Limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeTaskCursor(last.CreatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

// CountOpenByOwner backs the digest job.
func (r *TasksRepo) CountOpenByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int

	err := r.observe("tasks.count_open_by_owner", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM tasks WHERE owner_id = $1 AND completed = FALSE`,
			ownerID).Scan(&n)
	})

	if err != nil {
		return 0, err
	}

	return n, nil
}

func (r *TasksRepo) Update(ctx context.Context, id string, req task.UpdateTaskRequest) (task.Task, error) {
	var t task.Task

	err := r.observe("tasks.update", func() error {
		return r.pool.QueryRow(
			ctx,
			`UPDATE tasks
				SET title = $2,
					description = $3,
					completed = $4,
					updated_at = NOW()
			WHERE id = $1
			RETURNING id, title, description, completed, owner_id, created_at, updated_at`,
			id,
			req.Title,
			req.Description,
			req.Completed,
		).Scan(
			&t.ID,
			&t.Title,
			&t.Description,
			&t.Completed,
			&t.OwnerID,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Task{}, task.ErrNotFound
		}

		return task.Task{}, err
	}

	return t, nil
}

func (r *TasksRepo) Delete(ctx context.Context, id string) error {
	var affected int64

	err := r.observe("tasks.delete", func() error {
		tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)

		if err != nil {
			return err
		}

		affected = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return err
	}

	if affected == 0 {
		return task.ErrNotFound
	}

	return nil
}
