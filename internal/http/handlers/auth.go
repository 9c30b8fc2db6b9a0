package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/taskhubio/taskhub/internal/auth"
	"github.com/taskhubio/taskhub/internal/config"
	"github.com/taskhubio/taskhub/internal/domain/job"
	"github.com/taskhubio/taskhub/internal/domain/user"
	"github.com/taskhubio/taskhub/internal/http/middlewares"
	"github.com/taskhubio/taskhub/internal/jobs"
	"github.com/taskhubio/taskhub/internal/repo/postgres"
	"github.com/taskhubio/taskhub/internal/security"
)

type UserWriter interface {
	CreateTx(ctx context.Context, tx pgx.Tx, email, passwordHash string) (user.User, error)
}

type JobsCreator interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error)
}

type LoginAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (user.User, error)
}

type AuthHandler struct {
	userWriter UserWriter
	authn      LoginAuthenticator
	jobsRepo   JobsCreator
	jwt        *auth.Manager
	cfg        config.Config
}

func NewAuthHandler(userWriter UserWriter, authn LoginAuthenticator, jobsRepo JobsCreator, jwtManager *auth.Manager, cfg config.Config) *AuthHandler {
	return &AuthHandler{
		userWriter: userWriter,
		authn:      authn,
		jobsRepo:   jobsRepo,
		jwt:        jwtManager,
		cfg:        cfg,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register creates the account and its welcome notification job in one
// transaction, so a crash between the two cannot produce a user who is never
// greeted.
func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	tx, err := h.jobsRepo.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	u, err := h.userWriter.CreateTx(cctx, tx, req.Email, hash)

	if err != nil {
		if errors.Is(err, postgres.ErrEmailAlreadyUsed) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		RespondInternal(ctx, "Could not create user")
		return
	}

	payload := jobs.UserWelcomePayload{
		UserID:      u.ID,
		Email:       u.Email,
		RequestedAt: time.Now().UTC(),
		RequestID:   requestIDFrom(ctx),
	}

	raw, err := payload.JSON()

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	key := "welcome:" + u.ID
	uid := u.ID

	_, err = h.jobsRepo.CreateTx(cctx, tx, job.CreateRequest{
		Type:           jobs.TypeUserWelcome,
		Payload:        raw,
		RunAt:          time.Now().UTC(),
		MaxAttempts:    10,
		IdempotencyKey: &key,
		UserID:         &uid,
	})

	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not create user")
		return
	}

	ctx.JSON(http.StatusCreated, u)
}

// Login trades valid credentials for a bearer token. Unknown email and wrong
// password produce the same response.
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	u, err := h.authn.Authenticate(cctx, req.Email, req.Password)

	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
			return
		}

		RespondInternal(ctx, "Could not log in")
		return
	}

	accessToken, err := h.jwt.Issue(u.ID, u.Email, h.cfg.AccessTTL())

	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
	})
}

// Me returns the account resolved by the auth middleware.
func (h *AuthHandler) Me(ctx *gin.Context) {
	u, ok := middlewares.UserFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	ctx.JSON(http.StatusOK, u)
}
