/**
* Name:         user_handler.go
* Description:  Gin HTTP handlers for the admin API
* Workflow:     login, health check
 */
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"GraderUsageETL/internal/auth"
	"GraderUsageETL/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// LoginRequest is the /login body.
type LoginRequest struct {
	Username string `json:"username" example:"admin"`
	Password string `json:"password" example:"password123"`
}

type ErrorResponse struct {
	Error string `json:"error" example:"reason of the error"`
}

type LoginSuccessResponse struct {
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Running bool   `json:"running" example:"false"`
}

// StatsSource reads warehouse aggregates.
type StatsSource interface {
	TableStats(ctx context.Context) (models.TableStats, error)
}

// RunSource reads the run journal.
type RunSource interface {
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	GetRun(ctx context.Context, id string) (models.Run, error)
}

// Runner executes one ETL run.
type Runner interface {
	RunWithID(ctx context.Context, id string, w models.Window) (models.Run, error)
}

// WindowResolver turns optional START/END strings into a window.
type WindowResolver func(ctx context.Context, start, end string) (models.Window, error)

// Admin is the single API account.
type Admin struct {
	Username     string
	PasswordHash string // bcrypt
}

type Deps struct {
	Issuer  *auth.Issuer
	Admin   Admin
	Stats   StatsSource
	Runs    RunSource
	Runner  Runner
	Resolve WindowResolver
	Hub     *Hub
}

// Handler serves the admin API. Triggered runs execute on ctx, not on the
// request context, so they outlive the request that started them.
type Handler struct {
	deps Deps
	ctx  context.Context
	log  *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(ctx context.Context, deps Deps, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}
	return &Handler{deps: deps, ctx: ctx, log: log}
}

// Wait blocks until every triggered run has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Login godoc
// @Summary      Login
// @Description  Checks the admin credentials and issues a JWT valid for 24 hours.
// @Tags         User
// @Accept       json
// @Produce      json
// @Param        request body handler.LoginRequest true "admin credentials"
// @Success      200 {object} handler.LoginSuccessResponse
// @Failure      400 {object} handler.ErrorResponse "bad request"
// @Failure      401 {object} handler.ErrorResponse "invalid credentials"
// @Failure      500 {object} handler.ErrorResponse "internal error"
// @Router       /login [post]
func (h *Handler) Login(c *gin.Context) {
	var credentials LoginRequest

	rawData, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read request body"})
		return
	}
	if err := json.Unmarshal(rawData, &credentials); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "JSON parsing error: " + err.Error()})
		return
	}

	if credentials.Username == "" || credentials.Password == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}
	if credentials.Username != h.deps.Admin.Username {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.deps.Admin.PasswordHash), []byte(credentials.Password)); err != nil {
		h.log.Warn("failed login", zap.String("username", credentials.Username), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}

	tokenString, err := h.deps.Issuer.GenerateToken(credentials.Username)
	if err != nil {
		h.log.Error("Login(): failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginSuccessResponse{Token: tokenString})
}

// Healthz godoc
// @Summary      Health check
// @Tags         System
// @Produce      json
// @Success      200 {object} handler.HealthResponse
// @Router       /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Running: h.running.Load()})
}
