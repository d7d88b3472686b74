// Package api serves the board read model, accepts commands and authorizes
// board channel subscriptions.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmate-sync/broadcast"
	"taskmate-sync/domain"
)

// Options configures the optional parts of the API.
type Options struct {
	// Deduper drops commands whose idempotency key was already accepted.
	Deduper Deduper
	// Events enables the board event stream.
	Events broadcast.Transport
	// Channels enables channel authorization.
	Channels *ChannelSigner
	// EnqueueTimeout bounds command intake. Zero means 10s.
	EnqueueTimeout time.Duration
	// KeepAlive is the event stream heartbeat. Zero means 30s.
	KeepAlive time.Duration
	Logger    *log.Logger
}

type handlers struct {
	store          Storage
	auth           Authenticator
	deduper        Deduper
	events         broadcast.Transport
	channels       *ChannelSigner
	enqueueTimeout time.Duration
	keepAlive      time.Duration
	logger         *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, opts Options) {
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 10 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	h := &handlers{
		store:          store,
		auth:           auth,
		deduper:        opts.Deduper,
		events:         opts.Events,
		channels:       opts.Channels,
		enqueueTimeout: opts.EnqueueTimeout,
		keepAlive:      opts.KeepAlive,
		logger:         opts.Logger,
	}
	e.GET("/healthz", h.healthz)
	e.GET("/api/workspace", h.getWorkspace)
	e.GET("/api/boards/:id", h.getBoard)
	e.POST("/api/commands", h.postCommands)
	e.PUT("/api/user", h.putUser)
	if h.events != nil {
		e.GET("/api/boards/:id/events", h.streamBoard)
		e.POST("/api/boards/:id/events", h.publishBoardEvent)
	}
	if h.channels != nil {
		e.POST("/api/channels/auth", h.channelAuth)
	}
}

// authenticate resolves the caller and records it for request logging.
func (h *handlers) authenticate(c echo.Context) (string, error) {
	userID, err := h.auth.UserIDFromAuthHeader(authHeader(c))
	if err != nil {
		return "", err
	}
	c.Set(userIDContextKey, userID)
	return userID, nil
}

func (h *handlers) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("health check failed")
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) getWorkspace(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	ws, err := h.store.FetchWorkspace(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load workspace").SetInternal(err)
	}
	return c.JSON(http.StatusOK, ws)
}

// loadBoard fetches a board the caller collaborates on.
func (h *handlers) loadBoard(ctx context.Context, userID, boardID string) (domain.Board, error) {
	b, err := h.store.FetchBoard(ctx, boardID)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.Board{}, echo.NewHTTPError(http.StatusNotFound, "board not found")
		}
		return domain.Board{}, echo.NewHTTPError(http.StatusInternalServerError, "failed to load board").SetInternal(err)
	}
	for _, u := range b.Collaborators {
		if u.ID == userID {
			return b, nil
		}
	}
	return domain.Board{}, echo.NewHTTPError(http.StatusForbidden, "not a board collaborator")
}

func (h *handlers) getBoard(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	b, err := h.loadBoard(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *handlers) putUser(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var u domain.User
	if err := c.Bind(&u); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	u.ID = userID
	if err := h.store.UpsertUser(c.Request().Context(), u); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save user").SetInternal(err)
	}
	return c.JSON(http.StatusOK, u)
}

// finalizeCommands assigns missing idempotency keys and server timestamps
// and returns the keys in command order.
func finalizeCommands(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	for i := range cmds {
		if cmds[i].IdempotencyKey == "" {
			cmds[i].IdempotencyKey = uuid.NewString()
		}
		cmds[i].ID = cmds[i].IdempotencyKey
		cmds[i].Timestamp = nextTimestamp()
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}

func (h *handlers) postCommands(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	metrics := newCommandRequestMetrics(h.logger)

	stage := time.Now()
	lr := io.LimitReader(c.Request().Body, postCommandMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	cmds := make([]domain.Command, 0, 4)
	if err := dec.Decode(&cmds); err != nil {
		metrics.SetErrorStage("decode")
		metrics.Log(http.StatusBadRequest, err)
		return c.JSON(http.StatusBadRequest, postCommandResponse{Error: "invalid body"})
	}
	metrics.ObserveDecode(time.Since(stage))
	metrics.SetCounts(len(cmds), 0, 0)
	if len(cmds) == 0 {
		metrics.SetErrorStage("validate")
		metrics.Log(http.StatusBadRequest, nil)
		return c.JSON(http.StatusBadRequest, postCommandResponse{Error: "no commands"})
	}
	for _, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			metrics.SetErrorStage("validate")
			metrics.Log(http.StatusBadRequest, err)
			return c.JSON(http.StatusBadRequest, postCommandResponse{Error: err.Error()})
		}
	}
	ctx := c.Request().Context()
	if err := h.authorizeCommands(ctx, userID, cmds); err != nil {
		code := http.StatusInternalServerError
		msg := "failed to authorize commands"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code, msg = he.Code, fmt.Sprint(he.Message)
		}
		metrics.SetErrorStage("authorize")
		metrics.Log(code, err)
		return c.JSON(code, postCommandResponse{Error: msg})
	}
	keys := finalizeCommands(cmds)

	accepted := cmds
	var (
		fresh      []string
		duplicates []string
	)
	if h.deduper != nil {
		stage = time.Now()
		added, err := h.deduper.Claim(ctx, userID, cmds)
		metrics.ObserveDedupe(time.Since(stage))
		if err != nil {
			h.release(userID, claimed(keys, added))
			metrics.SetErrorStage("dedupe")
			metrics.Log(http.StatusInternalServerError, err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to record commands").SetInternal(err)
		}
		accepted = make([]domain.Command, 0, len(cmds))
		for i, ok := range added {
			if ok {
				accepted = append(accepted, cmds[i])
				fresh = append(fresh, keys[i])
			} else {
				duplicates = append(duplicates, keys[i])
			}
		}
	}
	metrics.SetCounts(len(cmds), len(accepted), len(duplicates))

	if len(accepted) > 0 {
		stage = time.Now()
		enqueueCtx, cancel := context.WithTimeout(ctx, h.enqueueTimeout)
		err := h.store.EnqueueCommands(enqueueCtx, userID, accepted)
		cancel()
		metrics.ObserveEnqueue(time.Since(stage))
		if err != nil {
			h.release(userID, fresh)
			metrics.SetErrorStage("enqueue")
			metrics.Log(http.StatusInternalServerError, err)
			h.logger.WithError(err).WithField("userId", userID).Error("enqueue commands failed")
			return c.JSON(http.StatusInternalServerError, postCommandResponse{Error: "failed to enqueue commands"})
		}
	}
	metrics.Log(http.StatusAccepted, nil)
	return c.JSON(http.StatusAccepted, postCommandResponse{IdempotencyKeys: keys, Duplicates: duplicates})
}

// authorizeCommands requires the caller to collaborate on every board the
// batch addresses. A board created earlier in the same batch is exempt as
// long as its id is not already taken.
func (h *handlers) authorizeCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	allowed := make(map[string]bool)
	for _, cmd := range cmds {
		if id := cmd.CreatedBoardID(); id != "" {
			if _, err := h.loadBoard(ctx, userID, id); err != nil && !isHTTPStatus(err, http.StatusNotFound) {
				return err
			}
			allowed[id] = true
			continue
		}
		boardID := cmd.BoardID()
		if boardID == "" || allowed[boardID] {
			continue
		}
		if _, err := h.loadBoard(ctx, userID, boardID); err != nil {
			return err
		}
		allowed[boardID] = true
	}
	return nil
}

func isHTTPStatus(err error, code int) bool {
	var he *echo.HTTPError
	return errors.As(err, &he) && he.Code == code
}

// release forgets keys so the client can resend their commands.
func (h *handlers) release(userID string, keys []string) {
	if h.deduper == nil || len(keys) == 0 {
		return
	}
	if err := h.deduper.Release(context.Background(), userID, keys...); err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"userId": userID, "keys": len(keys)}).Warn("release idempotency keys")
	}
}

func claimed(keys []string, added []bool) []string {
	var out []string
	for i, ok := range added {
		if ok && i < len(keys) {
			out = append(out, keys[i])
		}
	}
	return out
}
