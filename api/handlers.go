package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-sync/cache"
	"task-sync/domain"
	"task-sync/syncer"
)

// Authenticator resolves an Authorization header into an actor identity.
type Authenticator interface {
	IdentityFromAuthHeader(string) (Identity, error)
}

const requestBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, sessions *Sessions, auth Authenticator, broker *AlertBroker, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(sessions, auth, logger))
	e.POST("/api/tasks", postTask(sessions, auth))
	e.POST("/api/tasks/:id/status", postTaskStatus(sessions, auth))
	e.PATCH("/api/tasks/:id", patchTask(sessions, auth))
	e.DELETE("/api/tasks/:id", deleteTask(sessions, auth))
	e.GET("/api/notifications", getNotifications(sessions, auth))
	e.PATCH("/api/notifications/:id/read", markNotificationRead(sessions, auth))
	e.POST("/api/notifications/read-all", markAllNotificationsRead(sessions, auth))
	e.GET("/api/stream", streamAlerts(auth, broker))
	e.GET("/healthz", healthz())
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type notificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadExists  bool                  `json:"unreadExists"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(sessions *Sessions, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		identity, authErr := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		scope := c.QueryParam("scope")
		force := c.QueryParam("force") == "true"
		metrics.SetScope(scope)
		metrics.SetForceRefresh(force)

		fetchStart := time.Now()
		tasks, fetchErr := sessions.Coordinator(identity.UserID).Tasks(ctx, scope, force)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("fetch")
			c.Logger().Error(fetchErr)
			if errors.Is(fetchErr, cache.ErrFetchFailed) {
				err = c.String(http.StatusBadGateway, "task fetch failed")
			} else {
				err = c.String(http.StatusInternalServerError, fetchErr.Error())
			}
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTask(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var task domain.Task
		if err := decodeBody(c, &task); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		created, err := sessions.Coordinator(identity.UserID).CreateTask(c.Request().Context(), c.QueryParam("scope"), task)
		if err != nil {
			if errors.Is(err, syncer.ErrMutationFailed) {
				c.Logger().Error(err)
				return c.String(http.StatusBadGateway, "task creation failed")
			}
			return c.String(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusCreated, created)
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

func postTaskStatus(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req statusRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		task, err := sessions.Coordinator(identity.UserID).ChangeStatus(c.Request().Context(), c.Param("id"), identity.Role, status)
		if err != nil {
			return mutationError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

type editRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
}

func patchTask(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req editRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		changes := domain.TaskChanges{Title: req.Title, Description: req.Description}
		if req.Priority != nil {
			priority, err := domain.ParsePriority(*req.Priority)
			if err != nil {
				return c.String(http.StatusBadRequest, err.Error())
			}
			changes.Priority = &priority
		}
		task, err := sessions.Coordinator(identity.UserID).EditTask(c.Request().Context(), c.Param("id"), identity.Role, changes)
		if err != nil {
			return mutationError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := sessions.Coordinator(identity.UserID).DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
			return mutationError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getNotifications(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		co := sessions.Coordinator(identity.UserID)
		if c.QueryParam("refresh") == "true" {
			if err := co.RefreshNotifications(c.Request().Context()); err != nil {
				c.Logger().Error(err)
				return c.String(http.StatusBadGateway, "notification fetch failed")
			}
		}
		return c.JSON(http.StatusOK, notificationsResponse{
			Notifications: co.Notifications(),
			UnreadExists:  co.UnreadExists(),
		})
	}
}

func markNotificationRead(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sessions.Coordinator(identity.UserID).MarkNotificationRead(c.Request().Context(), c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}

func markAllNotificationsRead(sessions *Sessions, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := auth.IdentityFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		sessions.Coordinator(identity.UserID).MarkAllNotificationsRead(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
}

func streamAlerts(auth Authenticator, broker *AlertBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		identity, err := auth.IdentityFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch := broker.subscribe(identity.UserID)
		defer broker.unsubscribe(identity.UserID, ch)

		if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-ch:
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return err
				}
				if _, err := c.Response().Write(data); err != nil {
					return err
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// mutationError maps coordinator failures onto HTTP statuses. A local policy
// rejection never reached the network, so it reports the caller's fault; a
// backend rejection reports the upstream's.
func mutationError(c echo.Context, err error) error {
	var transitionErr *domain.TransitionError
	switch {
	case errors.Is(err, syncer.ErrUnknownTask):
		return c.String(http.StatusNotFound, "unknown task")
	case errors.As(err, &transitionErr):
		return c.String(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrEditForbidden):
		return c.String(http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrStatusEdit):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, syncer.ErrMutationFailed):
		c.Logger().Error(err)
		return c.String(http.StatusBadGateway, "mutation rejected")
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}
