package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kinship/internal/queue"
	"github.com/OFFIS-RIT/kinship/internal/server/middleware"
	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type errorBody struct {
	Error string           `json:"error"`
	Kind  common.ErrorKind `json:"kind,omitempty"`
}

func appOf(c echo.Context) *middleware.App {
	return c.(*middleware.AppContext).App
}

// statusOf maps service error kinds onto HTTP status codes.
func statusOf(err error) int {
	switch common.KindOf(err) {
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindUnavailable:
		return http.StatusServiceUnavailable
	case common.KindOverloaded:
		return http.StatusRequestEntityTooLarge
	case common.KindInvalidParameter:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "err", err)
	}
	return c.JSON(status, errorBody{Error: err.Error(), Kind: common.KindOf(err)})
}

// bind decodes path, query and body parameters into req and validates it.
func bind(c echo.Context, op string, req any) error {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return common.InvalidParameter(op, "%v", he.Message)
		}
		return common.InvalidParameter(op, "%v", err)
	}
	if err := c.Validate(req); err != nil {
		return common.InvalidParameter(op, "%v", err)
	}
	return nil
}

type jobAccepted struct {
	CorrelationID string `json:"correlation_id"`
	Queue         string `json:"queue"`
}

// enqueue publishes msg built for a fresh correlation id and answers 202.
func enqueue(c echo.Context, queueName string, build func(id string) any) error {
	app := appOf(c)
	if app.Queue == nil {
		return fail(c, common.Unavailable("enqueue", errors.New("job queue is not configured")))
	}

	id, err := gonanoid.New()
	if err != nil {
		return fail(c, err)
	}
	if err := queue.PublishJSON(c.Request().Context(), app.Queue, queueName, build(id)); err != nil {
		return fail(c, common.Unavailable("enqueue", err))
	}
	logger.Debug("[Server] Job enqueued", "queue", queueName, "correlation_id", id)
	return c.JSON(http.StatusAccepted, jobAccepted{CorrelationID: id, Queue: queueName})
}
