package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/queue"
	mid "github.com/OFFIS-RIT/kinship/internal/server/middleware"
	"github.com/OFFIS-RIT/kinship/internal/services"
	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance serving every route on app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := services.Open(ctx, services.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Failed to open services", "err", err)
	}
	defer svc.Close()

	app := &mid.App{
		Traversal: svc.Traversal,
		Scoring:   svc.Scoring,
		Reasoning: svc.Reasoning,
		APIKey:    util.GetEnv("API_KEY"),
	}

	qcfg := queue.ConfigFromEnv()
	que, err := queue.Dial(qcfg)
	if err != nil {
		logger.Error("Job queue unavailable, background routes disabled", "err", err)
	} else {
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues, qcfg.RetryDelay); err != nil {
			logger.Fatal("Failed to setup queues", "err", err)
		}
		app.Queue = ch
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
