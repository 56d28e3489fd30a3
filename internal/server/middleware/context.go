package middleware

import (
	"github.com/OFFIS-RIT/kinship/internal/queue"
	"github.com/OFFIS-RIT/kinship/pkg/reasoning"
	"github.com/OFFIS-RIT/kinship/pkg/scoring"
	"github.com/OFFIS-RIT/kinship/pkg/traversal"

	"github.com/labstack/echo/v4"
)

type App struct {
	Traversal *traversal.Service
	Scoring   *scoring.Engine
	Reasoning *reasoning.Service
	// Queue receives background jobs. Job routes answer 503 while it is nil.
	Queue queue.Publisher
	// APIKey guards /api when set.
	APIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
