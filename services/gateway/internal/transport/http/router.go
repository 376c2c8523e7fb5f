package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/safakadir/digital-banking/pkg/middleware"
)

type Upstreams struct {
	Accounts *Upstream
	Banking  *Upstream
	Query    *Upstream
}

func (u Upstreams) all() []*Upstream {
	return []*Upstream{u.Accounts, u.Banking, u.Query}
}

// RegisterRoutes rejects unauthenticated calls at the edge and routes the
// rest to the service that owns the path.
func RegisterRoutes(app *fiber.App, u Upstreams, jwtSecret string) {
	app.Get("/health/ready", readiness(u))

	api := app.Group("/api/v1", middleware.NewAuthMiddleware(jwtSecret))

	api.Post("/accounts/:id/deposit", u.Banking.Forward)
	api.Post("/accounts/:id/withdraw", u.Banking.Forward)
	api.Get("/operations/:id", u.Banking.Forward)

	api.Get("/balances", u.Query.Forward)
	api.Get("/accounts/:id/balance", u.Query.Forward)
	api.Get("/accounts/:id/transactions", u.Query.Forward)

	api.Post("/accounts", u.Accounts.Forward)
	api.Get("/accounts", u.Accounts.Forward)
	api.Get("/accounts/:id", u.Accounts.Forward)
	api.Post("/accounts/:id/close", u.Accounts.Forward)
}

func readiness(u Upstreams) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := fiber.StatusOK
		report := make(fiber.Map)
		for _, up := range u.all() {
			if err := up.Health.Check(ctx); err != nil {
				status = fiber.StatusServiceUnavailable
				report[up.Name] = err.Error()
				continue
			}
			report[up.Name] = "SERVING"
		}

		return c.Status(status).JSON(report)
	}
}
