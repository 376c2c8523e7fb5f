package server

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/safakadir/digital-banking/pkg/config"
	"github.com/safakadir/digital-banking/pkg/utils"
	"go.uber.org/zap"
)

// NewHTTPApp builds the fiber app every service exposes: tracing, rate
// limiting, a /health probe and domain-error mapping.
func NewHTTPApp(cfg *config.Config, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.Timeout,
		WriteTimeout:          cfg.HTTP.Timeout,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Burst,
		Expiration: cfg.Limiter.TTL,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString(cfg.ServiceName + " is alive!")
	})

	return app
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "validation failed",
				"fields": utils.FormatValidationError(ve),
			})
		}

		status := utils.HTTPStatus(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
		}

		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
}
