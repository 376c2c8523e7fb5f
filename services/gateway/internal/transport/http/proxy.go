package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var errUpstreamStatus = errors.New("upstream answered with a server error")

type HealthChecker interface {
	Check(ctx context.Context) error
}

// Upstream is one backend service behind the gateway.
type Upstream struct {
	Name    string
	BaseURL string
	Timeout time.Duration
	Health  HealthChecker

	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewUpstream(name, baseURL string, timeout time.Duration, health HealthChecker, logger *zap.Logger) *Upstream {
	return &Upstream{
		Name:    name,
		BaseURL: baseURL,
		Timeout: timeout,
		Health:  health,
		cb:      utils.NewBreaker(name, 10*time.Second, logger),
		logger:  logger,
	}
}

// Forward relays the request unchanged, authorization header included, and
// copies the upstream response back. 5xx answers count against the breaker
// but still reach the caller as sent.
func (u *Upstream) Forward(c *fiber.Ctx) error {
	target := u.BaseURL + c.OriginalURL()

	_, err := utils.ExecuteWithBreaker(u.cb, func() (struct{}, error) {
		if err := proxy.DoTimeout(c, target, u.Timeout); err != nil {
			return struct{}{}, err
		}
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			return struct{}{}, errUpstreamStatus
		}
		return struct{}{}, nil
	})

	switch {
	case err == nil, errors.Is(err, errUpstreamStatus):
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		mylogger.Warn(c.UserContext(), u.logger, "Circuit breaker open", zap.String("upstream", u.Name))

		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "service temporarily unavailable",
		})
	default:
		mylogger.Warn(
			c.UserContext(),
			u.logger,
			"Upstream request failed",
			zap.String("upstream", u.Name),
			zap.String("path", c.Path()),
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "upstream unavailable",
		})
	}
}
