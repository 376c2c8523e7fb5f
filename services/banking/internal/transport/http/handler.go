package http

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/safakadir/digital-banking/pkg/middleware"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/utils"
	"github.com/safakadir/digital-banking/services/banking/internal/domain"
	"github.com/safakadir/digital-banking/services/banking/internal/service"
	"go.uber.org/zap"
)

const idempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	service  service.BankingService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(service service.BankingService, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: utils.NewValidator(),
		logger:   logger,
	}
}

func RegisterRoutes(app *fiber.App, h *Handler, jwtSecret string) {
	api := app.Group("/api/v1", middleware.NewAuthMiddleware(jwtSecret))

	api.Post("/accounts/:id/deposit", h.Deposit)
	api.Post("/accounts/:id/withdraw", h.Withdraw)
	api.Get("/operations/:id", h.GetOperation)
}

func (h *Handler) Deposit(c *fiber.Ctx) error {
	req, err := h.operationRequest(c)
	if err != nil {
		return err
	}

	op, err := h.service.ProcessDeposit(c.UserContext(), *req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(domain.NewOperationAccepted(op))
}

func (h *Handler) Withdraw(c *fiber.Ctx) error {
	req, err := h.operationRequest(c)
	if err != nil {
		return err
	}

	op, err := h.service.ProcessWithdraw(c.UserContext(), *req)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(domain.NewOperationAccepted(op))
}

func (h *Handler) GetOperation(c *fiber.Ctx) error {
	op, err := h.service.GetOperation(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(domain.NewOperationView(op))
}

func (h *Handler) operationRequest(c *fiber.Ctx) (*domain.OperationRequest, error) {
	var body domain.MoneyRequest
	if err := c.BodyParser(&body); err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"Failed to parse operation body",
			zap.Error(err),
		)

		return nil, fiber.NewError(fiber.StatusBadRequest, "error parsing body")
	}

	if err := h.validate.Struct(body); err != nil {
		return nil, err
	}

	return &domain.OperationRequest{
		AccountID:      c.Params("id"),
		UserID:         middleware.UserID(c),
		Amount:         body.Amount,
		Description:    body.Description,
		IdempotencyKey: c.Get(idempotencyKeyHeader),
	}, nil
}
