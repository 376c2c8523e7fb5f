package http

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/safakadir/digital-banking/pkg/middleware"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/utils"
	"github.com/safakadir/digital-banking/services/accounts/internal/domain"
	"github.com/safakadir/digital-banking/services/accounts/internal/service"
	"go.uber.org/zap"
)

type Handler struct {
	service  service.AccountService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(service service.AccountService, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: utils.NewValidator(),
		logger:   logger,
	}
}

func RegisterRoutes(app *fiber.App, h *Handler, jwtSecret string) {
	api := app.Group("/api/v1/accounts", middleware.NewAuthMiddleware(jwtSecret))

	api.Post("/", h.CreateAccount)
	api.Get("/", h.ListAccounts)
	api.Get("/:id", h.GetAccount)
	api.Post("/:id/close", h.CloseAccount)
}

func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	var req domain.CreateAccountRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}

	acc, err := h.service.CreateAccount(c.UserContext(), middleware.UserID(c), req.Name, req.Currency)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(acc)
}

func (h *Handler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.service.ListAccounts(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"accounts": accounts})
}

func (h *Handler) GetAccount(c *fiber.Ctx) error {
	acc, err := h.service.GetAccount(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(acc)
}

func (h *Handler) CloseAccount(c *fiber.Ctx) error {
	var req domain.CloseAccountRequest
	if len(c.Body()) > 0 {
		if err := h.parse(c, &req); err != nil {
			return err
		}
	}

	acc, err := h.service.CloseAccount(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(acc)
}

func (h *Handler) parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"Failed to parse account body",
			zap.Error(err),
		)

		return fiber.NewError(fiber.StatusBadRequest, "error parsing body")
	}

	return h.validate.Struct(out)
}
