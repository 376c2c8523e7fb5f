package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/safakadir/digital-banking/pkg/middleware"
	"github.com/safakadir/digital-banking/services/query/internal/domain"
	"github.com/safakadir/digital-banking/services/query/internal/service"
	"go.uber.org/zap"
)

type Handler struct {
	service service.QueryService
	logger  *zap.Logger
}

func NewHandler(service service.QueryService, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func RegisterRoutes(app *fiber.App, h *Handler, jwtSecret string) {
	api := app.Group("/api/v1", middleware.NewAuthMiddleware(jwtSecret))

	api.Get("/balances", h.GetBalances)
	api.Get("/accounts/:id/balance", h.GetBalance)
	api.Get("/accounts/:id/transactions", h.GetTransactions)
}

func (h *Handler) GetBalances(c *fiber.Ctx) error {
	balances, err := h.service.GetBalances(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(domain.BalancesResponse{Balances: balances})
}

func (h *Handler) GetBalance(c *fiber.Ctx) error {
	balance, err := h.service.GetBalance(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(balance)
}

func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	page := domain.NewPage(c.QueryInt("limit", domain.DefaultTransactionsLimit), c.QueryInt("offset"))
	accountID := c.Params("id")

	txs, err := h.service.GetTransactions(c.UserContext(), accountID, middleware.UserID(c), page)
	if err != nil {
		return err
	}

	return c.JSON(domain.TransactionsResponse{
		AccountID:    accountID,
		Transactions: txs,
		Limit:        page.Limit,
		Offset:       page.Offset,
	})
}
