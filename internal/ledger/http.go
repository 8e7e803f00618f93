package ledger

import (
	"net/http"
	"time"

	"github.com/ardabaev/cloudhost/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RegisterRoutes mounts billing endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	billing := group.Group("/billing")
	{
		billing.GET("/balance", handler.balance)
		billing.POST("/deposit", handler.deposit)
		billing.GET("/history", handler.history)
		billing.GET("/audit", handler.audit)
	}
}

type httpHandler struct {
	service *Service
}

type depositRequest struct {
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Description string  `json:"description" binding:"omitempty,max=255"`
}

type entryResponse struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	Type          string    `json:"type"`
	Description   string    `json:"description"`
	BalanceBefore float64   `json:"balance_before"`
	BalanceAfter  float64   `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:            e.ID.String(),
		Amount:        e.Amount.InexactFloat64(),
		Type:          string(e.Type),
		Description:   e.Description,
		BalanceBefore: e.BalanceBefore.InexactFloat64(),
		BalanceAfter:  e.BalanceAfter.InexactFloat64(),
		CreatedAt:     e.CreatedAt,
	}
}

func (h *httpHandler) balance(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance.InexactFloat64()})
}

func (h *httpHandler) deposit(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.Deposit(c.Request.Context(), userID, decimal.NewFromFloat(req.Amount), req.Description)
	if err != nil {
		switch err {
		case ErrInvalidAmount:
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deposit"})
		}
		return
	}

	c.JSON(http.StatusCreated, toEntryResponse(entry))
}

func (h *httpHandler) history(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	entries, err := h.service.History(c.Request.Context(), userID, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list history"})
		return
	}

	responses := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		responses = append(responses, toEntryResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"entries": responses})
}

func (h *httpHandler) audit(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.service.Audit(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"status": "mismatch", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
