package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	transactiondomain "github.com/karipay/toyyibpay-bridge/internal/transaction/domain"
	"github.com/karipay/toyyibpay-bridge/internal/transaction/ingress"
)

func (s *Server) registerPaymentRoutes() {
	group := s.engine.Group("/api/payment")

	authed := group.Group("", s.APIKeyRequired())
	authed.POST("/create", s.handleCreatePayment)
	authed.GET("/transactions", s.handleListTransactions)

	group.GET("/status/:billCode", s.handlePaymentStatus)
	group.POST("/status/:billCode/refresh", s.handleRefreshStatus)
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req transactiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// The authenticated location always wins over whatever is in the body.
	req.LocationID = locationFromContext(c)

	resp, err := s.transactionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleListTransactions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	items, err := s.transactionSvc.ListByLocation(c.Request.Context(), locationFromContext(c), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (s *Server) handlePaymentStatus(c *gin.Context) {
	tx, err := s.transactionSvc.GetByBillCode(c.Request.Context(), c.Param("billCode"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bill_code": tx.BillCode,
		"status":    tx.Status,
		"amount":    tx.Amount,
		"currency":  tx.Currency,
	})
}

// handleRefreshStatus re-queries the provider and applies the result. The
// payment status page polls this while the customer waits.
func (s *Server) handleRefreshStatus(c *gin.Context) {
	change, err := s.transactionSvc.RefreshStatus(c.Request.Context(), c.Param("billCode"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bill_code": change.Transaction.BillCode,
		"status":    change.Transaction.Status,
		"changed":   change.Changed,
	})
}

// handleProviderCallback receives ToyyibPay's payment result post. The
// provider retries on non-2xx, so a duplicate or unknown bill still
// acknowledges with a JSON body describing the outcome.
func (s *Server) handleProviderCallback(c *gin.Context) {
	var cb ingress.Callback
	if err := c.ShouldBind(&cb); err != nil {
		AbortWithError(c, ingress.ErrInvalidCallback)
		return
	}

	result, err := s.ingressSvc.HandleCallback(c.Request.Context(), cb)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
