package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	integrationdomain "github.com/karipay/toyyibpay-bridge/internal/integration/domain"
	"github.com/karipay/toyyibpay-bridge/internal/toyyibpay"
)

func (s *Server) registerProviderRoutes() {
	group := s.engine.Group("/api/toyyibpay")

	// The provider callback carries no auth of its own. Status values in
	// it are advisory and re-verified against the provider before a
	// terminal transition is trusted upstream.
	group.POST("/webhook/callback", s.handleProviderCallback)

	authed := group.Group("", s.APIKeyRequired())
	authed.POST("/validate-key", s.handleValidateKey)
	authed.POST("/config", s.handleSaveConfig)
	authed.GET("/config/:locationId", s.handleGetConfig)
	authed.PUT("/config/:locationId/mode", s.handleSetMode)
	authed.DELETE("/config/:locationId", s.handleDeleteConfig)
}

type validateKeyRequest struct {
	SecretKey    string `json:"secret_key" binding:"required"`
	CategoryCode string `json:"category_code" binding:"required"`
	Mode         string `json:"mode" binding:"required"`
}

// handleValidateKey creates a throwaway RM1.00 bill to prove the supplied
// credentials work before they are saved.
func (s *Server) handleValidateKey(c *gin.Context) {
	var req validateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	_, _, err := s.gateway.CreateBill(c.Request.Context(), toyyibpay.Credentials{
		SecretKey:    req.SecretKey,
		CategoryCode: req.CategoryCode,
		Mode:         req.Mode,
	}, toyyibpay.CreateBillRequest{
		Name:              "API Key Validation Test",
		Description:       "Test bill for API key validation",
		AmountCents:       100,
		ExternalReference: "validation_test_" + strconv.FormatInt(time.Now().Unix(), 10),
		ReturnURL:         s.cfg.AppBaseURL + "/test",
		CallbackURL:       s.cfg.AppBaseURL + "/test",
		CustomerName:      "Test Customer",
		CustomerEmail:     "test@example.com",
		CustomerPhone:     "0123456789",
	})
	if err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "credential validation failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "credentials validated",
	})
}

func (s *Server) handleSaveConfig(c *gin.Context) {
	var req integrationdomain.ProviderConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	view, err := s.integrationSvc.SaveProviderConfig(c.Request.Context(), locationFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	locationID := c.Param("locationId")
	if locationID != locationFromContext(c) {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	view, err := s.integrationSvc.GetProviderConfig(c.Request.Context(), locationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	locationID := c.Param("locationId")
	if locationID != locationFromContext(c) {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	view, err := s.integrationSvc.SetMode(c.Request.Context(), locationID, req.Mode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeleteConfig(c *gin.Context) {
	locationID := c.Param("locationId")
	if locationID != locationFromContext(c) {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.integrationSvc.DeleteProviderConfig(c.Request.Context(), locationID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
