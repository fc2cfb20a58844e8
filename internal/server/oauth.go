package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/karipay/toyyibpay-bridge/internal/ghl"
	integrationdomain "github.com/karipay/toyyibpay-bridge/internal/integration/domain"
)

func (s *Server) registerOAuthRoutes() {
	s.engine.GET("/oauth/callback", s.handleOAuthCallback)
}

func (s *Server) registerGHLRoutes() {
	group := s.engine.Group("/api/ghl")
	group.POST("/provider/register", s.handleRegisterProvider)

	authed := group.Group("", s.SSOKeyRequired())
	authed.POST("/connect-keys", s.handleConnectKeys)
	authed.POST("/webhook/install", s.handleInstallWebhook)
	authed.POST("/webhook/uninstall", s.handleUninstallWebhook)
	authed.GET("/query", s.handleQuery)
}

// handleOAuthCallback finishes the marketplace OAuth dance. It trades the
// code for tokens, records the install, and bounces the user to the
// install result page.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		s.redirectInstallFailure(c, "missing authorization code")
		return
	}

	ctx := c.Request.Context()
	token, err := s.ghlClient.ExchangeCode(ctx, code)
	if err != nil {
		s.log.Warn("oauth code exchange failed", zap.Error(err))
		s.redirectInstallFailure(c, "code exchange failed")
		return
	}

	locationID := strings.TrimSpace(token.LocationID)
	companyID := strings.TrimSpace(token.CompanyID)

	// Agency installs carry no locationId in the token response. Fall
	// back to the first installed location.
	if locationID == "" && companyID != "" {
		locations, err := s.ghlClient.GetInstalledLocations(ctx, token.AccessToken, companyID, s.cfg.GHL.ClientID)
		if err == nil && len(locations) > 0 {
			locationID = locations[0].ID
		}
	}
	if locationID == "" {
		s.redirectInstallFailure(c, "location not found")
		return
	}

	install, err := s.integrationSvc.Install(ctx, integrationdomain.InstallRequest{
		LocationID:   locationID,
		CompanyID:    companyID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	})
	if err != nil {
		s.log.Error("install failed", zap.String("location_id", locationID), zap.Error(err))
		s.redirectInstallFailure(c, "install failed")
		return
	}

	// Provider registration is best effort here. The merchant can retry
	// it from the config screen.
	if err := s.registerProviderForLocation(c, locationID, token.AccessToken, install.APIKey); err != nil {
		s.log.Warn("provider registration deferred",
			zap.String("location_id", locationID),
			zap.Error(err),
		)
	}

	c.Redirect(http.StatusFound, s.cfg.AppBaseURL+"/install-success?location_id="+url.QueryEscape(locationID))
}

func (s *Server) redirectInstallFailure(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, s.cfg.AppBaseURL+"/install-failure?error="+url.QueryEscape(reason))
}

func (s *Server) registerProviderForLocation(c *gin.Context, locationID, accessToken, apiKey string) error {
	ctx := c.Request.Context()

	err := s.ghlClient.RegisterPaymentProvider(ctx, accessToken, locationID, ghl.ProviderRegistration{
		Name:        "ToyyibPay",
		Description: "Accept FPX and card payments in Malaysia via ToyyibPay.",
		PaymentsURL: s.cfg.AppBaseURL + "/payment",
		QueryURL:    s.cfg.AppBaseURL + "/api/ghl/query",
	})
	if err != nil {
		return err
	}

	err = s.ghlClient.SendConnectKeys(ctx, accessToken, locationID, ghl.ConnectKeys{
		Live: ghl.KeyPair{APIKey: apiKey, PublishableKey: apiKey},
		Test: ghl.KeyPair{APIKey: apiKey, PublishableKey: apiKey},
	})
	if err != nil {
		return err
	}

	return s.integrationSvc.MarkProviderRegistered(ctx, locationID)
}

// freshAccessToken returns a usable access token for a location, refreshing
// and persisting the pair first when the stored one is expired.
func (s *Server) freshAccessToken(c *gin.Context, locationID string) (string, error) {
	ctx := c.Request.Context()

	creds, err := s.integrationSvc.GetCredentials(ctx, locationID)
	if err != nil {
		return "", err
	}

	if creds.ExpiresAt == nil || creds.ExpiresAt.After(time.Now().Add(time.Minute)) {
		return creds.AccessToken, nil
	}

	token, err := s.ghlClient.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := s.integrationSvc.UpdateTokens(ctx, locationID, integrationdomain.TokenUpdate{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

type registerProviderRequest struct {
	LocationID string `json:"location_id" binding:"required"`
}

func (s *Server) handleRegisterProvider(c *gin.Context) {
	var req registerProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	install, err := s.integrationSvc.Get(ctx, req.LocationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	accessToken, err := s.freshAccessToken(c, req.LocationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.registerProviderForLocation(c, req.LocationID, accessToken, install.APIKey); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"location_id": req.LocationID,
	})
}

func (s *Server) handleConnectKeys(c *gin.Context) {
	var req registerProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	install, err := s.integrationSvc.Get(ctx, req.LocationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	accessToken, err := s.freshAccessToken(c, req.LocationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	err = s.ghlClient.SendConnectKeys(ctx, accessToken, req.LocationID, ghl.ConnectKeys{
		Live: ghl.KeyPair{APIKey: install.APIKey, PublishableKey: install.APIKey},
		Test: ghl.KeyPair{APIKey: install.APIKey, PublishableKey: install.APIKey},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type installWebhookRequest struct {
	LocationID string `json:"locationId" binding:"required"`
	CompanyID  string `json:"companyId"`
}

func (s *Server) handleInstallWebhook(c *gin.Context) {
	var req installWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.integrationSvc.MarkInstalled(c.Request.Context(), req.LocationID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleUninstallWebhook(c *gin.Context) {
	var req installWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.integrationSvc.Uninstall(c.Request.Context(), req.LocationID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleQuery is the verification endpoint the marketplace polls to check
// the provider is alive and the location is known.
func (s *Server) handleQuery(c *gin.Context) {
	locationID := strings.TrimSpace(c.Query("locationId"))
	if locationID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	install, err := s.integrationSvc.Get(c.Request.Context(), locationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"location_id": install.LocationID,
		"installed":   install.Installed,
	})
}
