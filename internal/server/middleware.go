package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const contextLocationIDKey = "location_id"

// SSOKeyRequired authenticates marketplace webhook calls with the shared
// SSO key. The compare is constant time.
func (s *Server) SSOKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		expected := s.cfg.GHL.SSOKey
		if expected == "" {
			s.log.Error("sso key not configured")
			AbortWithError(c, ErrInternal)
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Next()
	}
}

// APIKeyRequired authenticates merchant-facing calls with a per-location
// API key and stashes the resolved location on the context.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if apiKey == "" {
			if token, ok := bearerToken(c); ok {
				apiKey = token
			}
		}
		if apiKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		install, err := s.integrationSvc.FindByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextLocationIDKey, install.LocationID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func locationFromContext(c *gin.Context) string {
	value, ok := c.Get(contextLocationIDKey)
	if !ok {
		return ""
	}
	locationID, _ := value.(string)
	return locationID
}
