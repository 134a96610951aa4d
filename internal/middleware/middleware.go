package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

// APIAuth validates the Token header against the configured API key or a
// hash file on disk. The file may hold the raw token or its SHA256 hex.
func APIAuth(apiKey string, hashFilePath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get("Token")
			if token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"kind": "auth_failed",
					"msg":  "Token is required",
					"obj":  nil,
				})
			}

			if apiKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1 {
				return next(c)
			}

			if hashFilePath != "" {
				hashData, err := os.ReadFile(hashFilePath)
				if err == nil {
					hash := strings.TrimSpace(string(hashData))
					if token == hash {
						return next(c)
					}
					h := sha256.Sum256([]byte(token))
					if hex.EncodeToString(h[:]) == hash {
						return next(c)
					}
				}
			}

			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"kind": "auth_failed",
				"msg":  "Invalid token",
				"obj":  nil,
			})
		}
	}
}

// CORS configures CORS headers for the management API.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("Access-Control-Allow-Origin", "*")
			c.Response().Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Response().Header().Set("Access-Control-Allow-Headers", "Content-Type, Token, Authorization")
			if c.Request().Method == "OPTIONS" {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}
