package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ServiceMiddleware guards endpoints reserved for trusted backend callers,
// such as the booking lifecycle service injecting system messages. The caller
// must carry a `role: service` custom claim on its Firebase token.
type ServiceMiddleware struct{}

func NewServiceMiddleware() *ServiceMiddleware {
	return &ServiceMiddleware{}
}

func (m *ServiceMiddleware) ServiceOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := c.Get("claims").(map[string]interface{})
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
		}

		if role, _ := claims["role"].(string); role != "service" {
			return echo.NewHTTPError(http.StatusForbidden, "Service privileges required")
		}

		return next(c)
	}
}

// HasServiceRole reports whether the authenticated caller carries the
// `role: service` claim. Used where participants and services share a route.
func HasServiceRole(c echo.Context) bool {
	claims, ok := c.Get("claims").(map[string]interface{})
	if !ok {
		return false
	}
	role, _ := claims["role"].(string)
	return role == "service"
}
