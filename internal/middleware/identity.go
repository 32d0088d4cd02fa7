package middleware

import "github.com/labstack/echo/v4"

// callerID identifies the caller for rate-limit keys: the token subject
// when authenticated, otherwise the kiosk id of the path, otherwise "anon".
func callerID(c echo.Context) string {
	if s, ok := c.Get(CtxSubject).(string); ok && s != "" {
		return s
	}
	if id := c.Param("id"); id != "" {
		return "kiosk-" + id
	}
	return "anon"
}
