package handler // package handler holds the echo handlers of the kiosk server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is the liveness probe used by load balancers.  It does not touch
// any collaborator.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
