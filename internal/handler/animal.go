package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// AnimalCatalog lists the selectable avatars.  cache.Catalog implements it.
type AnimalCatalog interface {
	Animals(ctx context.Context) ([]model.Animal, error)
}

type AnimalHandler struct {
	Catalog AnimalCatalog
}

func NewAnimalHandler(catalog AnimalCatalog) *AnimalHandler {
	return &AnimalHandler{Catalog: catalog}
}

// List returns the active animal catalog.
func (h *AnimalHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	animals, err := h.Catalog.Animals(ctx)
	if err != nil {
		c.Logger().Errorf("list animals: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list animals failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"animals": animals})
}
