package handler

import (
	"net/http"

	"authz-gateway/internal/gatekeeper"

	"github.com/labstack/echo/v4"
)

type PageHandler struct{}

func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

type IdentityResponse struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (h *PageHandler) SignIn(c echo.Context) error {
	return respondMessage(c, http.StatusOK, msgSignInPrompt)
}

func (h *PageHandler) Forbidden(c echo.Context) error {
	return respondError(c, http.StatusForbidden, msgForbiddenPage)
}

// Dashboard is only reachable through the gatekeeper, which has already
// attached the caller's identity.
func (h *PageHandler) Dashboard(c echo.Context) error {
	id, err := gatekeeper.GetIdentity(c)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, IdentityResponse{
		ID:    id.ID,
		Role:  id.Role,
		Email: id.Email,
		Name:  id.Name,
	})
}
