package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	credapp "liaison/internal/application/credential"
	"liaison/internal/shared/logger"
	"liaison/internal/shared/utils"
)

// AdminHandler exposes the administrative credential operations behind
// service-token auth.
type AdminHandler struct {
	creds  *credapp.Service
	logger logger.Interface
}

func NewAdminHandler(creds *credapp.Service, log logger.Interface) *AdminHandler {
	return &AdminHandler{
		creds:  creds,
		logger: log.Named("admin.handler"),
	}
}

// ResetCredentials wipes every stored tracker credential from all tiers.
func (h *AdminHandler) ResetCredentials(c *gin.Context) {
	if err := h.creds.ResetAll(c.Request.Context()); err != nil {
		h.logger.Errorw("credential reset failed", "error", err)
		utils.ErrorResponseWithError(c, err)
		return
	}

	h.logger.Infow("credential reset completed", "subject", c.GetString("subject"))
	utils.SuccessResponse(c, http.StatusOK, "all tracker credentials removed", nil)
}
