package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/dto"
	"github.com/ignatzorin/booking-core/internal/http/handlers/common"
	"github.com/ignatzorin/booking-core/internal/models"
)

type FraudAuditor interface {
	FraudHistory(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.FraudAssessment, error)
}

type FraudHandler struct {
	audit FraudAuditor
}

func NewFraudHandler(audit FraudAuditor) *FraudHandler {
	return &FraudHandler{audit: audit}
}

// History GET /admin/customers/:id/fraud-assessments
func (h *FraudHandler) History(c *gin.Context) {
	customerID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	limit, offset := common.Pagination(c)

	items, err := h.audit.FraudHistory(c.Request.Context(), customerID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if items == nil {
		items = []models.FraudAssessment{}
	}
	c.JSON(http.StatusOK, dto.ListResponse[models.FraudAssessment]{Items: items, Limit: limit, Offset: offset})
}
