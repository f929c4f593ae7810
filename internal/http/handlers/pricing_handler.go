package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/booking-core/internal/dto"
	"github.com/ignatzorin/booking-core/internal/http/handlers/common"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pricing"
)

type QuotePreviewer interface {
	PreviewQuote(category string, baseAmount int64, surge pricing.SurgeContext) (models.PricingQuote, error)
}

type PricingHandler struct {
	quotes QuotePreviewer
}

func NewPricingHandler(quotes QuotePreviewer) *PricingHandler {
	return &PricingHandler{quotes: quotes}
}

// Quote POST /pricing/quote - расчёт без резерва и без записи куда-либо.
func (h *PricingHandler) Quote(c *gin.Context) {
	var req dto.QuotePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	q, err := h.quotes.PreviewQuote(req.Category, req.BaseAmount, req.Surge.ToContext())
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewQuoteView(q))
}
