package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/dto"
	"github.com/ignatzorin/booking-core/internal/http/handlers/common"
	"github.com/ignatzorin/booking-core/internal/http/middleware"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
	"github.com/ignatzorin/booking-core/internal/service"
	"github.com/ignatzorin/booking-core/internal/validation"
)

type DisputeService interface {
	OpenDispute(ctx context.Context, req service.OpenDisputeRequest) (*models.Dispute, error)
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	StartInvestigation(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Escalate(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, req service.ResolveRequest) (*models.Dispute, error)
}

type bookingReader interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
}

type DisputeHandler struct {
	disputes DisputeService
	bookings bookingReader
	clock    clock.Clock
}

func NewDisputeHandler(disputes DisputeService, bookings bookingReader, clk clock.Clock) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, bookings: bookings, clock: clk}
}

// Open POST /bookings/:id/disputes
func (h *DisputeHandler) Open(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	bookingID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateEvidence(req.Evidence); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	d, err := h.disputes.OpenDispute(c.Request.Context(), service.OpenDisputeRequest{
		BookingID:      bookingID,
		ActorID:        userID,
		Type:           models.DisputeType(req.Type),
		DisputedAmount: req.DisputedAmount,
		Evidence:       req.Evidence,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewDisputeResponse(d, h.clock.Now()))
}

// Get GET /disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	d, err := h.disputes.GetDispute(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if role, _ := common.CurrentUserRole(c); role != middleware.RoleAdmin {
		b, err := h.bookings.GetBooking(c.Request.Context(), d.BookingID)
		if err != nil {
			common.Fail(c, err)
			return
		}
		if !b.IsParticipant(userID) {
			common.Fail(c, apperror.ErrDisputeNotFound)
			return
		}
	}
	c.JSON(http.StatusOK, dto.NewDisputeResponse(d, h.clock.Now()))
}

// List GET /disputes
func (h *DisputeHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	limit, offset := common.Pagination(c)

	disputes, err := h.disputes.ListForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResponse[*dto.DisputeResponse]{
		Items:  dto.NewDisputeList(disputes, h.clock.Now()),
		Limit:  limit,
		Offset: offset,
	})
}

// Investigate POST /admin/disputes/:id/investigate
func (h *DisputeHandler) Investigate(c *gin.Context) {
	h.move(c, h.disputes.StartInvestigation)
}

// Escalate POST /admin/disputes/:id/escalate
func (h *DisputeHandler) Escalate(c *gin.Context) {
	h.move(c, h.disputes.Escalate)
}

// Resolve POST /admin/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	adminID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateResolution(req.Resolution); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	outcome, err := valueobject.NewDisputeStatus(req.Outcome)
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	d, err := h.disputes.Resolve(c.Request.Context(), service.ResolveRequest{
		DisputeID:    id,
		Outcome:      outcome,
		RefundAmount: req.RefundAmount,
		Resolution:   req.Resolution,
		ResolvedBy:   adminID,
	})
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDisputeResponse(d, h.clock.Now()))
}

func (h *DisputeHandler) move(c *gin.Context, step func(context.Context, uuid.UUID) (*models.Dispute, error)) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	d, err := step(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDisputeResponse(d, h.clock.Now()))
}
