package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/dto"
	"github.com/ignatzorin/booking-core/internal/http/handlers/common"
	"github.com/ignatzorin/booking-core/internal/http/middleware"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
	"github.com/ignatzorin/booking-core/internal/pricing"
	"github.com/ignatzorin/booking-core/internal/service"
	"github.com/ignatzorin/booking-core/internal/validation"
)

type BookingService interface {
	PlaceBooking(ctx context.Context, req service.PlaceBookingRequest) (*models.Booking, *models.FraudAssessment, error)
	RequestBooking(ctx context.Context, req service.BookingRequest) (*models.Booking, error)
	AuthorizePayment(ctx context.Context, bookingID uuid.UUID, surge pricing.SurgeContext) (*models.Booking, error)
	HoldFunds(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	StartService(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error)
	CompleteService(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error)
	ReleaseFunds(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*models.Booking, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
	Ledger(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEntry, error)
	ProviderBalance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error)
}

type BookingHandler struct {
	bookings BookingService
}

func NewBookingHandler(bookings BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// Place POST /bookings - антифрод, резерв, авторизация и escrow одним запросом.
func (h *BookingHandler) Place(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidatePaymentToken(req.PaymentToken); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	b, assessment, err := h.bookings.PlaceBooking(c.Request.Context(), req.ToPlaceRequest(userID))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.PlaceBookingResponse{
		Booking: dto.NewBookingResponse(b),
		Fraud:   assessment,
	})
}

// Request POST /bookings/request - только резерв слота, дальше шаги по отдельности.
func (h *BookingHandler) Request(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidatePaymentToken(req.PaymentToken); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	b, err := h.bookings.RequestBooking(c.Request.Context(), req.ToBookingRequest(userID))
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewBookingResponse(b))
}

// Authorize POST /bookings/:id/authorize
func (h *BookingHandler) Authorize(c *gin.Context) {
	b, ok := h.ownedByCustomer(c)
	if !ok {
		return
	}

	var req dto.AuthorizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	b, err := h.bookings.AuthorizePayment(c.Request.Context(), b.ID, req.Surge.ToContext())
	h.respond(c, b, err)
}

// HoldFunds POST /bookings/:id/hold-funds
func (h *BookingHandler) HoldFunds(c *gin.Context) {
	b, ok := h.ownedByCustomer(c)
	if !ok {
		return
	}
	b, err := h.bookings.HoldFunds(c.Request.Context(), b.ID)
	h.respond(c, b, err)
}

// Start POST /bookings/:id/start
func (h *BookingHandler) Start(c *gin.Context) {
	h.actorStep(c, h.bookings.StartService)
}

// Complete POST /bookings/:id/complete
func (h *BookingHandler) Complete(c *gin.Context) {
	h.actorStep(c, h.bookings.CompleteService)
}

// Release POST /admin/bookings/:id/release - ручная выплата оператором после срока удержания.
func (h *BookingHandler) Release(c *gin.Context) {
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	b, err := h.bookings.ReleaseFunds(c.Request.Context(), id)
	h.respond(c, b, err)
}

// Cancel POST /bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
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

	var req dto.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}
	if err := validation.ValidateCancelReason(req.Reason); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	b, err := h.bookings.CancelBooking(c.Request.Context(), id, userID, req.Reason)
	h.respond(c, b, err)
}

// Get GET /bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	b, ok := h.visible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewBookingResponse(b))
}

// List GET /bookings
func (h *BookingHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	limit, offset := common.Pagination(c)

	bookings, err := h.bookings.ListBookings(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListResponse[*dto.BookingResponse]{
		Items:  dto.NewBookingList(bookings),
		Limit:  limit,
		Offset: offset,
	})
}

// Ledger GET /bookings/:id/ledger
func (h *BookingHandler) Ledger(c *gin.Context) {
	b, ok := h.visible(c)
	if !ok {
		return
	}
	entries, err := h.bookings.Ledger(c.Request.Context(), b.ID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, dto.LedgerResponse{BookingID: b.ID.String(), Entries: entries})
}

// Balance GET /providers/me/balance
func (h *BookingHandler) Balance(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return
	}
	balance, err := h.bookings.ProviderBalance(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *BookingHandler) actorStep(c *gin.Context, step func(context.Context, uuid.UUID, uuid.UUID) (*models.Booking, error)) {
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
	b, err := step(c.Request.Context(), id, userID)
	h.respond(c, b, err)
}

// visible загружает бронирование, которое видит текущий пользователь: участник или оператор.
func (h *BookingHandler) visible(c *gin.Context) (*models.Booking, bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c)
		return nil, false
	}
	id, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return nil, false
	}
	b, err := h.bookings.GetBooking(c.Request.Context(), id)
	if err != nil {
		common.Fail(c, err)
		return nil, false
	}
	role, _ := common.CurrentUserRole(c)
	if !b.IsParticipant(userID) && role != middleware.RoleAdmin {
		// Чужие бронирования не раскрываем
		common.Fail(c, apperror.ErrBookingNotFound)
		return nil, false
	}
	return b, true
}

func (h *BookingHandler) ownedByCustomer(c *gin.Context) (*models.Booking, bool) {
	b, ok := h.visible(c)
	if !ok {
		return nil, false
	}
	if userID, _ := common.CurrentUserID(c); b.CustomerID != userID {
		common.Fail(c, apperror.ErrForbidden)
		return nil, false
	}
	return b, true
}

func (h *BookingHandler) respond(c *gin.Context, b *models.Booking, err error) {
	if err != nil {
		common.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewBookingResponse(b))
}
