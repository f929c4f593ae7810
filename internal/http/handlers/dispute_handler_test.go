package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/http/middleware"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
	"github.com/ignatzorin/booking-core/internal/service"
)

var disputeNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func sampleDispute(bookingID, openedBy uuid.UUID, status valueobject.DisputeStatus) *models.Dispute {
	return &models.Dispute{
		ID:                   uuid.New(),
		BookingID:            bookingID,
		OpenedBy:             openedBy,
		Type:                 models.DisputeTypeQuality,
		DisputedAmount:       5000,
		Status:               status,
		TargetResolutionDate: disputeNow.Add(48 * time.Hour),
		CreatedAt:            disputeNow,
	}
}

func newDisputeHandlerForTest(disputes *mockDisputeService, bookings *mockBookingService) *DisputeHandler {
	return NewDisputeHandler(disputes, bookings, clock.NewFixed(disputeNow))
}

func TestDisputeHandler_Open(t *testing.T) {
	customerID, bookingID := uuid.New(), uuid.New()
	disputes := &mockDisputeService{}
	disputes.On("OpenDispute", mock.Anything, mock.MatchedBy(func(req service.OpenDisputeRequest) bool {
		return req.BookingID == bookingID &&
			req.ActorID == customerID &&
			req.Type == models.DisputeTypeQuality &&
			req.DisputedAmount == 5000 &&
			len(req.Evidence) == 1
	})).Return(sampleDispute(bookingID, customerID, valueobject.DisputeStatusOpen), nil)

	r := newTestEngine(customerID, middleware.RoleCustomer)
	h := newDisputeHandlerForTest(disputes, &mockBookingService{})
	r.POST("/bookings/:id/disputes", h.Open)

	w := perform(r, http.MethodPost, "/bookings/"+bookingID.String()+"/disputes",
		`{"type": "quality", "disputed_amount": 5000, "evidence": ["https://cdn.example.com/photo.jpg"]}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Status         string `json:"status"`
		SLASecondsLeft int64  `json:"sla_seconds_left"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "open", resp.Status)
	assert.Equal(t, int64(48*3600), resp.SLASecondsLeft)
	disputes.AssertExpectations(t)
}

func TestDisputeHandler_Open_AlreadyDisputed(t *testing.T) {
	disputes := &mockDisputeService{}
	disputes.On("OpenDispute", mock.Anything, mock.Anything).
		Return(nil, apperror.New(apperror.ErrCodeConflict, "по бронированию уже открыт спор"))

	r := newTestEngine(uuid.New(), middleware.RoleCustomer)
	h := newDisputeHandlerForTest(disputes, &mockBookingService{})
	r.POST("/bookings/:id/disputes", h.Open)

	w := perform(r, http.MethodPost, "/bookings/"+uuid.NewString()+"/disputes", `{"type": "damage", "disputed_amount": 100}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDisputeHandler_Open_RejectsNonPositiveAmount(t *testing.T) {
	r := newTestEngine(uuid.New(), middleware.RoleCustomer)
	h := newDisputeHandlerForTest(&mockDisputeService{}, &mockBookingService{})
	r.POST("/bookings/:id/disputes", h.Open)

	w := perform(r, http.MethodPost, "/bookings/"+uuid.NewString()+"/disputes", `{"type": "damage", "disputed_amount": 0}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisputeHandler_Open_RejectsBadEvidence(t *testing.T) {
	disputes := &mockDisputeService{}
	r := newTestEngine(uuid.New(), middleware.RoleCustomer)
	h := newDisputeHandlerForTest(disputes, &mockBookingService{})
	r.POST("/bookings/:id/disputes", h.Open)

	w := perform(r, http.MethodPost, "/bookings/"+uuid.NewString()+"/disputes",
		`{"type": "quality", "disputed_amount": 100, "evidence": ["file:///etc/passwd"]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	disputes.AssertNotCalled(t, "OpenDispute", mock.Anything, mock.Anything)
}

func TestDisputeHandler_Get_OnlyParticipants(t *testing.T) {
	customerID, providerID := uuid.New(), uuid.New()
	booking := sampleBooking(customerID, providerID, valueobject.BookingStatusDisputed)
	dispute := sampleDispute(booking.ID, customerID, valueobject.DisputeStatusOpen)

	disputes := &mockDisputeService{}
	disputes.On("GetDispute", mock.Anything, dispute.ID).Return(dispute, nil)
	bookings := &mockBookingService{}
	bookings.On("GetBooking", mock.Anything, booking.ID).Return(booking, nil)

	h := newDisputeHandlerForTest(disputes, bookings)

	stranger := newTestEngine(uuid.New(), middleware.RoleCustomer)
	stranger.GET("/disputes/:id", h.Get)
	w := perform(stranger, http.MethodGet, "/disputes/"+dispute.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	provider := newTestEngine(providerID, middleware.RoleProvider)
	provider.GET("/disputes/:id", h.Get)
	w = perform(provider, http.MethodGet, "/disputes/"+dispute.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDisputeHandler_Get_AdminSkipsBookingLookup(t *testing.T) {
	dispute := sampleDispute(uuid.New(), uuid.New(), valueobject.DisputeStatusEscalated)
	disputes := &mockDisputeService{}
	disputes.On("GetDispute", mock.Anything, dispute.ID).Return(dispute, nil)
	bookings := &mockBookingService{}

	r := newTestEngine(uuid.New(), middleware.RoleAdmin)
	h := newDisputeHandlerForTest(disputes, bookings)
	r.GET("/disputes/:id", h.Get)

	w := perform(r, http.MethodGet, "/disputes/"+dispute.ID.String(), "")

	assert.Equal(t, http.StatusOK, w.Code)
	bookings.AssertNotCalled(t, "GetBooking", mock.Anything, mock.Anything)
}

func TestDisputeHandler_List(t *testing.T) {
	userID := uuid.New()
	disputes := &mockDisputeService{}
	disputes.On("ListForUser", mock.Anything, userID, 20, 0).Return([]models.Dispute{
		*sampleDispute(uuid.New(), userID, valueobject.DisputeStatusOpen),
		*sampleDispute(uuid.New(), userID, valueobject.DisputeStatusResolvedProvider),
	}, nil)

	r := newTestEngine(userID, middleware.RoleCustomer)
	h := newDisputeHandlerForTest(disputes, &mockBookingService{})
	r.GET("/disputes", h.List)

	w := perform(r, http.MethodGet, "/disputes", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []struct {
			Status         string `json:"status"`
			SLASecondsLeft int64  `json:"sla_seconds_left"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.Positive(t, resp.Items[0].SLASecondsLeft)
	assert.Zero(t, resp.Items[1].SLASecondsLeft)
}

func TestDisputeHandler_Investigate(t *testing.T) {
	dispute := sampleDispute(uuid.New(), uuid.New(), valueobject.DisputeStatusInvestigating)
	disputes := &mockDisputeService{}
	disputes.On("StartInvestigation", mock.Anything, dispute.ID).Return(dispute, nil)

	r := newTestEngine(uuid.New(), middleware.RoleAdmin)
	h := newDisputeHandlerForTest(disputes, &mockBookingService{})
	r.POST("/admin/disputes/:id/investigate", h.Investigate)

	w := perform(r, http.MethodPost, "/admin/disputes/"+dispute.ID.String()+"/investigate", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "investigating")
}

func TestDisputeHandler_Resolve_UnknownOutcome(t *testing.T) {
	r := newTestEngine(uuid.New(), middleware.RoleAdmin)
	h := newDisputeHandlerForTest(&mockDisputeService{}, &mockBookingService{})
	r.POST("/admin/disputes/:id/resolve", h.Resolve)

	w := perform(r, http.MethodPost, "/admin/disputes/"+uuid.NewString()+"/resolve",
		`{"outcome": "split_the_difference", "refund_amount": 100, "resolution": "поровну"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisputeHandler_Resolve(t *testing.T) {
	adminID := uuid.New()
	resolved := sampleDispute(uuid.New(), uuid.New(), valueobject.DisputeStatusResolvedCustomer)
	disputes := &mockDisputeService{}
	disputes.On("Resolve", mock.Anything, service.ResolveRequest{
		DisputeID:    resolved.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 3000,
		Resolution:   "частичный возврат",
		ResolvedBy:   adminID,
	}).Return(resolved, nil)

	r := newTestEngine(adminID, middleware.RoleAdmin)
	h := newDisputeHandlerForTest(disputes, &mockBookingService{})
	r.POST("/admin/disputes/:id/resolve", h.Resolve)

	w := perform(r, http.MethodPost, "/admin/disputes/"+resolved.ID.String()+"/resolve",
		`{"outcome": "resolved_customer", "refund_amount": 3000, "resolution": "частичный возврат"}`)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	disputes.AssertExpectations(t)
}
