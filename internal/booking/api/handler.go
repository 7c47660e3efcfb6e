package api

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"snowpark-booking/internal/booking"
	"snowpark-booking/internal/logger"
	"snowpark-booking/internal/models"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service     *booking.Service
	Passes      *booking.PassGenerator
	Logger      *logger.Logger
	AdminSecret string
}

// CreateBooking records a ticket purchase attempt and hands back the hosted
// checkout link. A gateway failure still creates the booking; the response
// flags it so the caller can tell "booking recorded, payment setup failed"
// apart from a rejected booking.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.Service.Create(r.Context(), req)
	if err != nil {
		var verr *booking.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("CreateBooking: %v", err))
		http.Error(w, "Could not create booking", http.StatusInternalServerError)
		return
	}

	resp := models.BookingResponse{
		Booking:            *b,
		PaymentUnavailable: b.RedirectURL == "",
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	b, err := h.Service.Get(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Booking not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetBooking %s: %v", bookingID, err))
		http.Error(w, "Could not load booking", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

// PaymentReturn consumes the gateway's return redirect. Both query params
// must be present: the result discriminator and the payment reference.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	result := r.URL.Query().Get("result")
	intentID := r.URL.Query().Get("pi_id")
	if result == "" || intentID == "" {
		http.Error(w, "Missing result or pi_id", http.StatusBadRequest)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("PaymentReturn: result=%s pi_id=%s", result, intentID))

	b, err := h.Service.ReconcileOne(r.Context(), intentID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("PaymentReturn %s: %v", intentID, err))
		http.Error(w, "Could not refresh payment status", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Result          string          `json:"result"`
		PaymentIntentID string          `json:"payment_intent_id"`
		Booking         *models.Booking `json:"booking"`
	}{
		Result:          result,
		PaymentIntentID: intentID,
		Booking:         b,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Reconcile runs the full sweep and reports transition counts.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.ReconcileAll(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Reconcile: %v", err))
		http.Error(w, "Sweep failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// OverrideStatus sets a booking's status directly, for disputes and manual
// reconciliation.
func (h *Handler) OverrideStatus(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	var req models.StatusOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.Service.Override(r.Context(), bookingID, req.Status)
	if err != nil {
		var verr *booking.ValidationError
		switch {
		case errors.As(err, &verr):
			http.Error(w, verr.Error(), http.StatusBadRequest)
		case errors.Is(err, sql.ErrNoRows):
			http.Error(w, "Booking not found", http.StatusNotFound)
		default:
			h.Logger.Error("API", fmt.Sprintf("OverrideStatus %s: %v", bookingID, err))
			http.Error(w, "Could not update booking", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

// EntryPass renders the QR entry pass for a paid booking.
func (h *Handler) EntryPass(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	b, err := h.Service.Get(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Booking not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("EntryPass %s: %v", bookingID, err))
		http.Error(w, "Could not load booking", http.StatusInternalServerError)
		return
	}

	png, err := h.Passes.Generate(*b)
	if err != nil {
		if errors.Is(err, booking.ErrPassNotPaid) {
			http.Error(w, "Booking is not paid", http.StatusConflict)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("EntryPass %s: %v", bookingID, err))
		http.Error(w, "Could not generate pass", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// ListBookings returns bookings newest first for the operator view.
// Optional ?limit= caps the result.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	bookings, err := h.Service.List(r.Context(), limit)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListBookings: %v", err))
		http.Error(w, "Could not list bookings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bookings)
}

// Summary returns the operator dashboard aggregates.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.Summary(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Summary: %v", err))
		http.Error(w, "Could not compute summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sum)
}

// AdminOnly guards operator endpoints with the shared secret. An unset
// secret disables them entirely.
func (h *Handler) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Admin-Secret")
		if h.AdminSecret == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(h.AdminSecret)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
