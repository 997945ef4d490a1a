package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/auth"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/hub"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/models"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/queue"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"
)

// QueueService is the queue core as seen by the HTTP surface.
type QueueService interface {
	CheckIn(ctx context.Context, cardNo string) (models.Ticket, bool, error)
	CallNext(ctx context.Context) (models.Ticket, error)
	UndoLast(ctx context.Context) (models.Ticket, error)
	ManualAdd(ctx context.Context, name string) (models.Ticket, error)
	Snapshot(ctx context.Context, visitDate string) (queue.Snapshot, error)
}

// PatientRegistry covers the patient-facing store operations.
type PatientRegistry interface {
	RegisterPatient(ctx context.Context, input store.RegisterPatientInput) (models.Patient, error)
	GetPatientByCard(ctx context.Context, cardNo string) (models.Patient, bool, error)
}

type Handler struct {
	queue    QueueService
	patients PatientRegistry
	hub      *hub.Hub

	jwtSecret     []byte
	tokenTTL      time.Duration
	staffUser     string
	staffPassHash string

	metricsHandler http.Handler
}

type Options struct {
	JWTSecret      string
	TokenTTL       time.Duration
	StaffUser      string
	StaffPassHash  string
	MetricsHandler http.Handler
}

func NewHandler(q QueueService, patients PatientRegistry, h *hub.Hub, options Options) *Handler {
	ttl := options.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Handler{
		queue:          q,
		patients:       patients,
		hub:            h,
		jwtSecret:      []byte(options.JWTSecret),
		tokenTTL:       ttl,
		staffUser:      options.StaffUser,
		staffPassHash:  options.StaffPassHash,
		metricsHandler: options.MetricsHandler,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	if h.metricsHandler != nil {
		mux.Handle("/metrics", h.metricsHandler)
	}
	mux.HandleFunc("/api/patients", h.handleRegisterPatient)
	mux.HandleFunc("/api/patients/login", h.handlePatientLogin)
	mux.HandleFunc("/api/staff/login", h.handleStaffLogin)
	mux.HandleFunc("/api/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/queue", h.handleQueueSnapshot)
	mux.HandleFunc("/api/queue/actions/", h.requireStaff(h.handleQueueAction))
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type registerPatientRequest struct {
	Name      string `json:"name"`
	Kana      string `json:"kana"`
	PetName   string `json:"pet_name"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birth_date"`
	Email     string `json:"email"`
	CardNo    string `json:"card_no"`
	Password  string `json:"password"`
}

func (h *Handler) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerPatientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.PetName = strings.TrimSpace(req.PetName)
	req.CardNo = strings.TrimSpace(req.CardNo)
	req.Email = strings.TrimSpace(req.Email)

	if req.Name == "" || req.PetName == "" || req.CardNo == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name, pet_name, card_no, and password are required")
		return
	}
	if !isValidCardNo(req.CardNo) {
		writeError(w, http.StatusBadRequest, "invalid_request", "card_no must be 1-16 digits")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	patient, err := h.patients.RegisterPatient(r.Context(), store.RegisterPatientInput{
		Name:           req.Name,
		Kana:           strings.TrimSpace(req.Kana),
		PetName:        req.PetName,
		Phone:          strings.TrimSpace(req.Phone),
		BirthDate:      strings.TrimSpace(req.BirthDate),
		Email:          req.Email,
		CardNo:         req.CardNo,
		CredentialHash: string(hash),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, patient)
}

type loginRequest struct {
	CardNo   string `json:"card_no"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

func (h *Handler) handlePatientLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CardNo = strings.TrimSpace(req.CardNo)
	if req.CardNo == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "card_no and password are required")
		return
	}

	patient, found, err := h.patients.GetPatientByCard(r.Context(), req.CardNo)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found || bcrypt.CompareHashAndPassword([]byte(patient.CredentialHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "card number or password is wrong")
		return
	}

	token, err := auth.GenerateToken(h.jwtSecret, patient.PatientID, auth.RolePatient, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Role: auth.RolePatient})
}

type staffLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req staffLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}
	if h.staffPassHash == "" || req.Username != h.staffUser ||
		bcrypt.CompareHashAndPassword([]byte(h.staffPassHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "username or password is wrong")
		return
	}

	token, err := auth.GenerateToken(h.jwtSecret, req.Username, auth.RoleStaff, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Role: auth.RoleStaff})
}

type checkInRequest struct {
	CardNo string `json:"card_no"`
}

type checkInResponse struct {
	Ticket  models.Ticket `json:"ticket"`
	Created bool          `json:"created"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CardNo = strings.TrimSpace(req.CardNo)
	if req.CardNo == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "card_no is required")
		return
	}
	if !isValidCardNo(req.CardNo) {
		writeError(w, http.StatusBadRequest, "invalid_request", "card_no must be 1-16 digits")
		return
	}

	ticket, created, err := h.queue.CheckIn(r.Context(), req.CardNo)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, checkInResponse{Ticket: ticket, Created: created})
}

func (h *Handler) handleQueueSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	visitDate := strings.TrimSpace(r.URL.Query().Get("date"))
	if visitDate != "" {
		if _, err := time.Parse("2006-01-02", visitDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
			return
		}
	}

	snapshot, err := h.queue.Snapshot(r.Context(), visitDate)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type manualAddRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/actions/"), "/")
	switch action {
	case "call-next":
		ticket, err := h.queue.CallNext(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "undo":
		ticket, err := h.queue.UndoLast(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "manual-add":
		var req manualAddRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		ticket, err := h.queue.ManualAdd(r.Context(), req.Name)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, ticket)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func isValidCardNo(value string) bool {
	if len(value) < 1 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "no patient with that card number"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no tickets available"
	case errors.Is(err, store.ErrDuplicateCard):
		return http.StatusConflict, "duplicate_card", "card number already registered"
	case errors.Is(err, store.ErrClinicClosed):
		return http.StatusConflict, "clinic_closed", "the clinic is closed"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
