package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lockpool/escrow/internal/services"
)

type EscrowHandler struct {
	escrow     *services.EscrowService
	events     *services.EventService
	claimQR    *services.ClaimQRService
	settlement *services.SettlementService
	validator  *services.ValidationHelper
}

func NewEscrowHandler(escrow *services.EscrowService, events *services.EventService, claimQR *services.ClaimQRService, settlement *services.SettlementService) *EscrowHandler {
	return &EscrowHandler{
		escrow:     escrow,
		events:     events,
		claimQR:    claimQR,
		settlement: settlement,
		validator:  services.NewValidationHelper(),
	}
}

// CreateLock opens a new hash-time-locked escrow
// @Summary Create lock contract
// @Description Lock funds under a hashlock until withdrawn with the preimage or refunded after the timelock
// @Tags locks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{receiver=string,hashlock=string,timelock=int64,token_contract=string,amount=int64} true "Lock contract terms"
// @Success 201 {object} object{success=bool,lock=object}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /locks [post]
func (h *EscrowHandler) CreateLock(w http.ResponseWriter, r *http.Request) {
	principal, ok := r.Context().Value("principal").(string)
	if !ok || principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Receiver      string `json:"receiver" validate:"required,max=64"`
		Hashlock      string `json:"hashlock" validate:"required,len=64,hexadecimal"`
		Timelock      int64  `json:"timelock" validate:"required,gt=0"`
		TokenContract string `json:"token_contract" validate:"required,max=64"`
		Amount        int64  `json:"amount" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	lock, err := h.escrow.Create(r.Context(), principal, req.Receiver, req.Hashlock,
		time.Unix(req.Timelock, 0), req.TokenContract, req.Amount)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.EscrowErrorStatus(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"lock":    lock,
	})
}

// WithdrawLock claims a lock contract with the preimage
// @Summary Withdraw lock contract
// @Description Settle the escrow to the receiver by revealing the hashlock preimage
// @Tags locks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param hashlock path string true "Hashlock"
// @Param request body object{preimage=string} true "Hex preimage"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /locks/{hashlock}/withdraw [post]
func (h *EscrowHandler) WithdrawLock(w http.ResponseWriter, r *http.Request) {
	principal, ok := r.Context().Value("principal").(string)
	if !ok || principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	hashlock := chi.URLParam(r, "hashlock")

	var req struct {
		Preimage string `json:"preimage" validate:"required,hexadecimal"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.escrow.Withdraw(r.Context(), principal, hashlock, req.Preimage); err != nil {
		services.SendErrorResponse(w, err.Error(), services.EscrowErrorStatus(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// RefundLock reclaims an expired lock contract
// @Summary Refund lock contract
// @Description Return escrowed funds to the sender after the timelock has expired
// @Tags locks
// @Produce json
// @Security BearerAuth
// @Param hashlock path string true "Hashlock"
// @Success 200 {object} object{success=bool}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /locks/{hashlock}/refund [post]
func (h *EscrowHandler) RefundLock(w http.ResponseWriter, r *http.Request) {
	principal, ok := r.Context().Value("principal").(string)
	if !ok || principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	hashlock := chi.URLParam(r, "hashlock")

	if err := h.escrow.Refund(r.Context(), principal, hashlock); err != nil {
		services.SendErrorResponse(w, err.Error(), services.EscrowErrorStatus(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// GetLock returns a lock contract snapshot
// @Summary Query lock contract
// @Description Return the record for a hashlock, or a zeroed snapshot with exists=false
// @Tags locks
// @Produce json
// @Security BearerAuth
// @Param hashlock path string true "Hashlock"
// @Success 200 {object} object{exists=bool,status=string}
// @Router /locks/{hashlock} [get]
func (h *EscrowHandler) GetLock(w http.ResponseWriter, r *http.Request) {
	hashlock := chi.URLParam(r, "hashlock")

	snapshot, err := h.escrow.Query(r.Context(), hashlock)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch lock contract", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// ListLocks lists lock contracts with optional filters
// @Summary List lock contracts
// @Description List lock contracts filtered by sender, receiver or status
// @Tags locks
// @Produce json
// @Security BearerAuth
// @Param sender query string false "Filter by sender"
// @Param receiver query string false "Filter by receiver"
// @Param status query string false "Filter by status (ACTIVE, WITHDRAWN, REFUNDED)"
// @Param limit query int false "Max results (default 50, max 100)"
// @Success 200 {object} object{locks=[]object,count=int}
// @Router /locks [get]
func (h *EscrowHandler) ListLocks(w http.ResponseWriter, r *http.Request) {
	filter := services.LockFilter{
		Sender:   r.URL.Query().Get("sender"),
		Receiver: r.URL.Query().Get("receiver"),
		Status:   r.URL.Query().Get("status"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}

	locks, err := h.escrow.List(r.Context(), filter)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch lock contracts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"locks": locks,
		"count": len(locks),
	})
}

// GetClaimQR renders a claim QR code for an active lock
// @Summary Claim QR code
// @Description QR code embedding the claim URI and contract terms for wallet hand-off
// @Tags locks
// @Produce json
// @Security BearerAuth
// @Param hashlock path string true "Hashlock"
// @Success 200 {object} object{payload=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /locks/{hashlock}/qr [get]
func (h *EscrowHandler) GetClaimQR(w http.ResponseWriter, r *http.Request) {
	hashlock := chi.URLParam(r, "hashlock")

	snapshot, err := h.escrow.Query(r.Context(), hashlock)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch lock contract", http.StatusInternalServerError, nil)
		return
	}
	if !snapshot.Exists {
		services.SendErrorResponse(w, "Lock contract not found", http.StatusNotFound, nil)
		return
	}

	payload, qrImage, err := h.claimQR.GenerateClaimQR(&snapshot.LockContract)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"payload": payload,
		"qrImage": qrImage,
	})
}

// ListEvents returns recent escrow events
// @Summary List escrow events
// @Description Latest entries of the append-only escrow event log
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max results (default 50, max 100)"
// @Success 200 {object} object{events=[]object,count=int}
// @Router /events [get]
func (h *EscrowHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch events", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ExportSettlement exports a settled lock as pacs.008 XML
// @Summary Export settlement
// @Description Render a settled lock contract as an ISO 20022 pacs.008 credit transfer
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{hashlock=string} true "Settled hashlock"
// @Success 200 {object} object{status=string,messageType=string,xml=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /settlements/export [post]
func (h *EscrowHandler) ExportSettlement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hashlock string `json:"hashlock" validate:"required,len=64,hexadecimal"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	snapshot, err := h.escrow.Query(r.Context(), req.Hashlock)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch lock contract", http.StatusInternalServerError, nil)
		return
	}
	if !snapshot.Exists {
		services.SendErrorResponse(w, "Lock contract not found", http.StatusNotFound, nil)
		return
	}

	doc, err := h.settlement.CreatePacs008(&snapshot.LockContract)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		return
	}

	xmlData, err := h.settlement.ConvertToXML(doc)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "exported",
		"messageType": "pacs.008.001.08",
		"xml":         xmlData,
	})
}
