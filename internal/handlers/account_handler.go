package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/lockpool/escrow/internal/models"
	"github.com/lockpool/escrow/internal/services"
)

type AccountHandler struct {
	tokens    *services.TokenLedgerService
	validator *services.ValidationHelper
}

func NewAccountHandler(tokens *services.TokenLedgerService) *AccountHandler {
	return &AccountHandler{
		tokens:    tokens,
		validator: services.NewValidationHelper(),
	}
}

// Approve authorizes the escrow custody principal to pull funds
// @Summary Approve allowance
// @Description Pre-authorize the escrow ledger to pull up to the given amount of a token from the caller
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{token_contract=string,amount=int64} true "Allowance grant"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Router /allowances [post]
func (h *AccountHandler) Approve(w http.ResponseWriter, r *http.Request) {
	principal, ok := r.Context().Value("principal").(string)
	if !ok || principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		TokenContract string `json:"token_contract" validate:"required,max=64"`
		Amount        int64  `json:"amount" validate:"required,gte=0"`
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

	if err := h.tokens.Approve(r.Context(), principal, req.TokenContract, req.Amount); err != nil {
		services.SendErrorResponse(w, "Failed to store allowance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"allowance": models.Allowance{
			Owner:     principal,
			Spender:   h.tokens.Custody(),
			Token:     req.TokenContract,
			Amount:    req.Amount,
			UpdatedAt: time.Now(),
		},
	})
}

// BalanceEnquiry returns the caller's token balance and remaining allowance
// @Summary Balance enquiry
// @Description Return the caller's balance and remaining escrow allowance for a token
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param token query string true "Token contract"
// @Success 200 {object} object{token_contract=string,balance=int64,allowance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Router /accounts/balance [get]
func (h *AccountHandler) BalanceEnquiry(w http.ResponseWriter, r *http.Request) {
	principal, ok := r.Context().Value("principal").(string)
	if !ok || principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		services.SendErrorResponse(w, "token is required", http.StatusBadRequest, nil)
		return
	}

	account, err := h.tokens.GetAccount(r.Context(), principal, token)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	allowance, err := h.tokens.Allowance(r.Context(), principal, token)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch allowance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token_contract": token,
		"balance":        account.Balance,
		"allowance":      allowance,
	})
}

// Statement returns the caller's recent ledger entries for a token
// @Summary Account statement
// @Description Most recent double-entry ledger movements for the caller, newest first
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param token query string true "Token contract"
// @Param limit query int false "Max results (default 50, max 100)"
// @Success 200 {object} object{entries=[]object,count=int}
// @Failure 400 {object} services.ErrorResponse
// @Router /accounts/statement [get]
func (h *AccountHandler) Statement(w http.ResponseWriter, r *http.Request) {
	principal, ok := r.Context().Value("principal").(string)
	if !ok || principal == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		services.SendErrorResponse(w, "token is required", http.StatusBadRequest, nil)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	entries, err := h.tokens.Statement(r.Context(), principal, token, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch statement", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
