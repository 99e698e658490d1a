package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"homemart/backend/internal/domain"
)

func (a *API) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenSession(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cashierID := query.Get("cashierId")
	if strings.TrimSpace(cashierID) == "" {
		cashierID = query.Get("cashier_id")
	}

	session, err := a.service.CheckActive(r.Context(), cashierID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ActiveSessionResponse{Session: session})
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.CloseSession(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleSessionSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSessionSales(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

// handleProcessSale always answers with the sale result body; rejected sales
// carry success=false and a status derived from their error code.
func (a *API) handleProcessSale(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcessSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.SaleResult{
			Success: false,
			Error:   err.Error(),
			Code:    "invalid_input",
		})
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	result, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		writeError(w, status, err)
		return
	}
	if !result.Success {
		writeJSON(w, statusForCode(result.Code), result)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSkus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if term := query.Get("q"); strings.TrimSpace(term) != "" {
		skus, err := a.service.SearchSkus(r.Context(), term)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"skus": skus})
		return
	}

	limit := parsePositiveLimit(query.Get("limit"), 50, 50)
	skus, err := a.service.ListSkus(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skus": skus})
}

func (a *API) handleGetSku(w http.ResponseWriter, r *http.Request) {
	sku, err := a.service.GetSku(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sku": sku})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sku, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sku": sku})
}
