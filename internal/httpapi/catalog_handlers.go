package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tardis-create/revenueforge-sub000/internal/catalog"
)

type createProductRequest struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"price_cents"`
}

func (a *API) handleProductList(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "catalog is not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	products, err := a.products.List(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "catalog query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"count":    len(products),
	})
}

func (a *API) handleProductCreate(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "catalog is not configured")
		return
	}
	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	product := catalog.Product{
		SKU:        strings.TrimSpace(req.SKU),
		Name:       strings.TrimSpace(req.Name),
		Category:   strings.TrimSpace(req.Category),
		PriceCents: req.PriceCents,
	}
	if err := a.products.Create(r.Context(), &product); err != nil {
		if errors.Is(err, catalog.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "product create failed")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/products/%s", product.ID))
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleProductDelete(w http.ResponseWriter, r *http.Request) {
	if a.products == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "catalog is not configured")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/products/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	if err := a.products.Delete(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "product not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "product delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
