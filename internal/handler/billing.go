package handler

import (
	"net/http"

	"tablepos/internal/apierror"
	"tablepos/internal/dto"
	"tablepos/internal/service"

	"github.com/gin-gonic/gin"
)

type BillingHandler struct {
	svc   service.BillingService
	mover service.SessionMover
}

func NewBillingHandler(svc service.BillingService, mover service.SessionMover) *BillingHandler {
	return &BillingHandler{svc: svc, mover: mover}
}

// CreateBilling godoc
// @Summary      Open a billing
// @Description  Creates a billing and its first active session at the given table.
// @Tags         billings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.CreateBillingRequest true "Customer and table"
// @Success      201  {object} dto.CreateBillingResponse
// @Failure      409  {object} apierror.APIError "table already has an active session"
// @Failure      422  {object} apierror.APIError
// @Router       /v1/billings [post]
func (h *BillingHandler) CreateBilling(c *gin.Context) {
	var req dto.CreateBillingRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CreateBilling(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// MoveSession godoc
// @Summary      Move a session to another table
// @Description  Marks the session moved and opens a successor session on the destination table under the same billing.
// @Tags         billings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string                 true "Session UUID"
// @Param        body body dto.MoveSessionRequest true "Tables and server"
// @Success      200  {object} dto.MoveSessionResponse
// @Failure      404  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError "destination occupied or session not active"
// @Router       /v1/billings/{id}/move [post]
func (h *BillingHandler) MoveSession(c *gin.Context) {
	sessionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.MoveSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.mover.MoveSession(c.Request.Context(), sessionID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetBilling godoc
// @Summary      Billing view
// @Description  Sessions (in start order), their orders and recomputed totals.
// @Tags         billings
// @Produce      json
// @Security     BearerAuth
// @Param        id  path string true "Billing UUID"
// @Success      200 {object} dto.BillingView
// @Failure      404 {object} apierror.APIError
// @Router       /v1/billings/{id} [get]
func (h *BillingHandler) GetBilling(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := h.svc.GetBilling(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if view == nil {
		respondError(c, apierror.NotFound("billing not found"))
		return
	}
	c.JSON(http.StatusOK, view)
}

// CloseBilling godoc
// @Summary      Close a billing
// @Description  Closes the billing and ends its active sessions. Idempotent.
// @Tags         billings
// @Produce      json
// @Security     BearerAuth
// @Param        id  path string true "Billing UUID"
// @Success      200 {object} dto.BillingView
// @Failure      404 {object} apierror.APIError
// @Router       /v1/billings/{id}/close [post]
func (h *BillingHandler) CloseBilling(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := h.svc.CloseBilling(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Receipt godoc
// @Summary      Receipt data
// @Description  Flattened item lines and totals for the receipt printer.
// @Tags         billings
// @Produce      json
// @Security     BearerAuth
// @Param        id  path string true "Billing UUID"
// @Success      200 {object} dto.ReceiptResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/billings/{id}/receipt [get]
func (h *BillingHandler) Receipt(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Receipt(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetTableSession godoc
// @Summary      Active session of a table
// @Tags         tables
// @Produce      json
// @Security     BearerAuth
// @Param        label path string true "Table label"
// @Success      200   {object} dto.SessionView
// @Failure      404   {object} apierror.APIError
// @Router       /v1/tables/{label}/session [get]
func (h *BillingHandler) GetTableSession(c *gin.Context) {
	view, err := h.svc.GetActiveSession(c.Request.Context(), c.Param("label"))
	if err != nil {
		respondError(c, err)
		return
	}
	if view == nil {
		respondError(c, apierror.NotFound("no active session at this table"))
		return
	}
	c.JSON(http.StatusOK, view)
}
