package handler

import (
	"net/http"

	"tablepos/internal/dto"
	"tablepos/internal/middleware"
	"tablepos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PaymentHandler struct{ ledger service.PaymentLedger }

func NewPaymentHandler(ledger service.PaymentLedger) *PaymentHandler {
	return &PaymentHandler{ledger: ledger}
}

// RegisterPayment godoc
// @Summary      Register payment lines
// @Description  Applies one or more payment lines atomically and returns the recomputed ledger. Lines carrying an externalRef already used on the billing are rejected.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.RegisterPaymentRequest true "Payment lines"
// @Success      201  {object} dto.BillLedger
// @Failure      404  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError "duplicate externalRef"
// @Failure      422  {object} apierror.APIError
// @Router       /v1/payments [post]
func (h *PaymentHandler) RegisterPayment(c *gin.Context) {
	var req dto.RegisterPaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if claims := middleware.GetClaims(c); claims != nil {
		req.CreatedBy = &claims.ServerID
	}
	ledger, err := h.ledger.RegisterPayment(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ledger)
}

// ApplyDiscount godoc
// @Summary      Apply a billing discount
// @Description  Adds to the billing discount; the part exceeding the remaining total is dropped.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        billingId path  string                   true  "Billing UUID"
// @Param        sessionId query string                   true  "Session UUID"
// @Param        reason    query string                   false "Reason"
// @Param        by        query string                   false "Staff id"
// @Param        body      body  dto.ApplyDiscountRequest true  "Amount"
// @Success      200       {object} dto.BillLedger
// @Failure      404       {object} apierror.APIError
// @Failure      422       {object} apierror.APIError
// @Router       /v1/payments/{billingId}/discounts [post]
func (h *PaymentHandler) ApplyDiscount(c *gin.Context) {
	billingID, ok := uuidParam(c, "billingId")
	if !ok {
		return
	}
	var params dto.ApplyDiscountParams
	if !bindQuery(c, &params) {
		return
	}
	var req dto.ApplyDiscountRequest
	if !bindAndValidate(c, &req) {
		return
	}
	by := params.By
	if by == nil {
		if claims := middleware.GetClaims(c); claims != nil {
			by = &claims.ServerID
		}
	}
	sessionID := uuid.MustParse(params.SessionID) // validated by the uuid tag
	ledger, err := h.ledger.ApplyDiscount(c.Request.Context(), billingID, sessionID, req.DiscountAmount, params.Reason, by)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

// GetLedger godoc
// @Summary      Billing ledger
// @Tags         payments
// @Produce      json
// @Security     BearerAuth
// @Param        billingId path string true "Billing UUID"
// @Success      200       {object} dto.BillLedger
// @Failure      404       {object} apierror.APIError
// @Router       /v1/payments/{billingId}/ledger [get]
func (h *PaymentHandler) GetLedger(c *gin.Context) {
	billingID, ok := uuidParam(c, "billingId")
	if !ok {
		return
	}
	ledger, err := h.ledger.GetLedger(c.Request.Context(), billingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

// ListPayments godoc
// @Summary      Payment lines of a billing
// @Tags         payments
// @Produce      json
// @Security     BearerAuth
// @Param        billingId path string true "Billing UUID"
// @Success      200       {array}  dto.PaymentView
// @Failure      404       {object} apierror.APIError
// @Router       /v1/payments/{billingId} [get]
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	billingID, ok := uuidParam(c, "billingId")
	if !ok {
		return
	}
	payments, err := h.ledger.ListPayments(c.Request.Context(), billingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payments)
}

// ListLogs godoc
// @Summary      Payment audit log
// @Tags         payments
// @Produce      json
// @Security     BearerAuth
// @Param        billingId path  string true  "Billing UUID"
// @Param        page      query int    false "Page (1-based)"
// @Param        pageSize  query int    false "Page size (max 100)"
// @Success      200       {object} dto.Page[dto.PaymentLogView]
// @Failure      404       {object} apierror.APIError
// @Router       /v1/payments/{billingId}/logs [get]
func (h *PaymentHandler) ListLogs(c *gin.Context) {
	billingID, ok := uuidParam(c, "billingId")
	if !ok {
		return
	}
	var q dto.PageQuery
	if !bindQuery(c, &q) {
		return
	}
	page, err := h.ledger.ListLogs(c.Request.Context(), billingID, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
