package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/identity"
	"github.com/jmerrifield20/kiosktrust/internal/ledger"
)

// PaymentHandler records completed bill payments. The gateway is simulated:
// every well-formed request is treated as settled.
type PaymentHandler struct {
	receipts *ledger.ReceiptBook
	audit    *ledger.AuditTrail
	logger   *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(l *ledger.Ledger, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		receipts: ledger.NewReceiptBook(l),
		audit:    ledger.NewAuditTrail(l),
		logger:   logger,
	}
}

// Register mounts the payment routes on rg behind auth.
func (h *PaymentHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	rg.POST("/payments", auth, h.Pay)
}

type paymentRequest struct {
	BillID string `json:"bill_id" binding:"required"`
	Amount string `json:"amount" binding:"required,numeric"`
	Method string `json:"method" binding:"required"`
}

// Pay handles POST /payments. The receipt is appended to the caller's
// transaction chain and the payment is mirrored on the audit chain.
func (h *PaymentHandler) Pay(c *gin.Context) {
	claims, ok := identity.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bill_id, amount and method are required"})
		return
	}
	method := ledger.PaymentMethod(req.Method)
	if !method.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown payment method"})
		return
	}
	ctx := c.Request.Context()
	actor := claims.Actor()
	bill := ledger.Resource("bill", req.BillID)

	// Nothing is charged unless the attempt is on the audit chain.
	if _, err := h.audit.Record(ctx, ledger.ActionBillPaymentInitiated, actor, bill,
		ledger.Meta("amount", req.Amount, "method", req.Method),
	); err != nil {
		h.logAuditFailure(ledger.ActionBillPaymentInitiated, err)
		auditUnavailable(c, err)
		return
	}

	r, err := h.receipts.Issue(ctx, claims.Subject, actor, ledger.Payment{
		BillID: req.BillID,
		Amount: req.Amount,
		Method: method,
	})
	switch {
	case errors.Is(err, ledger.ErrInvalidPayment):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case ledger.IsRetryable(err):
		h.logger.Warn("receipt append contended", zap.String("bill_id", req.BillID), zap.Error(err))
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger busy, retry"})
		return
	case err != nil:
		h.logger.Error("issue receipt", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record payment"})
		return
	}

	body := gin.H{
		"transaction_id": r.Payment.TransactionID,
		"receipt_number": r.Payment.ReceiptNumber,
		"receipt_hash":   r.Hash(),
		"amount":         r.Payment.Amount,
		"method":         r.Payment.Method,
		"paid_at":        r.Entry.CreatedAt,
	}

	if _, err := h.audit.Record(ctx, ledger.ActionBillPaymentSuccess, actor, bill,
		ledger.Meta(
			"transaction_id", r.Payment.TransactionID,
			"receipt_hash", r.Hash(),
		),
	); err != nil {
		// The receipt is on the citizen's chain. Report it so the client does
		// not pay again, but do not report success.
		h.logAuditFailure(ledger.ActionBillPaymentSuccess, err,
			zap.String("transaction_id", r.Payment.TransactionID))
		body["error"] = "payment recorded but audit entry failed"
		status := http.StatusInternalServerError
		if ledger.IsRetryable(err) {
			c.Header("Retry-After", "1")
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusCreated, body)
}

func (h *PaymentHandler) logAuditFailure(action ledger.ActionKind, err error, fields ...zap.Field) {
	h.logger.Error("audit record failed", append([]zap.Field{
		zap.String("action", string(action)),
		zap.Bool("retryable", ledger.IsRetryable(err)),
		zap.Error(err),
	}, fields...)...)
}
