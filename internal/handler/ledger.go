package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/ledger"
)

// LedgerHandler exposes read-only HTTP endpoints for the audit chain and
// payment receipts.
type LedgerHandler struct {
	ledger   *ledger.Ledger
	receipts *ledger.ReceiptBook
	logger   *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l *ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, receipts: ledger.NewReceiptBook(l), logger: logger}
}

// Register mounts the ledger routes on rg. adminOnly guards the audit
// chain; receipt lookups are public because the hash is the credential.
func (h *LedgerHandler) Register(rg *gin.RouterGroup, adminOnly gin.HandlerFunc) {
	l := rg.Group("/ledger")
	{
		audit := l.Group("/audit", adminOnly)
		audit.GET("", h.AuditOverview)
		audit.GET("/verify", h.AuditVerify)
		l.GET("/receipts/:hash", h.GetReceipt)
	}
}

// AuditOverview handles GET /ledger/audit and returns the chain length and tip.
func (h *LedgerHandler) AuditOverview(c *gin.Context) {
	tail, err := h.ledger.Tail(c.Request.Context(), ledger.AuditChainKey)
	if err != nil {
		h.logger.Error("ledger Tail", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chain_key": ledger.AuditChainKey,
		"entries":   tail.Seq,
		"tip":       tail.ContentHash,
	})
}

// AuditVerify handles GET /ledger/audit/verify. It walks the full chain and
// reports the first break, if any.
func (h *LedgerHandler) AuditVerify(c *gin.Context) {
	var (
		checked int64
		broken  *ledger.ChainIntegrityError
	)
	for v, err := range h.ledger.VerifyChain(c.Request.Context(), ledger.AuditChainKey) {
		if err != nil {
			h.logger.Error("ledger verify lookup failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable, retry later"})
			return
		}
		checked++
		if !v.Verified {
			broken = v.Err
			break
		}
	}

	if broken != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(broken))
		c.JSON(http.StatusOK, gin.H{
			"valid":     false,
			"checked":   checked,
			"broken_at": broken.Seq,
			"error":     broken.Reason,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "checked": checked})
}

// GetReceipt handles GET /ledger/receipts/:hash?subject= and returns the
// receipt entry from the subject's transaction chain.
func (h *LedgerHandler) GetReceipt(c *gin.Context) {
	subject := c.Query("subject")
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject query parameter is required"})
		return
	}

	entry, err := h.receipts.Find(c.Request.Context(), subject, c.Param("hash"))
	switch {
	case errors.Is(err, ledger.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
		return
	case err != nil:
		h.logger.Error("receipt lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
