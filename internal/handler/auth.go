package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
	"github.com/jmerrifield20/kiosktrust/internal/identity"
	"github.com/jmerrifield20/kiosktrust/internal/ledger"
	"github.com/jmerrifield20/kiosktrust/internal/otp"
	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
)

// AuthHandler serves the OTP login flow.
type AuthHandler struct {
	otp      *otp.Service
	sessions *identity.SessionIssuer
	audit    *ledger.AuditTrail
	pii      *envelope.Envelope
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *otp.Service, sessions *identity.SessionIssuer, audit *ledger.AuditTrail, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{otp: svc, sessions: sessions, audit: audit, logger: logger}
}

// SetEnvelope enables encrypted copies of the mobile number in audit
// metadata. Without it only the masked form is recorded.
func (h *AuthHandler) SetEnvelope(e *envelope.Envelope) { h.pii = e }

// Register mounts the auth routes on rg.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/otp", h.RequestOTP)
		a.POST("/otp/verify", h.VerifyOTP)
		a.POST("/refresh", h.Refresh)
	}
}

type otpRequest struct {
	Mobile string `json:"mobile" binding:"required,numeric,len=10"`
}

type otpVerifyRequest struct {
	Mobile string `json:"mobile" binding:"required,numeric,len=10"`
	OTP    string `json:"otp" binding:"required,numeric"`
}

// RequestOTP handles POST /auth/otp.
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mobile must be a 10 digit number"})
		return
	}
	ctx := c.Request.Context()

	if err := h.record(c, ledger.ActionOTPRequested, ledger.System, req.Mobile); err != nil {
		auditUnavailable(c, err)
		return
	}

	ch, err := h.otp.Issue(ctx, req.Mobile)
	if err != nil {
		h.logger.Error("otp issue", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send OTP"})
		return
	}

	resp := gin.H{
		"message":            "OTP sent successfully",
		"masked_mobile":      ch.MaskedSubject,
		"expires_in_seconds": int(ch.ExpiresIn.Seconds()),
	}
	if ch.Code != "" {
		resp["otp"] = ch.Code
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyOTP handles POST /auth/otp/verify and issues a session on success.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mobile and otp are required"})
		return
	}
	ctx := c.Request.Context()
	// Citizens are identified by the lookup hash of their number.
	subject := envelope.HashForLookup(req.Mobile)
	actor := ledger.ActorRef{Kind: ledger.ActorUser, ID: subject}

	err := h.otp.Verify(ctx, req.Mobile, req.OTP)
	if err != nil {
		if aerr := h.record(c, ledger.ActionLoginFailed, actor, req.Mobile); aerr != nil {
			auditUnavailable(c, aerr)
			return
		}

		var exceeded *ratelimit.ExceededError
		switch {
		case errors.As(err, &exceeded):
			c.Header("Retry-After", strconv.Itoa(max(int(exceeded.RetryAfter.Seconds()), 1)))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		case errors.Is(err, otp.ErrCredentialExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "OTP expired"})
		case errors.Is(err, otp.ErrCredentialMismatch), errors.Is(err, otp.ErrCredentialNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid OTP"})
		default:
			h.logger.Error("otp verify", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		}
		return
	}

	// The OTP is already spent here. A login that cannot be audited does not
	// get a session; the citizen requests a new OTP.
	if err := h.record(c, ledger.ActionLogin, actor, req.Mobile); err != nil {
		auditUnavailable(c, err)
		return
	}
	pair, err := h.sessions.IssuePair(subject, ledger.ActorUser)
	if err != nil {
		h.logger.Error("issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}
	pair, err := h.sessions.Refresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	claims, err := h.sessions.VerifyAccess(pair.AccessToken)
	if err != nil {
		h.logger.Error("verify refreshed session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	if err := h.record(c, ledger.ActionTokenRefresh, claims.Actor(), ""); err != nil {
		auditUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// record appends an audit entry. The caller must not complete the operation
// when it returns an error.
func (h *AuthHandler) record(c *gin.Context, action ledger.ActionKind, actor ledger.ActorRef, mobile string) error {
	md := ledger.Meta("ip", c.ClientIP(), "user_agent", c.Request.UserAgent())
	if mobile != "" {
		md = append(md, ledger.Field{Key: "mobile", Value: envelope.MaskMobile(mobile)})
		if h.pii != nil {
			if enc, err := h.pii.Encrypt(mobile); err == nil {
				md = append(md, ledger.Field{Key: "mobile_enc", Value: enc})
			} else {
				h.logger.Warn("encrypt mobile for audit", zap.Error(err))
			}
		}
	}
	if _, err := h.audit.Record(c.Request.Context(), action, actor, nil, md); err != nil {
		h.logger.Error("audit record failed",
			zap.String("action", string(action)),
			zap.Bool("retryable", ledger.IsRetryable(err)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// auditUnavailable writes the response for an operation aborted because its
// audit entry could not be appended.
func auditUnavailable(c *gin.Context, err error) {
	if ledger.IsRetryable(err) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit ledger busy, retry"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record audit entry"})
}
