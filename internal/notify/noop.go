package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
)

// NoopSender logs messages instead of delivering them. The number is always
// masked; the body is only logged when debug is set.
type NoopSender struct {
	logger *zap.Logger
	debug  bool
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger, debug bool) *NoopSender {
	return &NoopSender{logger: logger, debug: debug}
}

// Send logs the message and returns nil.
func (n *NoopSender) Send(_ context.Context, mobile, body string) error {
	fields := []zap.Field{zap.String("to", envelope.MaskMobile(mobile))}
	if n.debug {
		fields = append(fields, zap.String("body", body))
	}
	n.logger.Info("sms (noop, not sent)", fields...)
	return nil
}
