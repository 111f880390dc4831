// Package notify delivers short text messages (OTP codes) to citizens.
// No real SMS gateway is wired; NoopSender stands in for one.
package notify

import "context"

// Sender delivers a text message to a mobile number.
type Sender interface {
	Send(ctx context.Context, mobile, body string) error
}
