package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Chain keys come in two shapes with different contention profiles.
//
// The audit chain is a single global key. Every audited action in the system
// appends to it, so audit appends are totally ordered and serialise on one
// lock. This is what lets an auditor prove no record was dropped between two
// receipts, and it caps audit throughput at one append per lock round trip.
//
// Transaction chains are keyed per paying subject ("txn:<subject>"). A
// subject's receipts are ordered among themselves, but payments from
// different subjects never wait on each other and no cross-subject order is
// recorded.
const (
	AuditChainKey        = "audit"
	transactionKeyPrefix = "txn:"
)

// TransactionChainKey returns the chain key holding subject's receipts.
func TransactionChainKey(subject string) string {
	return transactionKeyPrefix + subject
}

// AuditTrail appends compliance records to the global audit chain.
type AuditTrail struct {
	ledger *Ledger
}

// NewAuditTrail creates an AuditTrail over l.
func NewAuditTrail(l *Ledger) *AuditTrail {
	return &AuditTrail{ledger: l}
}

// Record appends an audit entry and returns it.
func (a *AuditTrail) Record(ctx context.Context, action ActionKind, actor ActorRef, resource *ResourceRef, md Metadata) (*Entry, error) {
	return a.ledger.Append(ctx, AuditChainKey, action, actor, resource, md)
}

// Verify checks the whole audit chain.
func (a *AuditTrail) Verify(ctx context.Context) error {
	return a.ledger.Verify(ctx, AuditChainKey)
}

// PaymentMethod is how a bill was paid.
type PaymentMethod string

const (
	MethodUPI        PaymentMethod = "upi"
	MethodDebitCard  PaymentMethod = "debit_card"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodNetBanking PaymentMethod = "net_banking"
	MethodCash       PaymentMethod = "cash"
	MethodWallet     PaymentMethod = "wallet"
)

// IsValid reports whether m is a known payment method.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodUPI, MethodDebitCard, MethodCreditCard, MethodNetBanking, MethodCash, MethodWallet:
		return true
	}
	return false
}

// ErrInvalidPayment is returned by ReceiptBook.Issue for incomplete payments.
var ErrInvalidPayment = errors.New("invalid payment")

// Payment describes a completed bill payment. TransactionID and
// ReceiptNumber are generated when empty. Amount is a decimal string so the
// hashed value is exactly what was charged.
type Payment struct {
	TransactionID string
	ReceiptNumber string
	BillID        string
	Amount        string
	Method        PaymentMethod
}

// Receipt is the outcome of ReceiptBook.Issue.
type Receipt struct {
	Payment Payment
	Entry   *Entry
}

// Hash returns the citizen-facing receipt hash.
func (r *Receipt) Hash() string { return r.Entry.ContentHash }

// ReceiptBook appends payment receipts to per-subject transaction chains.
type ReceiptBook struct {
	ledger *Ledger
	now    func() time.Time
}

// NewReceiptBook creates a ReceiptBook over l.
func NewReceiptBook(l *Ledger) *ReceiptBook {
	return &ReceiptBook{ledger: l, now: time.Now}
}

// Issue records p on subject's transaction chain.
func (b *ReceiptBook) Issue(ctx context.Context, subject string, actor ActorRef, p Payment) (*Receipt, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidPayment)
	}
	if p.BillID == "" || p.Amount == "" {
		return nil, fmt.Errorf("%w: bill id and amount are required", ErrInvalidPayment)
	}
	if !p.Method.IsValid() {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, p.Method)
	}
	now := b.now()
	if p.TransactionID == "" {
		p.TransactionID = NewTransactionID(now)
	}
	if p.ReceiptNumber == "" {
		p.ReceiptNumber = NewReceiptNumber(now)
	}

	e, err := b.ledger.Append(ctx, TransactionChainKey(subject), ActionPaymentReceipt, actor,
		Resource("bill", p.BillID),
		Meta(
			"transaction_id", p.TransactionID,
			"receipt_number", p.ReceiptNumber,
			"amount", p.Amount,
			"method", string(p.Method),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("issue receipt: %w", err)
	}
	return &Receipt{Payment: p, Entry: e}, nil
}

// Find looks up a receipt hash on subject's chain.
func (b *ReceiptBook) Find(ctx context.Context, subject, hash string) (*Entry, error) {
	return b.ledger.FindByHash(ctx, TransactionChainKey(subject), hash)
}

// Verify checks subject's transaction chain.
func (b *ReceiptBook) Verify(ctx context.Context, subject string) error {
	return b.ledger.Verify(ctx, TransactionChainKey(subject))
}

// NewTransactionID returns an id of the form TXN<yyyymmddhhmmss><8 hex>.
func NewTransactionID(now time.Time) string {
	return "TXN" + now.UTC().Format("20060102150405") + randomHex(8)
}

// NewReceiptNumber returns a number of the form RCP<yyyymmdd><5 hex>.
func NewReceiptNumber(now time.Time) string {
	return "RCP" + now.UTC().Format("20060102") + randomHex(5)
}

func randomHex(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}
