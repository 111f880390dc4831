package ledger_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/ledger"
)

func TestAuditTrail_usesGlobalChain(t *testing.T) {
	l, _ := newLedger()
	audit := ledger.NewAuditTrail(l)

	e, err := audit.Record(ctx, ledger.ActionAdminLogin, ledger.ActorRef{Kind: ledger.ActorAdmin, ID: "root"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.ChainKey != ledger.AuditChainKey {
		t.Errorf("chain key: got %q, want %q", e.ChainKey, ledger.AuditChainKey)
	}
	if err := audit.Verify(ctx); err != nil {
		t.Error(err)
	}
}

func TestReceiptBook_Issue(t *testing.T) {
	l, _ := newLedger()
	book := ledger.NewReceiptBook(l)

	r, err := book.Issue(ctx, "42", ledger.ActorRef{Kind: ledger.ActorUser, ID: "42"}, ledger.Payment{
		BillID: "B-1001",
		Amount: "1250.00",
		Method: ledger.MethodUPI,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Entry.ChainKey != "txn:42" {
		t.Errorf("chain key: got %q", r.Entry.ChainKey)
	}
	if r.Entry.Action != ledger.ActionPaymentReceipt {
		t.Errorf("action: got %q", r.Entry.Action)
	}
	if !regexp.MustCompile(`^TXN\d{14}[0-9A-F]{8}$`).MatchString(r.Payment.TransactionID) {
		t.Errorf("transaction id format: %q", r.Payment.TransactionID)
	}
	if !regexp.MustCompile(`^RCP\d{8}[0-9A-F]{5}$`).MatchString(r.Payment.ReceiptNumber) {
		t.Errorf("receipt number format: %q", r.Payment.ReceiptNumber)
	}
	if v, _ := r.Entry.Metadata.Get("receipt_number"); v != r.Payment.ReceiptNumber {
		t.Errorf("metadata receipt_number: got %q", v)
	}

	found, err := book.Find(ctx, "42", r.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if found.Seq != r.Entry.Seq {
		t.Errorf("Find returned seq %d, want %d", found.Seq, r.Entry.Seq)
	}
	if err := book.Verify(ctx, "42"); err != nil {
		t.Error(err)
	}
}

func TestReceiptBook_subjectsDoNotShareChains(t *testing.T) {
	l, _ := newLedger()
	book := ledger.NewReceiptBook(l)
	p := ledger.Payment{BillID: "B-1", Amount: "10.00", Method: ledger.MethodCash}

	a, _ := book.Issue(ctx, "1", ledger.System, p)
	b, _ := book.Issue(ctx, "2", ledger.System, p)
	if a.Entry.Seq != 1 || b.Entry.Seq != 1 {
		t.Errorf("each subject starts its own chain, got seqs %d and %d", a.Entry.Seq, b.Entry.Seq)
	}
	if _, err := book.Find(ctx, "2", a.Hash()); !errors.Is(err, ledger.ErrEntryNotFound) {
		t.Errorf("receipt must not be found on another subject's chain, got %v", err)
	}
}

func TestReceiptBook_rejectsInvalidPayment(t *testing.T) {
	book := ledger.NewReceiptBook(ledger.New(ledger.NewMemoryStore(time.Second), zap.NewNop()))
	cases := []struct {
		subject string
		p       ledger.Payment
	}{
		{"", ledger.Payment{BillID: "B", Amount: "1", Method: ledger.MethodUPI}},
		{"1", ledger.Payment{Amount: "1", Method: ledger.MethodUPI}},
		{"1", ledger.Payment{BillID: "B", Method: ledger.MethodUPI}},
		{"1", ledger.Payment{BillID: "B", Amount: "1", Method: "cheque"}},
	}
	for _, tc := range cases {
		if _, err := book.Issue(ctx, tc.subject, ledger.System, tc.p); !errors.Is(err, ledger.ErrInvalidPayment) {
			t.Errorf("Issue(%q, %+v): expected ErrInvalidPayment, got %v", tc.subject, tc.p, err)
		}
	}
}
