package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/kiosktrust/internal/ledger"
)

var (
	ledgerChain   string
	ledgerSubject string
	ledgerFormat  string
	verifyAll     bool
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify hash chains",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every hash on a chain and report breaks",
	Long: `verify walks a chain from genesis, recomputing each content hash and
checking each link. By default it stops at the first break; --all lists
every entry from the break onwards, since a break invalidates everything
after it.

  kioskctl ledger verify                     # global audit chain
  kioskctl ledger verify --subject <hash>    # a citizen's receipts`,
	RunE: runLedgerVerify,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the latest sequence number and content hash of a chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		l, release, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer release()

		key := chainKey()
		t, err := l.Tail(ctx, key)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ledgerFormat == "json" {
			return writeJSON(out, map[string]any{"chain_key": key, "seq": t.Seq, "tip": t.ContentHash})
		}
		fmt.Fprintf(out, "Chain: %s\n", key)
		fmt.Fprintf(out, "Seq:   %d\n", t.Seq)
		fmt.Fprintf(out, "Tip:   %s\n", t.ContentHash)
		return nil
	},
}

func init() {
	ledgerCmd.PersistentFlags().StringVar(&ledgerChain, "chain", ledger.AuditChainKey, "chain key")
	ledgerCmd.PersistentFlags().StringVar(&ledgerSubject, "subject", "", "select the transaction chain of this subject (overrides --chain)")
	ledgerCmd.PersistentFlags().StringVar(&ledgerFormat, "format", "text", "Output format: text or json")
	ledgerVerifyCmd.Flags().BoolVar(&verifyAll, "all", false, "list every failing entry instead of stopping at the first")

	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
}

func chainKey() string {
	if ledgerSubject != "" {
		return ledger.TransactionChainKey(ledgerSubject)
	}
	return ledgerChain
}

// errChainBroken makes the process exit non-zero after the report is printed.
var errChainBroken = errors.New("chain failed verification")

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	l, release, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer release()

	key := chainKey()
	report, err := collectVerification(ctx, l, key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if ledgerFormat == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else if err := printVerification(out, report); err != nil {
		return err
	}
	if len(report.Breaks) > 0 {
		return errChainBroken
	}
	return nil
}

type verifyReport struct {
	ChainKey string       `json:"chain_key"`
	Checked  int          `json:"checked"`
	Valid    bool         `json:"valid"`
	Breaks   []verifyFail `json:"breaks,omitempty"`
}

type verifyFail struct {
	Seq    int64  `json:"seq"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func collectVerification(ctx context.Context, l *ledger.Ledger, key string) (*verifyReport, error) {
	report := &verifyReport{ChainKey: key}
	for v, err := range l.VerifyChain(ctx, key) {
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", key, err)
		}
		report.Checked++
		if v.Verified {
			continue
		}
		reason := v.Err.Reason
		if v.Err.Seq != v.Entry.Seq {
			reason = fmt.Sprintf("follows break at seq %d", v.Err.Seq)
		}
		report.Breaks = append(report.Breaks, verifyFail{
			Seq:    v.Entry.Seq,
			Action: string(v.Entry.Action),
			Reason: reason,
		})
		if !verifyAll {
			break
		}
	}
	report.Valid = len(report.Breaks) == 0
	return report, nil
}

func printVerification(out io.Writer, r *verifyReport) error {
	if r.Valid {
		fmt.Fprintf(out, "chain %q OK (%d entries)\n", r.ChainKey, r.Checked)
		return nil
	}
	fmt.Fprintf(out, "chain %q BROKEN at seq %d\n", r.ChainKey, r.Breaks[0].Seq)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tACTION\tREASON")
	for _, b := range r.Breaks {
		fmt.Fprintf(w, "%d\t%s\t%s\n", b.Seq, b.Action, b.Reason)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
