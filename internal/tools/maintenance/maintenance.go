// Package maintenance inspects and verifies a base ledger database offline.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/account"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/instruction"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/integrity"
	"github.com/louisbranch/taskescrow/internal/services/escrow/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath      string
	Timeout     time.Duration
	RentPerByte uint64
	Integrity   bool
	Journal     bool
	Audit       bool
	AfterSeq    uint64
	Limit       int
	WarningsCap int
	JSONOutput  bool
}

type envConfig struct {
	DBPath      string        `env:"TASKESCROW_DB_PATH"`
	Timeout     time.Duration `env:"TASKESCROW_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	RentPerByte uint64        `env:"TASKESCROW_RENT_LAMPORTS_PER_BYTE" envDefault:"6960"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:      envCfg.DBPath,
		Timeout:     envCfg.Timeout,
		RentPerByte: envCfg.RentPerByte,
		Limit:       50,
		WarningsCap: 25,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "escrow.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to base ledger sqlite database (default: TASKESCROW_DB_PATH or data/escrow.db)")
	fs.Uint64Var(&cfg.RentPerByte, "rent", cfg.RentPerByte, "rent in lamports per account byte used by -audit")
	fs.BoolVar(&cfg.Integrity, "integrity", false, "verify journal hashes, links and signatures")
	fs.BoolVar(&cfg.Journal, "journal", false, "list journal entries")
	fs.BoolVar(&cfg.Audit, "audit", false, "check escrow accounts for broken bookkeeping")
	fs.Uint64Var(&cfg.AfterSeq, "after-seq", 0, "list journal entries after this sequence")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "max journal entries to list")
	fs.IntVar(&cfg.WarningsCap, "warnings-cap", cfg.WarningsCap, "max warnings to print (0 = no limit)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if err := validate(cfg); err != nil {
		return err
	}
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.DBPath, keyring)
	if err != nil {
		return fmt.Errorf("open escrow store: %w", err)
	}
	return runWithDeps(ctx, cfg, store, out, errOut)
}

func validate(cfg Config) error {
	modes := 0
	for _, on := range []bool{cfg.Integrity, cfg.Journal, cfg.Audit} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		return errors.New("exactly one of -integrity, -journal or -audit is required")
	}
	if cfg.Journal && cfg.Limit <= 0 {
		return errors.New("-limit must be > 0")
	}
	if !cfg.Journal && cfg.AfterSeq > 0 {
		return errors.New("-after-seq requires -journal")
	}
	if cfg.WarningsCap < 0 {
		return errors.New("-warnings-cap must be >= 0")
	}
	return nil
}

// runWithDeps owns the store and closes it on return.
func runWithDeps(ctx context.Context, cfg Config, store storage.Store, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close escrow store: %v\n", err)
		}
	}()
	if err := validate(cfg); err != nil {
		return err
	}

	var result runResult
	switch {
	case cfg.Integrity:
		result = checkIntegrity(ctx, store)
	case cfg.Journal:
		result = listJournal(ctx, store, cfg.AfterSeq, cfg.Limit)
	default:
		result = auditAccounts(ctx, store, account.Rent{LamportsPerByte: cfg.RentPerByte})
	}
	result.Warnings, result.WarningsTotal = capWarnings(result.Warnings, cfg.WarningsCap)
	if cfg.JSONOutput {
		outputJSON(out, errOut, result)
	} else {
		printResult(out, errOut, result)
	}
	if result.ExitCode != 0 {
		return errors.New("maintenance failed")
	}
	return nil
}

type integrityReport struct {
	LatestSlot uint64 `json:"latest_slot"`
}

type journalRow struct {
	Seq         uint64    `json:"seq"`
	Slot        uint64    `json:"slot"`
	Kind        string    `json:"kind"`
	RequestID   string    `json:"request_id,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
	ChainHash   string    `json:"chain_hash"`
	KeyID       string    `json:"key_id,omitempty"`
}

type journalReport struct {
	AfterSeq uint64       `json:"after_seq"`
	Entries  []journalRow `json:"entries"`
}

type auditReport struct {
	Tasks            int    `json:"tasks"`
	DelegatedTasks   int    `json:"delegated_tasks"`
	Vaults           int    `json:"vaults"`
	Responses        int    `json:"responses"`
	EscrowedLamports uint64 `json:"escrowed_lamports"`
}

type runResult struct {
	Mode          string          `json:"mode"`
	Report        json.RawMessage `json:"report,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
	WarningsTotal int             `json:"warnings_total,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExitCode      int             `json:"-"`
}

func (r *runResult) fail(format string, args ...any) runResult {
	r.Error = fmt.Sprintf(format, args...)
	r.ExitCode = 1
	return *r
}

func (r *runResult) setReport(report any) runResult {
	payload, err := json.Marshal(report)
	if err != nil {
		return r.fail("encode report: %v", err)
	}
	r.Report = payload
	return *r
}

func checkIntegrity(ctx context.Context, store storage.Store) runResult {
	result := runResult{Mode: "integrity"}
	if err := store.VerifyJournal(ctx); err != nil {
		return result.fail("verify journal: %v", err)
	}
	slot, err := store.LatestSlot(ctx)
	if err != nil {
		return result.fail("latest slot: %v", err)
	}
	return result.setReport(integrityReport{LatestSlot: slot})
}

func listJournal(ctx context.Context, store storage.Store, afterSeq uint64, limit int) runResult {
	result := runResult{Mode: "journal"}
	entries, err := store.ListEntries(ctx, afterSeq, limit)
	if err != nil {
		return result.fail("list journal: %v", err)
	}
	report := journalReport{AfterSeq: afterSeq, Entries: make([]journalRow, 0, len(entries))}
	for _, entry := range entries {
		report.Entries = append(report.Entries, journalRow{
			Seq:         entry.Seq,
			Slot:        entry.Slot,
			Kind:        entry.Kind,
			RequestID:   entry.RequestID,
			CommittedAt: entry.CommittedAt,
			ChainHash:   entry.ChainHash,
			KeyID:       entry.KeyID,
		})
	}
	return result.setReport(report)
}

// auditAccounts walks every account owned by the escrow and delegation
// programs and reports records whose bookkeeping does not add up.
func auditAccounts(ctx context.Context, store storage.Store, rent account.Rent) runResult {
	result := runResult{Mode: "audit"}
	var report auditReport
	warn := func(format string, args ...any) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	err := store.ScanAccounts(ctx, instruction.EscrowProgramID, func(addr address.Address, acct account.Account) error {
		kind, ok := account.KindOf(acct.Data)
		if !ok {
			warn("account %s has no known record kind", addr)
			return nil
		}
		switch kind {
		case account.KindTask:
			var task account.Task
			if err := account.Decode(acct.Data, &task); err != nil {
				warn("task %s: %v", addr, err)
				return nil
			}
			report.Tasks++
			if task.Delegation != account.Local {
				warn("task %s is owned by the escrow program but tagged %s", addr, task.Delegation)
			}
			if task.ResponsesReceived > task.MaxResponses {
				warn("task %s received %d responses, max %d", addr, task.ResponsesReceived, task.MaxResponses)
			}
		case account.KindRewardVault:
			var vault account.RewardVault
			if err := account.Decode(acct.Data, &vault); err != nil {
				warn("vault %s: %v", addr, err)
				return nil
			}
			report.Vaults++
			report.EscrowedLamports += vault.Balance
			if want := rent.Minimum(len(acct.Data)) + vault.Balance; acct.Lamports != want {
				warn("vault %s holds %d lamports, want %d (balance %d)", addr, acct.Lamports, want, vault.Balance)
			}
		case account.KindResponse:
			var response account.Response
			if err := account.Decode(acct.Data, &response); err != nil {
				warn("response %s: %v", addr, err)
				return nil
			}
			report.Responses++
			if response.IsPaid && !response.IsVerified {
				warn("response %s is paid but not verified", addr)
			}
		}
		return nil
	})
	if err != nil {
		return result.fail("scan escrow accounts: %v", err)
	}

	err = store.ScanAccounts(ctx, instruction.DelegationProgramID, func(addr address.Address, acct account.Account) error {
		if kind, _ := account.KindOf(acct.Data); kind != account.KindTask {
			return nil
		}
		var task account.Task
		if err := account.Decode(acct.Data, &task); err != nil {
			warn("delegated task %s: %v", addr, err)
			return nil
		}
		report.DelegatedTasks++
		if task.Delegation != account.Delegated {
			warn("task %s is frozen by the delegation program but tagged %s", addr, task.Delegation)
		}
		return nil
	})
	if err != nil {
		return result.fail("scan delegated accounts: %v", err)
	}

	result.setReport(report)
	if len(result.Warnings) > 0 {
		result.ExitCode = 1
	}
	return result
}

func capWarnings(warnings []string, limit int) ([]string, int) {
	total := len(warnings)
	if limit == 0 || total <= limit {
		return warnings, total
	}
	return warnings[:limit], total
}

func outputJSON(out io.Writer, errOut io.Writer, result runResult) {
	encoded, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(errOut, "Error: encode report: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(encoded))
}

func printResult(out io.Writer, errOut io.Writer, result runResult) {
	if result.Error != "" {
		fmt.Fprintf(errOut, "Error: %s\n", result.Error)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(errOut, "Warning: %s\n", warning)
	}
	if result.WarningsTotal > len(result.Warnings) {
		fmt.Fprintf(errOut, "Warning: %d more warnings suppressed\n", result.WarningsTotal-len(result.Warnings))
	}
	if len(result.Report) == 0 {
		return
	}

	switch result.Mode {
	case "integrity":
		var report integrityReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "Error: decode report: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Journal verified through slot %d\n", report.LatestSlot)
	case "journal":
		var report journalReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "Error: decode report: %v\n", err)
			return
		}
		for _, row := range report.Entries {
			fmt.Fprintf(out, "seq=%d slot=%d kind=%s request=%s at=%s chain=%s\n",
				row.Seq, row.Slot, row.Kind, row.RequestID, row.CommittedAt.Format(time.RFC3339), row.ChainHash)
		}
		fmt.Fprintf(out, "%d entries after seq %d\n", len(report.Entries), report.AfterSeq)
	default:
		var report auditReport
		if err := json.Unmarshal(result.Report, &report); err != nil {
			fmt.Fprintf(errOut, "Error: decode report: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Audited %d tasks (%d delegated), %d vaults escrowing %d lamports, %d responses\n",
			report.Tasks, report.DelegatedTasks, report.Vaults, report.EscrowedLamports, report.Responses)
	}
}
