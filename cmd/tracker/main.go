// Command tracker drives the process-tracking ledger from the shell: schema
// bootstrap, catalog seeding, batch creation, and starting and completing
// attempts.
//
// Usage:
//
//	tracker [--config tracking.yaml] <command> [flags]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	tracking "github.com/jdziat/simple-process-tracking"
	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/security"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitConflict = 3
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

// cli runs one invocation and returns its exit code.
func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintf(stderr, "tracker: %s\n", security.SanitizeMessage(err.Error()))

	var usageErr usageError
	switch {
	case errors.As(err, &usageErr):
		fmt.Fprintln(stderr, "run 'tracker --help' for usage")
		return exitUsage
	case core.KindOf(err).Conflict():
		return exitConflict
	default:
		return exitError
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageError{msg: err.Error()}
	}
	return nil
}

// app holds what the subcommands share.
type app struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Record manufacturing process attempts against batches and items",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{msg: fmt.Sprintf("unknown command %q", args[0])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
			return usageError{msg: "a command is required"}
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("TRACKING_CONFIG"), "path to the YAML configuration")

	root.AddCommand(
		a.migrateCmd(),
		a.seedCatalogCmd(),
		a.catalogCmd(),
		a.createBatchCmd(),
		a.startCmd(),
		a.completeCmd(),
		a.historyCmd(),
		a.openCmd(),
	)
	return root
}

// withService opens the service, runs fn and closes the service again.
// edit may adjust the loaded configuration first.
func (a *app) withService(cmd *cobra.Command, edit func(*tracking.Config), fn func(ctx context.Context, svc *tracking.Service) error) error {
	cfg, err := tracking.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if edit != nil {
		edit(&cfg)
	}
	ctx := cmd.Context()
	svc, err := tracking.Open(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = svc.Close() }()
	return fn(ctx, svc)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUnit(raw string) (core.UnitRef, error) {
	if strings.TrimSpace(raw) == "" {
		return core.UnitRef{}, usageError{msg: "--unit is required"}
	}
	return core.ParseUnitRef(raw)
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and exit",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, nil, func(context.Context, *tracking.Service) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return err
			})
		},
	}
}

func (a *app) seedCatalogCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-catalog",
		Short: "Define operations from a YAML file and list the result",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(file) == "" {
				return usageError{msg: "--file is required"}
			}
			edit := func(cfg *tracking.Config) { cfg.CatalogFile = file }
			return a.withService(cmd, edit, func(ctx context.Context, svc *tracking.Service) error {
				return printCatalog(ctx, svc, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML file")
	return cmd
}

type operationView struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Type     string `json:"type"`
}

func (a *app) catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List active operations in order",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, nil, func(ctx context.Context, svc *tracking.Service) error {
				return printCatalog(ctx, svc, cmd.OutOrStdout())
			})
		},
	}
}

func printCatalog(ctx context.Context, svc *tracking.Service, out io.Writer) error {
	snap, err := svc.Catalog.Snapshot(ctx)
	if err != nil {
		return err
	}
	active := snap.Active()
	views := make([]operationView, 0, len(active))
	for _, op := range active {
		views = append(views, operationView{Code: op.Code, Name: op.Name, Position: op.Position, Type: string(op.Type)})
	}
	return writeJSON(out, views)
}

type batchView struct {
	ID    string   `json:"id"`
	Code  string   `json:"code"`
	Size  int      `json:"size"`
	Items []string `json:"items"`
}

func (a *app) createBatchCmd() *cobra.Command {
	var (
		code string
		size int
	)
	cmd := &cobra.Command{
		Use:   "create-batch",
		Short: "Create a batch and its items",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd, nil, func(ctx context.Context, svc *tracking.Service) error {
				batch, items, err := svc.Registry.CreateBatch(ctx, code, size)
				if err != nil {
					return err
				}
				view := batchView{ID: batch.ID, Code: batch.Code, Size: batch.Size, Items: make([]string, 0, len(items))}
				for _, it := range items {
					view.Items = append(view.Items, it.ID)
				}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "batch code")
	cmd.Flags().IntVar(&size, "size", 0, "number of items (1..100)")
	return cmd
}

func (a *app) startCmd() *cobra.Command {
	var (
		unit, op, operator string
		position           int
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open an attempt for a unit at an operation",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := parseUnit(unit)
			if err != nil {
				return err
			}
			opRef := tracking.OperationByCode(op)
			if strings.TrimSpace(op) == "" {
				opRef = tracking.OperationAt(position)
			}
			return a.withService(cmd, nil, func(ctx context.Context, svc *tracking.Service) error {
				attempt, err := svc.Ledger.StartProcess(ctx, ref, opRef, operator)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), attempt)
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit ref, e.g. IN_PROCESS:<id>")
	cmd.Flags().StringVar(&op, "op", "", "operation code")
	cmd.Flags().IntVar(&position, "position", 0, "operation position, used when --op is empty")
	cmd.Flags().StringVar(&operator, "operator", "", "operator or station")
	return cmd
}

func (a *app) completeCmd() *cobra.Command {
	var (
		id              int64
		result, payload string
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Close an open attempt with PASS, FAIL or REWORK",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id <= 0 {
				return usageError{msg: "--attempt is required"}
			}
			var body []byte
			if payload != "" {
				body = []byte(payload)
			}
			return a.withService(cmd, nil, func(ctx context.Context, svc *tracking.Service) error {
				rec, err := svc.Ledger.CompleteProcess(ctx, tracking.AttemptRef{ID: id}, core.Result(strings.ToUpper(result)), body)
				if err != nil {
					return err
				}
				view := map[string]any{
					"attempt_id":  rec.Attempt.ID,
					"result":      rec.Attempt.Result,
					"duration_ms": rec.Duration.Milliseconds(),
					"unit_status": rec.UnitStatus,
				}
				if rec.Serial != nil {
					view["serial_number"] = rec.Serial.SerialNumber
					view["serial_id"] = rec.Serial.ID
				}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "attempt", 0, "attempt ID")
	cmd.Flags().StringVar(&result, "result", "", "PASS, FAIL or REWORK")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var (
		unit, afterTime string
		limit           int
		afterID         int64
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a unit's closed attempts in order",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := parseUnit(unit)
			if err != nil {
				return err
			}
			var cursor *tracking.HistoryCursor
			if afterTime != "" {
				ts, err := time.Parse(time.RFC3339Nano, afterTime)
				if err != nil {
					return usageError{msg: fmt.Sprintf("--after-time: %v", err)}
				}
				cursor = &tracking.HistoryCursor{CompletedAt: ts, AttemptID: afterID}
			}
			return a.withService(cmd, nil, func(ctx context.Context, svc *tracking.Service) error {
				if limit <= 0 && cursor == nil {
					entries, err := svc.Ledger.GetHistory(ctx, ref)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				page, err := svc.Ledger.HistoryPage(ctx, ref, cursor, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit ref")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size; 0 returns everything")
	cmd.Flags().StringVar(&afterTime, "after-time", "", "cursor completion time (RFC3339)")
	cmd.Flags().Int64Var(&afterID, "after-id", 0, "cursor attempt ID")
	return cmd
}

func (a *app) openCmd() *cobra.Command {
	var unit string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "List a unit's open attempts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := parseUnit(unit)
			if err != nil {
				return err
			}
			return a.withService(cmd, nil, func(ctx context.Context, svc *tracking.Service) error {
				open, err := svc.Ledger.OpenAttempts(ctx, ref)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), open)
			})
		},
	}
	cmd.Flags().StringVar(&unit, "unit", "", "unit ref")
	return cmd
}
