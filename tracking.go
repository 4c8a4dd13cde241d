// Package tracking records manufacturing units moving through an ordered
// pipeline of operations.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages and wires them together from a Config.
//
// Basic usage:
//
//	cfg, _ := tracking.LoadConfig("tracking.yaml")
//	svc, _ := tracking.Open(ctx, cfg, nil)
//	defer svc.Close()
//
//	batch, items, _ := svc.Registry.CreateBatch(ctx, "B100", 10)
//	ref, _ := svc.Ledger.StartProcess(ctx, tracking.ItemUnit(items[0].ID),
//	    tracking.OperationByCode("KIT"), "station-1")
//	rec, _ := svc.Ledger.CompleteProcess(ctx, ref, tracking.ResultPass, nil)
package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jdziat/simple-process-tracking/pkg/catalog"
	"github.com/jdziat/simple-process-tracking/pkg/config"
	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/ledger"
	"github.com/jdziat/simple-process-tracking/pkg/logging"
	"github.com/jdziat/simple-process-tracking/pkg/metrics"
	"github.com/jdziat/simple-process-tracking/pkg/notify"
	"github.com/jdziat/simple-process-tracking/pkg/registry"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

type (
	// Batch is a group of units produced together.
	Batch = core.Batch

	// InProcessItem is a unit tracked before identity conversion.
	InProcessItem = core.InProcessItem

	// SerializedItem is a unit after identity conversion.
	SerializedItem = core.SerializedItem

	// UnitRef identifies a unit at a granularity.
	UnitRef = core.UnitRef

	// Operation is one ordered pipeline step.
	Operation = core.Operation

	// OperationRef resolves an operation by ID, code or position.
	OperationRef = core.OperationRef

	// Attempt is one try at (unit, operation).
	Attempt = core.Attempt

	// AttemptRef is the handle returned by StartProcess.
	AttemptRef = core.AttemptRef

	// CompletionRecord is returned by CompleteProcess.
	CompletionRecord = core.CompletionRecord

	// HistoryEntry is the record of a closed attempt.
	HistoryEntry = core.HistoryEntry

	// HistoryCursor resumes a history page.
	HistoryCursor = core.HistoryCursor

	// Result is the outcome of a closed attempt.
	Result = core.Result

	// Error is the typed failure returned by every operation.
	Error = core.Error

	// ErrorKind classifies an Error.
	ErrorKind = core.Kind

	// Event is the interface for all ledger events.
	Event = core.Event

	// Ledger records attempts.
	Ledger = ledger.Ledger

	// LedgerOption configures a Ledger.
	LedgerOption = ledger.Option

	// HistoryPage is one slice of a unit's history.
	HistoryPage = ledger.Page

	// Config is the service configuration.
	Config = config.Config

	// GormStorage is the gorm-backed transactional store.
	GormStorage = storage.GormStorage

	// Sink receives events after commit.
	Sink = notify.Sink
)

// Results
const (
	ResultPass   = core.ResultPass
	ResultFail   = core.ResultFail
	ResultRework = core.ResultRework
)

// Granularities
const (
	GranularityBatch      = core.GranularityBatch
	GranularityInProcess  = core.GranularityInProcess
	GranularitySerialized = core.GranularitySerialized
)

// Operation types
const (
	OperationStandard           = core.OperationStandard
	OperationIdentityConversion = core.OperationIdentityConversion
)

// Error variables
var (
	ErrNotFound              = core.ErrNotFound
	ErrSequenceViolation     = core.ErrSequenceViolation
	ErrAlreadyPassed         = core.ErrAlreadyPassed
	ErrDuplicateActive       = core.ErrDuplicateActive
	ErrConcurrentLotConflict = core.ErrConcurrentLotConflict
	ErrInvalidState          = core.ErrInvalidState
	ErrReworkLimit           = core.ErrReworkLimit
	ErrConstraintViolation   = core.ErrConstraintViolation
	ErrValidation            = core.ErrValidation
	ErrRetryable             = core.ErrRetryable
)

// BatchUnit references a batch.
func BatchUnit(id string) UnitRef { return core.BatchUnit(id) }

// ItemUnit references an in-process item.
func ItemUnit(id string) UnitRef { return core.ItemUnit(id) }

// SerialUnit references a serialized item.
func SerialUnit(id string) UnitRef { return core.SerialUnit(id) }

// OperationByCode references an operation by code.
func OperationByCode(code string) OperationRef { return core.OperationByCode(code) }

// OperationAt references the active operation at a position.
func OperationAt(position int) OperationRef { return core.OperationAt(position) }

// KindOf returns the kind of a tracking error, or "" for other errors.
func KindOf(err error) ErrorKind { return core.KindOf(err) }

// LoadConfig reads configuration from path, .env and the environment.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// NewLedger creates a ledger over an opened store.
func NewLedger(store *GormStorage, opts ...LedgerOption) (*Ledger, error) {
	return ledger.New(store, opts...)
}

// Service bundles the components opened from a Config.
type Service struct {
	Store    *storage.GormStorage
	Catalog  *catalog.Service
	Registry *registry.Service
	Ledger   *ledger.Ledger
	Logger   *logging.Logger

	sink *notify.RedisSink
}

// Open connects to the configured database, migrates it, seeds the catalog
// file when one is configured, and builds the ledger. A non-nil reg
// receives the ledger's Prometheus collectors.
func Open(ctx context.Context, cfg Config, reg prometheus.Registerer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.PoolOptions()...)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		Store:    store,
		Catalog:  catalog.NewService(store),
		Registry: registry.NewService(store),
		Logger:   log,
	}
	fail := func(err error) (*Service, error) {
		_ = svc.Close()
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}
	if cfg.CatalogFile != "" {
		ops, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return fail(err)
		}
		if err := svc.Catalog.Define(ctx, ops...); err != nil {
			return fail(err)
		}
	}

	hooks := metrics.Nop()
	if reg != nil {
		p, err := metrics.NewPrometheus(reg)
		if err != nil {
			return fail(fmt.Errorf("register metrics: %w", err))
		}
		hooks = p
	}

	opts := append(ledger.FromConfig(cfg.Ledger), ledger.WithLogger(log), ledger.WithMetrics(hooks))
	if cfg.Notify.RedisAddr != "" {
		svc.sink = notify.NewRedisSink(notify.RedisOptions{
			Addr:     cfg.Notify.RedisAddr,
			Password: cfg.Notify.RedisPassword,
			DB:       cfg.Notify.RedisDB,
			Channel:  cfg.Notify.Channel,
		})
		opts = append(opts, ledger.WithDispatcher(notify.NewDispatcher(svc.sink, cfg.Notify.Timeout, log)))
	}

	svc.Ledger, err = ledger.New(store, opts...)
	if err != nil {
		return fail(err)
	}
	log.Info("tracking service opened", "driver", cfg.Database.Driver, "max_rework", cfg.Ledger.MaxRework, "notify", cfg.Notify.RedisAddr != "")
	return svc, nil
}

// Close stops notifications, waits for pending ones and releases connections.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if s.Ledger != nil {
		s.Ledger.Close()
	}
	var errs []error
	if s.sink != nil {
		errs = append(errs, s.sink.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Logger != nil {
		s.Logger.Sync()
	}
	return errors.Join(errs...)
}
