// Package runtime drives one invocation of the sitemap writer: it decodes a
// batch of stream records, runs the ingestion engine once per logical type,
// and reports the outcome. It also drives page repair.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/ingest"
	"github.com/justapithecus/sitemapper/log"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/notify"
	"github.com/justapithecus/sitemapper/repair"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/stream"
	"github.com/justapithecus/sitemapper/types"
)

// ErrRepairDisabled is returned by repair operations when no id pattern is
// configured.
var ErrRepairDisabled = errors.New("runtime: repair requires an id pattern")

// Config configures an Orchestrator.
type Config struct {
	// Stream is the inbound stream name, carried in log context.
	Stream string
	// Ingest configures the ingestion engine.
	Ingest ingest.Config
	// Repair configures the reconciler. Repair is disabled when
	// Repair.IDPattern is empty.
	Repair repair.Config
}

// Deps are the collaborators shared by every invocation.
type Deps struct {
	Store     *statestore.Client
	Blobs     blob.Store
	Republish stream.Publisher
	Notifier  notify.Notifier
	// Logger, when nil, is built per invocation from the shard metadata.
	Logger *log.Logger
	// Collector is the metrics collector.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	Now       func() time.Time
}

// InvocationResult represents the result of one invocation.
type InvocationResult struct {
	InvocationID string `json:"invocation_id"`
	ShardID      string `json:"shard_id"`
	// Records is the number of stream records received.
	Records int `json:"records"`
	// Skipped are the records dropped by decoding.
	Skipped []stream.Skip `json:"skipped,omitempty"`
	// Format is the wire format of the batch.
	Format types.Format `json:"format,omitempty"`
	// Types holds one result per processed type, in processing order.
	Types    []*ingest.Result `json:"types"`
	Duration time.Duration    `json:"duration"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

// Orchestrator runs invocations.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	reconciler *repair.Reconciler
}

// NewOrchestrator creates an orchestrator. Engine and reconciler
// configurations are validated here.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if _, err := ingest.New(cfg.Ingest, ingestDeps(deps, deps.Logger)); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	o := &Orchestrator{cfg: cfg, deps: deps}
	if cfg.Repair.IDPattern != "" {
		rec, err := repair.New(cfg.Repair, repair.Deps{
			Store:    deps.Store,
			Blobs:    deps.Blobs,
			Notifier: deps.Notifier,
			Logger:   deps.Logger,
			Metrics:  deps.Collector,
			Now:      deps.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid repair config: %w", err)
		}
		o.reconciler = rec
	}
	return o, nil
}

func ingestDeps(deps Deps, logger *log.Logger) ingest.Deps {
	return ingest.Deps{
		Store:     deps.Store,
		Blobs:     deps.Blobs,
		Republish: deps.Republish,
		Notifier:  deps.Notifier,
		Logger:    logger,
		Metrics:   deps.Collector,
		Now:       deps.Now,
	}
}

func (o *Orchestrator) invocationLogger(shardID, invocationID string) *log.Logger {
	if o.deps.Logger == nil {
		return log.NewLogger(&types.ShardMeta{
			Stream:       o.cfg.Stream,
			ShardID:      shardID,
			InvocationID: invocationID,
		})
	}
	return o.deps.Logger.With("shard_id", shardID).With("invocation_id", invocationID)
}

// Process ingests one batch of records from shardID.
//
// Execution flow:
//  1. Decode records, skipping malformed ones
//  2. Reject mixed formats, invalid types and the fatal version
//  3. Run the engine per type, in sorted type order
//  4. Return once every background write finished
//
// Errors are *InvocationError. A failed type aborts the invocation and the
// result holds the types processed so far.
func (o *Orchestrator) Process(ctx context.Context, shardID string, records []types.StreamRecord) (*InvocationResult, error) {
	start := o.deps.Now()
	res := &InvocationResult{
		InvocationID: uuid.NewString(),
		ShardID:      shardID,
		Records:      len(records),
	}
	logger := o.invocationLogger(shardID, res.InvocationID)
	collector := o.deps.Collector
	collector.AddRecordsReceived(len(records))

	finish := func(err error) (*InvocationResult, error) {
		res.Duration = o.deps.Now().Sub(start)
		res.Metrics = collector.Snapshot()
		fields := res.Metrics.Fields()
		fields["duration_ms"] = res.Duration.Milliseconds()
		fields["types"] = len(res.Types)
		if err != nil {
			fields["error"] = err.Error()
			logger.Error("invocation failed", fields)
			return res, err
		}
		logger.Info("invocation complete", fields)
		return res, nil
	}

	decoded, err := stream.Decode(records)
	if err != nil {
		return finish(&InvocationError{Kind: InvocationErrorPrecondition, Err: err})
	}
	res.Skipped = decoded.Skipped
	res.Format = decoded.Format
	collector.AddRecordsSkipped(len(decoded.Skipped))
	for _, s := range decoded.Skipped {
		logger.Warn("skipping record", map[string]any{
			"sequence_number": s.SequenceNumber,
			"reason":          s.Reason,
		})
	}

	groups, order, err := o.group(decoded.Messages)
	if err != nil {
		return finish(err)
	}

	engine, err := ingest.New(o.cfg.Ingest, ingestDeps(o.deps, logger))
	if err != nil {
		return finish(&InvocationError{Kind: InvocationErrorPrecondition, Err: err})
	}
	for _, typ := range order {
		if err := ctx.Err(); err != nil {
			return finish(&InvocationError{Kind: InvocationErrorCanceled, Err: err})
		}
		tr, err := engine.Process(ctx, shardID, typ, groups[typ])
		if tr != nil {
			res.Types = append(res.Types, tr)
		}
		if err != nil {
			return finish(classify(err))
		}
	}
	return finish(nil)
}

// group splits msgs by type, keeping stream order within each type. Types
// are validated and the batch is checked for the fatal version before any
// type runs, so a rejected batch writes nothing.
func (o *Orchestrator) group(msgs []*types.ItemMessage) (map[string][]*types.ItemMessage, []string, error) {
	fatal := o.cfg.Ingest.FatalVersion
	groups := make(map[string][]*types.ItemMessage)
	for _, m := range msgs {
		if fatal > 0 && m.CompactVersion != nil && *m.CompactVersion == fatal {
			return nil, nil, &InvocationError{
				Kind: InvocationErrorFatalVersion,
				Err:  fmt.Errorf("%w %d on %s item %s", ingest.ErrFatalVersion, fatal, m.Type, m.CustomID),
			}
		}
		if _, ok := groups[m.Type]; !ok {
			if err := statestore.ValidateType(m.Type); err != nil {
				return nil, nil, &InvocationError{Kind: InvocationErrorPrecondition, Err: err}
			}
		}
		groups[m.Type] = append(groups[m.Type], m)
	}
	order := make([]string, 0, len(groups))
	for typ := range groups {
		order = append(order, typ)
	}
	slices.Sort(order)
	return groups, order, nil
}

// Repair reconciles one page.
func (o *Orchestrator) Repair(ctx context.Context, typ, fileName string) (*repair.Result, error) {
	if o.reconciler == nil {
		return nil, &InvocationError{Kind: InvocationErrorPrecondition, Err: ErrRepairDisabled}
	}
	res, err := o.reconciler.Repair(ctx, typ, fileName)
	if err != nil {
		return nil, repairError(err)
	}
	return res, nil
}

// RepairAll reconciles every page of each of typs, in order. It stops at
// the first failure and returns the results so far.
func (o *Orchestrator) RepairAll(ctx context.Context, typs []string) ([]*repair.Result, error) {
	if o.reconciler == nil {
		return nil, &InvocationError{Kind: InvocationErrorPrecondition, Err: ErrRepairDisabled}
	}
	var out []*repair.Result
	for _, typ := range typs {
		res, err := o.reconciler.RepairType(ctx, typ)
		out = append(out, res...)
		if err != nil {
			return out, repairError(fmt.Errorf("type %s: %w", typ, err))
		}
	}
	return out, nil
}

func repairError(err error) error {
	if errors.Is(err, repair.ErrPatternMismatch) || errors.Is(err, repair.ErrNoFileRecord) {
		return &InvocationError{Kind: InvocationErrorPrecondition, Err: err}
	}
	return classify(err)
}
