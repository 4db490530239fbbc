package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openledger/chain-engine/internal/engine"
	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/matching"
	"github.com/openledger/chain-engine/internal/metrics"
	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/store"
)

// OperationJournal receives successfully applied operations for durable
// replay across restarts. store.Store satisfies it.
type OperationJournal interface {
	AppendOperation(ctx context.Context, rec *store.OperationRecord) error
}

// Processor dispatches operations to their evaluators. Each operation runs
// inside its own undo session: on any failure the arena is rolled back to
// the pre-operation checkpoint, so state is never partially applied.
type Processor struct {
	db      *ledger.Database
	match   *matching.Engine
	journal OperationJournal
}

// NewProcessor creates a processor over the arena. The sink, if non-nil,
// receives fill and settlement events.
func NewProcessor(db *ledger.Database, sink matching.EventSink) *Processor {
	return &Processor{db: db, match: matching.NewEngine(db, sink)}
}

// Matching exposes the matching engine for block-level housekeeping such as
// the expired order sweep.
func (p *Processor) Matching() *matching.Engine { return p.match }

// SetJournal starts journaling applied operations. Leave it unset while
// replaying an existing journal, or replayed operations would be appended
// again.
func (p *Processor) SetJournal(j OperationJournal) { p.journal = j }

// ApplyOperation evaluates and applies one operation. skipFee is for
// genesis bootstrap and tests only; regular processing always charges fees.
func (p *Processor) ApplyOperation(op model.Operation, skipFee bool) (engine.Result, error) {
	start := time.Now()
	name := op.OperationName()

	session := p.db.BeginUndoSession()
	ev := p.evaluatorFor(op, skipFee)

	result, err := runEvaluator(ev)
	if err != nil {
		session.Undo()
		kind := engine.KindOf(err)
		metrics.OperationsTotal.WithLabelValues(name, kind.String()).Inc()
		slog.Warn("operation rejected",
			"operation", name,
			"payer", op.FeePayer().String(),
			"kind", kind.String(),
			"error", err,
		)
		return nil, err
	}
	session.Commit()
	metrics.OperationsTotal.WithLabelValues(name, "applied").Inc()
	metrics.OperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	slog.Debug("operation applied",
		"operation", name,
		"payer", op.FeePayer().String(),
	)
	if p.journal != nil {
		p.journalOp(op, name)
	}
	return result, nil
}

// journalOp appends an applied operation to the journal. The journal is
// outside consensus: a failed append is logged, not rolled back.
func (p *Processor) journalOp(op model.Operation, name string) {
	payload, err := json.Marshal(op)
	if err != nil {
		slog.Error("journal encode failed", "operation", name, "err", err)
		return
	}
	rec := &store.OperationRecord{
		ID:        uuid.New(),
		Name:      name,
		Payer:     op.FeePayer().String(),
		Outcome:   "applied",
		Payload:   payload,
		AppliedAt: time.Now().UTC(),
	}
	if err := p.journal.AppendOperation(context.Background(), rec); err != nil {
		slog.Error("journal append failed", "operation", name, "err", err)
	}
}

// runEvaluator drives the lifecycle: evaluate, convert the fee, apply,
// then pay the fee out of the converted amount.
func runEvaluator(ev engine.Evaluator) (engine.Result, error) {
	if err := ev.Evaluate(); err != nil {
		return nil, err
	}
	if err := ev.ConvertFee(); err != nil {
		return nil, err
	}
	result, err := ev.Apply()
	if err != nil {
		return nil, err
	}
	if err := ev.PayFee(); err != nil {
		return nil, err
	}
	return result, nil
}

// evaluatorFor builds the evaluator for an operation. The switch is
// exhaustive over the sealed operation set.
func (p *Processor) evaluatorFor(op model.Operation, skipFee bool) engine.Evaluator {
	base := engine.Base{DB: p.db, SkipFee: skipFee, OpName: op.OperationName()}
	switch o := op.(type) {
	case model.LimitOrderCreate:
		return &limitOrderCreateEvaluator{Base: base, op: o, match: p.match}
	case model.LimitOrderCancel:
		return &limitOrderCancelEvaluator{Base: base, op: o, match: p.match}
	case model.CallOrderUpdate:
		return &callOrderUpdateEvaluator{Base: base, op: o, match: p.match}
	case model.BidCollateral:
		return &bidCollateralEvaluator{Base: base, op: o}
	default:
		panic("market: unhandled operation " + op.OperationName())
	}
}
