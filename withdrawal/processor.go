package withdrawal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantaflow/paycore/ledger"
	"github.com/quantaflow/paycore/log"
	"github.com/quantaflow/paycore/outbox"
	"github.com/quantaflow/paycore/queue"
)

const (
	// ProcessJobType is the job kind that triggers withdrawal processing.
	ProcessJobType = "withdrawal_process"

	// ProcessJobIDPrefix derives the deterministic processing job identity
	// from the withdrawal id.
	ProcessJobIDPrefix = "withdrawal_process_"

	// Outbox event types emitted by the pipeline.
	EventDispatched = "withdrawal.dispatched"
	EventCompleted  = "withdrawal.completed"
	EventFailed     = "withdrawal.failed"

	aggregateType = "withdrawal"

	defaultMaxRetries = 5
)

// SourceBalance checks the external wallet/exchange that funds
// disbursements.
type SourceBalance interface {
	Available(ctx context.Context, assetID string) (decimal.Decimal, error)
}

// Disburser initiates the outbound transfer and returns an external
// transaction reference.
type Disburser interface {
	Disburse(ctx context.Context, w *Withdrawal) (string, error)
}

// Processor drives a withdrawal from pending to awaiting_confirmation.
type Processor struct {
	repo       Repository
	ledger     *ledger.Service
	source     SourceBalance
	disburser  Disburser
	logger     log.Logger
	maxRetries int
}

// NewProcessor creates a withdrawal processor.
func NewProcessor(
	repo Repository,
	ledgerSvc *ledger.Service,
	source SourceBalance,
	disburser Disburser,
	logger log.Logger,
) *Processor {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Processor{
		repo:       repo,
		ledger:     ledgerSvc,
		source:     source,
		disburser:  disburser,
		logger:     logger,
		maxRetries: defaultMaxRetries,
	}
}

// WithMaxRetries bounds reschedules before a withdrawal is force-failed.
func (p *Processor) WithMaxRetries(max int) *Processor {
	if max > 0 {
		p.maxRetries = max
	}

	return p
}

// Submit records a new withdrawal and enqueues its processing job.
func (p *Processor) Submit(
	ctx context.Context,
	q queue.Queue,
	userID, assetID string,
	amount decimal.Decimal,
	destination string,
) (*Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, ledger.ErrAmountNotPositive
	}

	now := time.Now().UTC()

	w := &Withdrawal{
		ID:          uuid.New(),
		UserID:      userID,
		AssetID:     assetID,
		Amount:      amount,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := p.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	err := q.Enqueue(ctx, queue.Job{
		Type:    ProcessJobType,
		ID:      ProcessJobIDPrefix + w.ID.String(),
		Payload: []byte(fmt.Sprintf(`{"withdrawal_id":%q}`, w.ID)),
	})
	if err != nil && !queue.IsDuplicate(err) {
		return nil, fmt.Errorf("enqueue processing: %w", err)
	}

	return w, nil
}

// HandleJob adapts Process to the queue handler contract.
func (p *Processor) HandleJob(ctx context.Context, payload []byte) error {
	var body struct {
		WithdrawalID uuid.UUID `json:"withdrawal_id"`
	}

	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("decode withdrawal job: %w", err)
	}

	return p.Process(ctx, body.WithdrawalID)
}

// Process runs the settlement steps for one withdrawal. It is safe to call
// repeatedly for the same id: the ledger debit is idempotency-guarded and
// every status move is a conditional update.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) error {
	w, err := p.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load withdrawal: %w", err)
	}

	switch w.Status {
	case StatusPending:
		ok, err := p.repo.UpdateStatusFrom(ctx, id, StatusPending, StatusProcessing, nil)
		if err != nil {
			return fmt.Errorf("claim withdrawal: %w", err)
		}

		if !ok {
			// A concurrent processor claimed it first; let that one finish.
			return nil
		}

		w.Status = StatusProcessing
	case StatusProcessing:
		// Retried processing after a partial failure; continue.
	default:
		// Already dispatched or terminal: nothing to do.
		return nil
	}

	if err := p.checkSource(ctx, w); err != nil {
		return err
	}

	// The debit key is derived from the withdrawal id: retries after this
	// point replay as no-ops and never create a second entry.
	if _, err := p.ledger.Debit(
		ctx,
		w.UserID,
		w.AssetID,
		w.Amount,
		DebitKey(w.ID),
		aggregateType,
		w.ID.String(),
	); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return p.fail(ctx, w, "insufficient internal balance")
		}

		return fmt.Errorf("ledger debit: %w", err)
	}

	externalRef, err := p.disburser.Disburse(ctx, w)
	if err != nil {
		// The debit already happened and is not reversed here; the
		// withdrawal stays in processing and is retried bounded.
		retries, retryErr := p.repo.IncrementRetry(ctx, w.ID)
		if retryErr != nil {
			return fmt.Errorf("record disbursement retry: %w", retryErr)
		}

		if retries >= p.maxRetries {
			p.logger.Log(ctx, log.LevelError, "disbursement retries exhausted; left in processing for inspection",
				log.String("withdrawal_id", w.ID.String()),
				log.Int("retries", retries),
				log.Err(err))

			return fmt.Errorf("disburse: %w", err)
		}

		return fmt.Errorf("disburse: %w: %w", ErrReschedule, err)
	}

	event, err := outbox.NewEvent(EventDispatched, aggregateType, w.ID.String(),
		outbox.MustJSON(map[string]string{
			"withdrawal_id": w.ID.String(),
			"external_ref":  externalRef,
		}))
	if err != nil {
		return fmt.Errorf("build dispatched event: %w", err)
	}

	ok, err := p.repo.MarkDispatched(ctx, w.ID, externalRef, event)
	if err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}

	if !ok {
		// A concurrently retried instance won the CAS; its external ref
		// stands.
		p.logger.Log(ctx, log.LevelWarn, "withdrawal already dispatched by concurrent processor",
			log.String("withdrawal_id", w.ID.String()))

		return nil
	}

	p.logger.Log(ctx, log.LevelInfo, "withdrawal dispatched",
		log.String("withdrawal_id", w.ID.String()),
		log.String("external_ref", externalRef))

	return nil
}

func (p *Processor) checkSource(ctx context.Context, w *Withdrawal) error {
	available, err := p.source.Available(ctx, w.AssetID)
	if err != nil {
		return fmt.Errorf("source balance: %w: %w", ErrReschedule, err)
	}

	if available.GreaterThanOrEqual(w.Amount) {
		return nil
	}

	// The internal ledger is untouched on a source shortfall.
	retries, err := p.repo.IncrementRetry(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("record source retry: %w", err)
	}

	if retries >= p.maxRetries {
		if err := p.fail(ctx, w, "source balance never sufficient"); err != nil {
			return err
		}

		return fmt.Errorf("%w: retries exhausted", ErrSourceInsufficient)
	}

	return fmt.Errorf("%w: %w", ErrSourceInsufficient, ErrReschedule)
}

func (p *Processor) fail(ctx context.Context, w *Withdrawal, reason string) error {
	event, err := outbox.NewEvent(EventFailed, aggregateType, w.ID.String(),
		outbox.MustJSON(map[string]string{
			"withdrawal_id": w.ID.String(),
			"reason":        reason,
		}))
	if err != nil {
		return fmt.Errorf("build failed event: %w", err)
	}

	if _, err := p.repo.UpdateStatusFrom(ctx, w.ID, w.Status, StatusFailed, event); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	p.logger.Log(ctx, log.LevelWarn, "withdrawal failed",
		log.String("withdrawal_id", w.ID.String()),
		log.String("reason", reason))

	return nil
}
