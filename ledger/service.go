package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantaflow/paycore/log"
)

// Service validates ledger operations and delegates atomic application to
// the repository.
type Service struct {
	repo   Repository
	logger log.Logger
	now    func() time.Time
}

// NewService creates a ledger service.
func NewService(repo Repository, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now

	return s
}

// Credit records an incoming amount for (userID, assetID). Replaying the
// same idempotency key returns the prior result as a no-op success.
func (s *Service) Credit(
	ctx context.Context,
	userID, assetID string,
	amount decimal.Decimal,
	idempotencyKey, refType, refID string,
) (*Result, error) {
	return s.apply(ctx, DirectionCredit, userID, assetID, amount, idempotencyKey, refType, refID)
}

// Debit records an outgoing amount. A debit exceeding the available balance
// fails with ErrInsufficientBalance and performs no mutation.
func (s *Service) Debit(
	ctx context.Context,
	userID, assetID string,
	amount decimal.Decimal,
	idempotencyKey, refType, refID string,
) (*Result, error) {
	return s.apply(ctx, DirectionDebit, userID, assetID, amount, idempotencyKey, refType, refID)
}

func (s *Service) apply(
	ctx context.Context,
	direction Direction,
	userID, assetID string,
	amount decimal.Decimal,
	idempotencyKey, refType, refID string,
) (*Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserIDRequired
	}

	if strings.TrimSpace(assetID) == "" {
		return nil, ErrAssetIDRequired
	}

	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, ErrIdempotencyKeyRequired
	}

	entry := &Entry{
		ID:             uuid.New(),
		UserID:         userID,
		AssetID:        assetID,
		Direction:      direction,
		Amount:         amount,
		RefType:        refType,
		RefID:          refID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	result, err := s.repo.Apply(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", direction, err)
	}

	if result.Replayed {
		s.logger.Log(ctx, log.LevelDebug, "ledger entry replayed",
			log.String("idempotency_key", idempotencyKey),
			log.String("user_id", userID),
			log.String("asset_id", assetID))
	}

	return result, nil
}

// Balance returns the read-model row for (userID, assetID).
func (s *Service) Balance(ctx context.Context, userID, assetID string) (*Balance, error) {
	return s.repo.GetBalance(ctx, userID, assetID)
}

// Rebuild recomputes the read-model for (userID, assetID) from the entry
// log and overwrites the stored balance. It exists so the reconciliation
// invariant is independently verifiable for audit.
func (s *Service) Rebuild(ctx context.Context, userID, assetID string) (*Balance, error) {
	entries, err := s.repo.ListEntries(ctx, userID, assetID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Signed())
	}

	balance := &Balance{
		UserID:    userID,
		AssetID:   assetID,
		Available: total,
		Locked:    decimal.Zero,
		Total:     total,
		UpdatedAt: s.now().UTC(),
	}

	if err := s.repo.ReplaceBalance(ctx, balance); err != nil {
		return nil, fmt.Errorf("replace balance: %w", err)
	}

	return balance, nil
}

// Reconcile verifies that the stored read-model equals the entry sum for
// (userID, assetID). A missing balance row reconciles against a zero sum.
func (s *Service) Reconcile(ctx context.Context, userID, assetID string) error {
	entries, err := s.repo.ListEntries(ctx, userID, assetID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	sum := decimal.Zero
	for _, entry := range entries {
		sum = sum.Add(entry.Signed())
	}

	balance, err := s.repo.GetBalance(ctx, userID, assetID)
	if err != nil {
		if sum.IsZero() {
			return nil
		}

		return fmt.Errorf("get balance: %w", err)
	}

	if !balance.Total.Equal(sum) {
		return fmt.Errorf("%w: user=%s asset=%s read_model=%s entry_sum=%s",
			ErrReconciliationMismatch, userID, assetID, balance.Total, sum)
	}

	return nil
}
