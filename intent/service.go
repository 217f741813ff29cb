package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantaflow/paycore/backoff"
	"github.com/quantaflow/paycore/log"
	"github.com/quantaflow/paycore/memo"
	"github.com/quantaflow/paycore/queue"
	"github.com/quantaflow/paycore/snapshot"
)

const (
	// SettlementJobType is the job kind consumed by the downstream
	// settlement worker.
	SettlementJobType = "market_making_settlement"

	// SettlementJobIDPrefix derives the deterministic settlement job
	// identity from the snapshot id, so repeated observation of the same
	// snapshot never double-enqueues.
	SettlementJobIDPrefix = "mixin_snapshot_"

	settlementMaxAttempts = 10
)

// SettlementJobPayload is the queued handoff to the settlement worker.
type SettlementJobPayload struct {
	SnapshotID string    `json:"snapshot_id"`
	OrderID    string    `json:"order_id"`
	PairID     string    `json:"pair_id"`
	UserID     string    `json:"user_id,omitempty"`
	AssetID    string    `json:"asset_id"`
	Amount     string    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

// Service owns intent registration and the guard sequence run on snapshot
// arrival.
type Service struct {
	repo     Repository
	queue    queue.Queue
	refunder snapshot.Refunder
	logger   log.Logger
	now      func() time.Time
}

var _ snapshot.MarketMakingHandler = (*Service)(nil)

// NewService creates an intent service.
func NewService(repo Repository, q queue.Queue, refunder snapshot.Refunder, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}

	return &Service{
		repo:     repo,
		queue:    q,
		refunder: refunder,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now

	return s
}

// Register creates a pending intent for an order expecting a payment.
func (s *Service) Register(ctx context.Context, orderID, pairID, userID string, ttl time.Duration) (*Intent, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrOrderIDRequired
	}

	if strings.TrimSpace(pairID) == "" {
		return nil, ErrPairIDRequired
	}

	now := s.now().UTC()

	it := &Intent{
		OrderID:   orderID,
		PairID:    pairID,
		UserID:    userID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if err := s.repo.Create(ctx, it); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	return it, nil
}

// HandleCreate runs the guard sequence for a decoded market-making create
// payload. Business rejections end in a refund and a nil error; only
// infrastructure failures propagate, so the poller can log and retry on
// the next feed observation.
func (s *Service) HandleCreate(ctx context.Context, snap snapshot.Snapshot, payload memo.Payload) error {
	it, err := s.repo.FindByOrderID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			return s.refund(ctx, snap, "no intent for order "+payload.OrderID)
		}

		return fmt.Errorf("find intent: %w", err)
	}

	if it.PairID != payload.PairID {
		return s.refund(ctx, snap,
			fmt.Sprintf("pair mismatch: intent=%s memo=%s", it.PairID, payload.PairID))
	}

	if s.now().After(it.ExpiresAt) {
		if !it.Status.IsTerminal() {
			if _, err := s.repo.UpdateStatusFrom(ctx, it.OrderID, it.Status, StatusExpired); err != nil {
				return fmt.Errorf("expire intent: %w", err)
			}
		}

		return s.refund(ctx, snap, "intent expired at "+it.ExpiresAt.Format(time.RFC3339))
	}

	switch it.Status {
	case StatusPending:
		ok, err := s.repo.UpdateStatusFrom(ctx, it.OrderID, StatusPending, StatusInProgress)
		if err != nil {
			return fmt.Errorf("advance intent: %w", err)
		}

		if !ok {
			// Lost the race; re-read and accept only if a concurrent
			// worker moved it to in_progress.
			current, err := s.repo.FindByOrderID(ctx, it.OrderID)
			if err != nil {
				return fmt.Errorf("re-read intent: %w", err)
			}

			if current.Status != StatusInProgress {
				return s.refund(ctx, snap, "intent no longer accepts funds: "+current.Status.String())
			}
		}
	case StatusInProgress:
		// Additional funds for an order already being worked: accepted,
		// the transition is idempotent.
	default:
		return s.refund(ctx, snap, "intent in terminal state "+it.Status.String())
	}

	return s.enqueueSettlement(ctx, snap, it)
}

func (s *Service) enqueueSettlement(ctx context.Context, snap snapshot.Snapshot, it *Intent) error {
	payload, err := json.Marshal(SettlementJobPayload{
		SnapshotID: snap.SnapshotID,
		OrderID:    it.OrderID,
		PairID:     it.PairID,
		UserID:     it.UserID,
		AssetID:    snap.AssetID,
		Amount:     snap.Amount.String(),
		CreatedAt:  snap.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal settlement payload: %w", err)
	}

	err = s.queue.Enqueue(ctx, queue.Job{
		Type:        SettlementJobType,
		ID:          SettlementJobIDPrefix + snap.SnapshotID,
		Payload:     payload,
		MaxAttempts: settlementMaxAttempts,
		Backoff:     backoff.DefaultPolicy,
	})
	if err != nil {
		if queue.IsDuplicate(err) {
			s.logger.Log(ctx, log.LevelDebug, "settlement job already enqueued",
				log.String("snapshot_id", snap.SnapshotID),
				log.String("order_id", it.OrderID))

			return nil
		}

		return fmt.Errorf("enqueue settlement: %w", err)
	}

	s.logger.Log(ctx, log.LevelInfo, "settlement job enqueued",
		log.String("snapshot_id", snap.SnapshotID),
		log.String("order_id", it.OrderID),
		log.String("pair_id", it.PairID))

	return nil
}

func (s *Service) refund(ctx context.Context, snap snapshot.Snapshot, reason string) error {
	s.logger.Log(ctx, log.LevelInfo, "refunding snapshot",
		log.String("snapshot_id", snap.SnapshotID),
		log.String("reason", reason))

	if err := s.refunder.Refund(ctx, snap); err != nil {
		return fmt.Errorf("refund snapshot %s: %w", snap.SnapshotID, err)
	}

	return nil
}
