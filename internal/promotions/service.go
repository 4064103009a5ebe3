package promotions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp"
	"github.com/wolfman30/loyalty-whatsapp/pkg/logging"
)

// Repository is the persistence the send flow depends on.
type Repository interface {
	GetPromotion(ctx context.Context, id int64) (*Promotion, error)
	ListRecipients(ctx context.Context, categoryID *int64) ([]whatsapp.Recipient, error)
	RecordOutcomes(ctx context.Context, promotionID int64, outcomes []whatsapp.DispatchOutcome) error
	ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// Dispatcher sends templated messages through the gateway.
type Dispatcher interface {
	SendBulk(ctx context.Context, recipients []whatsapp.Recipient, template string) ([]whatsapp.DispatchOutcome, error)
	SendMessage(ctx context.Context, phone, text string) (whatsapp.DispatchOutcome, error)
}

// Connection reports whether the gateway is ready.
type Connection interface {
	IsConnected() bool
}

// Locker guards a promotion against concurrent sends.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// Service sends promotions to eligible customers and records the outcomes.
type Service struct {
	conn       Connection
	dispatcher Dispatcher
	repo       Repository
	lock       Locker
	lockTTL    time.Duration
	logger     *logging.Logger
}

// NewService builds the send flow. repo may be nil when no database is
// configured, in which case only SendTest works.
func NewService(conn Connection, dispatcher Dispatcher, repo Repository, lock Locker, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		conn:       conn,
		dispatcher: dispatcher,
		repo:       repo,
		lock:       lock,
		lockTTL:    30 * time.Minute,
		logger:     logger,
	}
}

// WithLockTTL bounds how long a crashed send can hold the promotion lock.
func (s *Service) WithLockTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.lockTTL = ttl
	}
	return s
}

// SendPromotion dispatches promotion id to its recipients. When persisting the
// outcomes fails the report is still returned along with the error, since the
// messages already went out.
func (s *Service) SendPromotion(ctx context.Context, id int64) (*SendReport, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	if !s.conn.IsConnected() {
		return nil, whatsapp.ErrNotConnected
	}

	promo, err := s.repo.GetPromotion(ctx, id)
	if err != nil {
		return nil, err
	}
	recipients, err := s.repo.ListRecipients(ctx, promo.CategoryID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	key := strconv.FormatInt(promo.ID, 10)
	var token string
	if s.lock != nil {
		token, err = s.lock.Acquire(ctx, key, s.lockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.lock.Release(releaseCtx, key, token); err != nil {
				s.logger.Warn("promotion lock release failed", "promotion_id", promo.ID, "error", err)
			}
		}()
	}

	s.logger.Info("sending promotion", "promotion_id", promo.ID, "title", promo.Title, "recipients", len(recipients))
	outcomes, err := s.dispatcher.SendBulk(ctx, recipients, promo.Template())
	if err != nil {
		return nil, err
	}

	sent, failed := whatsapp.Summarize(outcomes)
	report := &SendReport{
		PromotionID: promo.ID,
		Total:       len(outcomes),
		Sent:        sent,
		Failed:      failed,
		Outcomes:    outcomes,
	}
	if len(outcomes) > 0 {
		report.BatchID = outcomes[0].BatchID
	}

	if err := s.repo.RecordOutcomes(context.WithoutCancel(ctx), promo.ID, outcomes); err != nil {
		s.logger.Error("promotion outcomes not recorded", "promotion_id", promo.ID, "batch_id", report.BatchID, "error", err)
		return report, fmt.Errorf("promotions: record outcomes: %w", err)
	}
	s.logger.Info("promotion sent", "promotion_id", promo.ID, "batch_id", report.BatchID, "sent", sent, "failed", failed)
	return report, nil
}

// SendTest sends a single ad-hoc message.
func (s *Service) SendTest(ctx context.Context, phone, text string) (whatsapp.DispatchOutcome, error) {
	if phone == "" || text == "" {
		return whatsapp.DispatchOutcome{}, ErrInvalidTestMessage
	}
	return s.dispatcher.SendMessage(ctx, phone, text)
}

// History returns recent sends, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	return s.repo.ListHistory(ctx, limit)
}
