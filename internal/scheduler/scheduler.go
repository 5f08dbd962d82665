package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Phillboard/mobul-sub000/internal/clock"
	"github.com/Phillboard/mobul-sub000/internal/events"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	obsmetrics "github.com/Phillboard/mobul-sub000/internal/observability/metrics"
	"github.com/Phillboard/mobul-sub000/internal/providers/notify"
	"github.com/Phillboard/mobul-sub000/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

const (
	jobExpirySweep    = "expiry_sweep"
	jobReconcileSweep = "reconcile_sweep"
	jobOutboxDispatch = "outbox_dispatch"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Inventory inventorydomain.Service
	Ledger    ledgerdomain.Service
	Outbox    *events.Outbox
	Notifier  notify.Notifier

	Slack      slack.Provider      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler drives the background sweeps: card expiry, billing
// reconciliation, and outbox dispatch. It assumes a single running
// instance; all sweeps are idempotent so an accidental second instance
// degrades to wasted work, not corruption.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	inventory  inventorydomain.Service
	ledger     ledgerdomain.Service
	outbox     *events.Outbox
	notifier   notify.Notifier
	slack      slack.Provider
	obsMetrics *obsmetrics.Metrics

	lastExpirySweep    time.Time
	lastReconcileSweep time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Inventory == nil || p.Ledger == nil || p.Outbox == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		inventory:  p.Inventory,
		ledger:     p.Ledger,
		outbox:     p.Outbox,
		notifier:   p.Notifier,
		slack:      p.Slack,
		obsMetrics: p.ObsMetrics,
	}, nil
}

// RunForever ticks until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	s.log.Info("scheduler started", zap.Duration("run_interval", s.cfg.RunInterval))
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every sweep that is due. Exposed for tests driving the
// scheduler with a fake clock.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clock.Now()

	if s.cfg.ExpirySweepInterval > 0 && now.Sub(s.lastExpirySweep) >= s.cfg.ExpirySweepInterval {
		if err := s.runJob(ctx, jobExpirySweep, s.runExpirySweep); err == nil {
			s.lastExpirySweep = now
		}
	}
	if s.cfg.ReconcileSweepInterval > 0 && now.Sub(s.lastReconcileSweep) >= s.cfg.ReconcileSweepInterval {
		if err := s.runJob(ctx, jobReconcileSweep, s.runReconcileSweep); err == nil {
			s.lastReconcileSweep = now
		}
	}

	// Outbox dispatch runs on every tick; pending events should not wait.
	if err := s.runJob(ctx, jobOutboxDispatch, s.runOutboxDispatch); err != nil {
		s.log.Warn("outbox dispatch failed", zap.Error(err))
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			schedMetrics.IncJobTimeout(name)
		}
		schedMetrics.IncJobError(name, err)
		log.Error("scheduler job failed", zap.Error(err))
		return err
	}
	return nil
}

// runExpirySweep marks available cards past their expiration date. Assigned
// and delivered cards keep their status; expiry only removes cards from the
// claimable pool.
func (s *Scheduler) runExpirySweep(ctx context.Context) error {
	expired, err := s.inventory.ExpireSweep(ctx, s.clock.Now(), s.cfg.ExpiryBatchSize)
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", err)
	}
	if expired > 0 {
		s.log.Info("expired cards removed from pool", zap.Int("count", expired))
		obsmetrics.Scheduler().AddBatchProcessed(jobExpirySweep, "inventory_cards", expired)
	}
	return nil
}

// runReconcileSweep looks for cards that left the pool with no ledger entry
// and raises an ops alert. Repair is deliberately manual: an automated
// backfill would guess at prices that a human should confirm.
func (s *Scheduler) runReconcileSweep(ctx context.Context) error {
	since := s.clock.Now().Add(-s.cfg.ReconcileWindow)
	gaps, err := s.ledger.UnbilledCards(ctx, since, s.cfg.ExpiryBatchSize)
	if err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	if len(gaps) == 0 {
		return nil
	}

	s.log.Warn("unbilled cards detected", zap.Int("count", len(gaps)))
	s.obsMetrics.RecordReconciliationGaps(ctx, len(gaps))
	obsmetrics.Scheduler().AddBatchProcessed(jobReconcileSweep, "unbilled_cards", len(gaps))

	if s.slack != nil {
		message := fmt.Sprintf(":mag: reconciliation found %d card(s) with no billing ledger entry since %s",
			len(gaps), since.Format(time.RFC3339))
		if err := s.slack.PostMessage(ctx, "", message); err != nil {
			s.log.Warn("failed to post reconciliation alert", zap.Error(err))
		}
	}
	return nil
}

// runOutboxDispatch drains pending events to their consumers and marks them
// published. Dispatch is at-least-once: a crash between delivery and
// MarkPublished redelivers on the next tick.
func (s *Scheduler) runOutboxDispatch(ctx context.Context) error {
	pending, err := s.outbox.FetchPending(ctx, s.db, s.cfg.OutboxBatchSize)
	if err != nil {
		return fmt.Errorf("fetch pending events: %w", err)
	}

	dispatched := 0
	for _, event := range pending {
		if err := s.dispatchEvent(ctx, event); err != nil {
			s.log.Warn("event dispatch failed; will retry",
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type),
				zap.Error(err),
			)
			continue
		}
		if err := s.outbox.MarkPublished(ctx, s.db, event.ID); err != nil {
			s.log.Warn("failed to mark event published",
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		obsmetrics.Scheduler().AddBatchProcessed(jobOutboxDispatch, "outbox_events", dispatched)
	}
	return nil
}

func (s *Scheduler) dispatchEvent(ctx context.Context, event events.OutboxEvent) error {
	switch event.Type {
	case events.EventCardProvisioned:
		return s.notifier.NotifyCardProvisioned(ctx, notify.CardNotification{
			RequestID:     stringField(event.Payload, "request_id"),
			RecipientID:   stringField(event.Payload, "recipient_id"),
			RecipientName: stringField(event.Payload, "recipient_name"),
			Phone:         stringField(event.Payload, "phone"),
			BrandName:     stringField(event.Payload, "brand_name"),
			Denomination:  int64Field(event.Payload, "denomination"),
		})
	default:
		// Unknown types are acknowledged so one bad event cannot wedge the
		// queue.
		s.log.Debug("skipping event with no consumer", zap.String("type", event.Type))
		return nil
	}
}

func stringField(payload map[string]any, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func int64Field(payload map[string]any, key string) int64 {
	switch n := payload[key].(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		v, err := n.Int64()
		if err != nil {
			return 0
		}
		return v
	default:
		return 0
	}
}
