package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/debacu/backend/internal/domain"
)

// MaintenanceSummary reports what one maintenance run changed.
type MaintenanceSummary struct {
	TrialsExpired      int `json:"trialsExpired"`
	Suspended          int `json:"suspended"`
	DuplicatesRepaired int `json:"duplicatesRepaired"`
	AbandonedCanceled  int `json:"abandonedCanceled"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// MaintenanceService runs the scheduled lifecycle sweeps: expiring free
// trials, suspending lapsed grace windows, repairing duplicate ACTIVE
// rows, and closing abandoned pending rows. Every row transition goes
// through a status-guarded update, so overlapping runs and reruns only
// ever apply a transition once.
type MaintenanceService struct {
	subs   SubscriptionStore
	events EventStore

	graceDays      int
	abandonedAfter time.Duration
	batchLimit     int
	interval       time.Duration

	now func() time.Time
}

func NewMaintenanceService(subs SubscriptionStore, events EventStore, graceDays int, abandonedAfter time.Duration, batchLimit int, interval time.Duration) *MaintenanceService {
	return &MaintenanceService{
		subs:           subs,
		events:         events,
		graceDays:      graceDays,
		abandonedAfter: abandonedAfter,
		batchLimit:     batchLimit,
		interval:       interval,
		now:            time.Now,
	}
}

// Start launches the daily background run. The first sweep fires
// immediately so a restarted service never waits a full interval.
func (s *MaintenanceService) Start(ctx context.Context) {
	go func() {
		log.Printf("[Maintenance] Scheduler started, interval %s", s.interval)
		s.runLogged(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("[Maintenance] Scheduler stopped")
				return
			case <-ticker.C:
				s.runLogged(ctx)
			}
		}
	}()
}

func (s *MaintenanceService) runLogged(ctx context.Context) {
	summary, err := s.Run(ctx)
	if err != nil {
		log.Printf("[Maintenance] Run finished with errors: %v", err)
		return
	}
	log.Printf("[Maintenance] Run finished: %d trials expired, %d suspended, %d duplicates repaired, %d abandoned canceled",
		summary.TrialsExpired, summary.Suspended, summary.DuplicatesRepaired, summary.AbandonedCanceled)
}

// Run executes all four sweeps. A failing sweep does not stop the others;
// their committed effects stand and the errors are joined into one. The
// run itself is recorded in the event log as OK or ERROR.
func (s *MaintenanceService) Run(ctx context.Context) (*MaintenanceSummary, error) {
	started := s.now().UTC()
	summary := &MaintenanceSummary{StartedAt: started}

	var errs []error
	var err error

	if summary.TrialsExpired, err = s.expireTrials(ctx); err != nil {
		errs = append(errs, fmt.Errorf("expire trials: %w", err))
	}
	if summary.Suspended, err = s.suspendLapsed(ctx); err != nil {
		errs = append(errs, fmt.Errorf("suspend lapsed: %w", err))
	}
	if summary.DuplicatesRepaired, err = s.repairDuplicateActives(ctx); err != nil {
		errs = append(errs, fmt.Errorf("repair duplicates: %w", err))
	}
	if summary.AbandonedCanceled, err = s.cancelAbandoned(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cancel abandoned: %w", err))
	}

	summary.FinishedAt = s.now().UTC()
	runErr := errors.Join(errs...)

	eventType := domain.EventMaintenanceOK
	payload := map[string]any{
		"trialsExpired":      summary.TrialsExpired,
		"suspended":          summary.Suspended,
		"duplicatesRepaired": summary.DuplicatesRepaired,
		"abandonedCanceled":  summary.AbandonedCanceled,
	}
	if runErr != nil {
		eventType = domain.EventMaintenanceError
		payload["error"] = runErr.Error()
	}
	s.logEvent(ctx, eventType, nil, payload)

	return summary, runErr
}

// expireTrials moves due free trials to PENDING_PAYMENT, opening a grace
// window and stamping the plan the account must buy to continue.
func (s *MaintenanceService) expireTrials(ctx context.Context) (int, error) {
	now := s.now().UTC()
	graceEndsAt := now.AddDate(0, 0, s.graceDays)

	rows, err := s.subs.ListExpiredTrials(ctx, now, s.batchLimit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		moved, err := s.subs.ExpireTrial(ctx, row.ID, graceEndsAt, domain.PlanBasic, domain.FrequencyMonthly)
		if err != nil {
			return count, err
		}
		if !moved {
			continue
		}
		count++
		s.logEvent(ctx, domain.EventTrialExpiredToPending, row, map[string]any{
			"subscriptionId": row.ID,
			"graceEndsAt":    graceEndsAt.Format(time.RFC3339),
		})
	}
	return count, nil
}

// suspendLapsed retires pending rows whose grace window has passed
// without a completed payment.
func (s *MaintenanceService) suspendLapsed(ctx context.Context) (int, error) {
	now := s.now().UTC()

	rows, err := s.subs.ListGraceExpired(ctx, now, s.batchLimit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		suspended, err := s.subs.Suspend(ctx, row.ID, now)
		if err != nil {
			return count, err
		}
		if !suspended {
			continue
		}
		count++
		s.logEvent(ctx, domain.EventGraceExpiredToSuspended, row, map[string]any{
			"subscriptionId": row.ID,
		})
	}
	return count, nil
}

// repairDuplicateActives enforces at most one ACTIVE row per account and
// product. Within a duplicate group the row with the latest start date
// wins, created time and id breaking ties, so reruns over any scan order
// keep the same winner.
func (s *MaintenanceService) repairDuplicateActives(ctx context.Context) (int, error) {
	rows, err := s.subs.ListActive(ctx, s.batchLimit)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]*domain.Subscription)
	for _, row := range rows {
		key := row.AccountID + "\x00" + row.ProductID
		groups[key] = append(groups[key], row)
	}

	today := dateOnly(s.now())
	count := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			switch {
			case a.StartDate != nil && b.StartDate == nil:
				return true
			case a.StartDate == nil && b.StartDate != nil:
				return false
			case a.StartDate != nil && b.StartDate != nil && !a.StartDate.Equal(*b.StartDate):
				return a.StartDate.After(*b.StartDate)
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		})

		keep := group[0]
		var retired []string
		for _, loser := range group[1:] {
			replaced, err := s.subs.MarkReplaced(ctx, loser.ID, &keep.ID, today)
			if err != nil {
				return count, err
			}
			if replaced {
				count++
				retired = append(retired, loser.ID)
			}
		}
		if len(retired) > 0 {
			s.logEvent(ctx, domain.EventDuplicateActiveRepaired, keep, map[string]any{
				"keptSubscriptionId":    keep.ID,
				"replacedSubscriptions": retired,
			})
		}
	}
	return count, nil
}

// cancelAbandoned closes pending rows that never reached the processor:
// no checkout id, no grace window, past the abandonment cutoff.
func (s *MaintenanceService) cancelAbandoned(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.abandonedAfter)

	rows, err := s.subs.ListAbandonedPending(ctx, cutoff, s.batchLimit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		canceled, err := s.subs.CancelAbandoned(ctx, row.ID, dateOnly(now))
		if err != nil {
			return count, err
		}
		if !canceled {
			continue
		}
		count++
		s.logEvent(ctx, domain.EventAbandonedPendingCanceled, row, map[string]any{
			"subscriptionId": row.ID,
		})
	}
	return count, nil
}

// logEvent appends a maintenance event without failing the sweep.
func (s *MaintenanceService) logEvent(ctx context.Context, eventType string, row *domain.Subscription, payload map[string]any) {
	e := &domain.LifecycleEvent{
		ExternalEventID: fmt.Sprintf("cron_%s_%s", eventType, uuid.New().String()),
		Type:            eventType,
		Payload:         payload,
		CreatedAt:       s.now().UTC(),
	}
	if row != nil {
		e.AccountID = &row.AccountID
		e.ProductID = &row.ProductID
		e.ExternalSubscriptionID = row.ExternalSubscriptionID
	}
	if err := s.events.Append(ctx, e); err != nil {
		log.Printf("[Maintenance] Failed to append %s event: %v", eventType, err)
	}
}
