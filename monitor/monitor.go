// Package monitor runs one polling loop per subscriber and owns the registry
// of active loops.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"visaslot-notifier/match"
	"visaslot-notifier/pkg/notifier"
)

// messagePacing spaces consecutive slot alerts so the transport's rate limits
// are respected. Variable so tests can shrink it.
var messagePacing = 2 * time.Second

// Source is one subscriber's scraping session.
type Source interface {
	Open()
	Fetch(ctx context.Context) ([]notifier.Slot, error)
	Close()
}

// Notifier delivers a message to a subscriber. Implementations handle their
// own retries and never fail loudly.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) bool
}

// Store persists a subscriber's preference record.
type Store interface {
	Save(ctx context.Context, prefs *notifier.Preferences) error
}

// Loop is one subscriber's monitoring lifecycle. It owns its preference
// record (a snapshot taken at Start); nothing else writes it while the loop
// runs.
type Loop struct {
	prefs    *notifier.Preferences
	source   Source
	notifier Notifier
	store    Store
	siteURL  string
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// run drives the fetch → filter → notify → sleep cycle until cancelled.
func (l *Loop) run(ctx context.Context, reg *Registry) {
	defer close(l.done)
	defer reg.remove(l.prefs.ChatID, l)

	l.source.Open()
	defer l.source.Close()

	l.logger.Info("Monitor loop started",
		"chat_id", l.prefs.ChatID,
		"visa_type", l.prefs.VisaType,
		"consulate", l.prefs.FullConsulate(),
		"interval", l.prefs.CheckInterval.String())

	for {
		l.cycle(ctx)

		select {
		case <-ctx.Done():
			l.logger.Info("Monitor loop cancelled", "chat_id", l.prefs.ChatID)
			return
		case <-time.After(l.prefs.CheckInterval):
		}
	}
}

// cycle is one poll iteration. Every failure mode inside it is contained:
// fetch errors become a gated notice, panics are recovered and reported, and
// the loop always proceeds to its sleep.
func (l *Loop) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered panic in poll cycle", "chat_id", l.prefs.ChatID, "panic", r)
			l.notifier.Send(ctx, l.prefs.ChatID, cycleErrorMessage(fmt.Sprint(r), l.prefs.CheckInterval))
		}
	}()

	slots, err := l.source.Fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil || len(slots) == 0 {
		if err != nil {
			l.logger.Warn("Fetch failed", "chat_id", l.prefs.ChatID, "error", err)
		} else {
			l.logger.Warn("No slot data retrieved", "chat_id", l.prefs.ChatID)
		}
		// Dedup keys are left untouched; only the notice gate moves.
		if !l.prefs.NoSlotAlertSent {
			l.notifier.Send(ctx, l.prefs.ChatID, couldNotFetchMessage(l.prefs.CheckInterval))
			l.prefs.NoSlotAlertSent = true
			l.persist(ctx)
		}
		return
	}

	matching, alternatives := match.Filter(slots, l.prefs)
	l.logger.Info("Slots filtered",
		"chat_id", l.prefs.ChatID,
		"total", len(slots),
		"matching", len(matching),
		"alternatives", len(alternatives))

	switch {
	case len(matching) > 0:
		l.prefs.NoSlotAlertSent = false
		for _, slot := range matching {
			isNew := !l.prefs.WasNotified(slot.Key())
			l.notifier.Send(ctx, l.prefs.ChatID, slotAlertMessage(slot, isNew, l.siteURL))
			l.prefs.MarkNotified(slot.Key())
			l.persist(ctx)
			if sleepErr := pace(ctx, messagePacing); sleepErr != nil {
				return
			}
		}
	case len(alternatives) > 0:
		if !l.prefs.NoSlotAlertSent {
			l.notifier.Send(ctx, l.prefs.ChatID, alternativesMessage(alternatives))
			l.prefs.NoSlotAlertSent = true
			l.persist(ctx)
		}
	default:
		if !l.prefs.NoSlotAlertSent {
			l.notifier.Send(ctx, l.prefs.ChatID, noSlotsMessage(l.prefs.CheckInterval))
			l.prefs.NoSlotAlertSent = true
			l.persist(ctx)
		}
	}
}

// persist saves the loop's record. Failures are logged and absorbed:
// last-write-wins is acceptable and a storage hiccup must not stop alerts.
func (l *Loop) persist(ctx context.Context) {
	if err := l.store.Save(ctx, l.prefs); err != nil {
		l.logger.Warn("Failed to persist preferences", "chat_id", l.prefs.ChatID, "error", err)
	}
}

func pace(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
