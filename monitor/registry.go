package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"visaslot-notifier/pkg/notifier"
)

// Registry operation failures, returned synchronously to the caller.
var (
	ErrAlreadyRunning        = errors.New("monitoring already running for this subscriber")
	ErrNotRunning            = errors.New("no monitoring running for this subscriber")
	ErrPreferencesIncomplete = errors.New("preferences incomplete")
)

// Registry owns the set of active monitor loops, at most one per subscriber.
// The internal map is the only state shared across loops; every mutation goes
// through one mutex and no lock is held across a blocking call.
type Registry struct {
	mu    sync.Mutex
	loops map[int64]*Loop

	newSource func() Source
	notifier  Notifier
	store     Store
	siteURL   string
	logger    *slog.Logger
}

// NewRegistry creates a registry. newSource builds a fresh scraping session
// for each started loop.
func NewRegistry(newSource func() Source, n Notifier, store Store, siteURL string, logger *slog.Logger) *Registry {
	return &Registry{
		loops:     make(map[int64]*Loop),
		newSource: newSource,
		notifier:  n,
		store:     store,
		siteURL:   siteURL,
		logger:    logger,
	}
}

// Start validates the preferences and spawns a monitor loop bound to a
// snapshot of them. It returns immediately; the loop runs until Stop or
// until ctx (the process lifetime) is cancelled.
func (r *Registry) Start(ctx context.Context, prefs *notifier.Preferences) error {
	if !prefs.Complete() {
		return ErrPreferencesIncomplete
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.loops[prefs.ChatID]; ok {
		select {
		case <-existing.done:
			// Completed handle, safe to replace.
		default:
			return ErrAlreadyRunning
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l := &Loop{
		prefs:    prefs.Clone(),
		source:   r.newSource(),
		notifier: r.notifier,
		store:    r.store,
		siteURL:  r.siteURL,
		logger:   r.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.loops[prefs.ChatID] = l

	go l.run(loopCtx, r)

	r.logger.Info("Monitor loop registered", "chat_id", prefs.ChatID)
	return nil
}

// Stop signals the subscriber's loop to cancel and blocks until it confirms
// termination.
func (r *Registry) Stop(chatID int64) error {
	r.mu.Lock()
	l, ok := r.loops[chatID]
	if ok {
		select {
		case <-l.done:
			ok = false
		default:
		}
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotRunning
	}

	l.cancel()
	<-l.done
	return nil
}

// IsRunning is a non-blocking liveness query.
func (r *Registry) IsRunning(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loops[chatID]
	if !ok {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// StopAll cancels every loop and waits for them, for process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	loops := make([]*Loop, 0, len(r.loops))
	for _, l := range r.loops {
		loops = append(loops, l)
	}
	r.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

// remove drops a loop's handle once it has terminated. The loop pointer is
// compared so a replacement registered after a Stop isn't clobbered.
func (r *Registry) remove(chatID int64, l *Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loops[chatID] == l {
		delete(r.loops, chatID)
	}
}
