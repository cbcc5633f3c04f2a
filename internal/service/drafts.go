package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/xid"
)

var ErrDraftNotFound = errors.New("lot draft not found")

const defaultDraftIdle = 30 * time.Minute

// Drafts hosts lot wizards for clients that drive the workflow over HTTP.
// Each wizard serialises its own transitions; Drafts only guards the map.
type Drafts struct {
	mu      sync.Mutex
	drafts  map[string]*lotwizard.Wizard
	gateway lotwizard.Gateway
	opts    []lotwizard.Option
	idle    time.Duration
	now     func() time.Time
	logger  logrus.FieldLogger
}

func NewDrafts(gateway lotwizard.Gateway, idle time.Duration, logger logrus.FieldLogger, opts ...lotwizard.Option) *Drafts {
	if idle <= 0 {
		idle = defaultDraftIdle
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Drafts{
		drafts:  make(map[string]*lotwizard.Wizard),
		gateway: gateway,
		opts:    append([]lotwizard.Option{lotwizard.WithLogger(logger)}, opts...),
		idle:    idle,
		now:     time.Now,
		logger:  logger,
	}
}

// Start opens a draft for an inward entry. A draft whose inward entry cannot
// be loaded is not kept.
func (d *Drafts) Start(ctx context.Context, inwardID string) (string, lotwizard.Snapshot, error) {
	w := lotwizard.New(d.gateway, d.opts...)
	if err := w.SelectSource(ctx, inwardID); err != nil {
		return "", lotwizard.Snapshot{}, err
	}

	id := xid.New("draft")
	d.mu.Lock()
	d.drafts[id] = w
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{"draft_id": id, "inward_id": inwardID}).Debug("lot draft started")
	return id, w.Snapshot(), nil
}

func (d *Drafts) Get(id string) (*lotwizard.Wizard, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return w, nil
}

// Discard cancels the draft and forgets it. A submission still running
// finishes on the server but its result is not attached to any draft.
func (d *Drafts) Discard(id string) error {
	d.mu.Lock()
	w, ok := d.drafts[id]
	delete(d.drafts, id)
	d.mu.Unlock()
	if !ok {
		return ErrDraftNotFound
	}
	w.Cancel()
	return nil
}

// PruneIdle discards drafts untouched for longer than the idle window and
// returns how many were removed.
func (d *Drafts) PruneIdle() int {
	cutoff := d.now().Add(-d.idle)

	d.mu.Lock()
	stale := make(map[string]*lotwizard.Wizard)
	for id, w := range d.drafts {
		if w.LastActivity().Before(cutoff) && !w.Snapshot().Busy {
			stale[id] = w
			delete(d.drafts, id)
		}
	}
	d.mu.Unlock()

	for id, w := range stale {
		w.Cancel()
		d.logger.WithField("draft_id", id).Info("idle lot draft discarded")
	}
	return len(stale)
}

func (d *Drafts) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.drafts)
}

// RunJanitor prunes idle drafts every interval until ctx is done.
func (d *Drafts) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PruneIdle()
		}
	}
}
