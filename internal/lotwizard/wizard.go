// Package lotwizard is the lot creation workflow: pick an inward entry, edit
// the lot details, edit the per-bale weightments, then submit the lot header
// and its weightments as one unit. It has no UI dependency; a caller drives
// it through the exported transitions and renders Snapshot.
package lotwizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/saga"
	"spinmill/backend/internal/weighment"
)

// Gateway is the persistence side the wizard talks to.
type Gateway interface {
	GetInwardEntry(ctx context.Context, id string) (domain.InwardEntry, error)
	NextLotNumber(ctx context.Context) (string, error)
	CreateLot(ctx context.Context, req domain.LotCreateRequest) (domain.Lot, error)
	CreateWeightments(ctx context.Context, lotNo string, rows []domain.WeightmentCreateRequest) ([]domain.Weightment, error)
	DeleteLot(ctx context.Context, lotNo string) error
}

type State int

const (
	SelectSource State = iota
	EditLotDetails
	EditWeightments
	ReviewAndSubmit
	Submitted
	Failed
	Discarded
)

var stateNames = map[State]string{
	SelectSource:    "select_source",
	EditLotDetails:  "edit_lot_details",
	EditWeightments: "edit_weightments",
	ReviewAndSubmit: "review_and_submit",
	Submitted:       "submitted",
	Failed:          "failed",
	Discarded:       "discarded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Option func(*Wizard)

func WithClock(now func() time.Time) Option {
	return func(w *Wizard) {
		if now != nil {
			w.now = now
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *Wizard) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithLotPrefix(prefix string) Option {
	return func(w *Wizard) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			w.lotPrefix = prefix
		}
	}
}

// WithOnSubmitted registers a hook run after a lot and its weightments were
// both created, typically to refresh the inward entry list.
func WithOnSubmitted(fn func(ctx context.Context, lot domain.Lot)) Option {
	return func(w *Wizard) {
		w.onSubmitted = fn
	}
}

// Wizard owns one lot draft. Transitions are serialised; network calls run
// without holding the lock so Cancel is never blocked, and at most one call
// is outstanding at a time.
type Wizard struct {
	mu          sync.Mutex
	gateway     Gateway
	logger      logrus.FieldLogger
	now         func() time.Time
	lotPrefix   string
	onSubmitted func(ctx context.Context, lot domain.Lot)

	state      State
	inward     *domain.InwardEntry
	draft      LotDraft
	rows       []WeightmentRow
	warning    string
	lastErr    error
	submitted  *domain.Lot
	busy       bool
	generation uint64
	touchedAt  time.Time
}

func New(gateway Gateway, opts ...Option) *Wizard {
	w := &Wizard{
		gateway:   gateway,
		logger:    logrus.StandardLogger(),
		now:       time.Now,
		lotPrefix: DefaultLotPrefix,
		state:     SelectSource,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.touchedAt = w.now()
	return w
}

// begin validates that action is allowed and that no call is running. It is
// called with w.mu held.
func (w *Wizard) begin(action string, allowed ...State) error {
	if w.state == Discarded {
		return ErrDiscarded
	}
	if w.busy {
		return ErrCallInFlight
	}
	for _, s := range allowed {
		if w.state == s {
			w.touchedAt = w.now()
			return nil
		}
	}
	return invalidTransition(w.state, action)
}

// SelectSource loads the inward entry and the next lot number and opens the
// lot details step. A failed lot number fetch falls back to a synthesised
// number and leaves a warning.
func (w *Wizard) SelectSource(ctx context.Context, inwardID string) error {
	inwardID = strings.TrimSpace(inwardID)
	w.mu.Lock()
	if err := w.begin("select an inward entry", SelectSource); err != nil {
		w.mu.Unlock()
		return err
	}
	if inwardID == "" {
		w.mu.Unlock()
		ve := &ValidationErrors{}
		ve.Add("inwardId", "is required")
		return ve
	}
	gen := w.generation
	w.busy = true
	w.mu.Unlock()

	entry, entryErr := w.gateway.GetInwardEntry(ctx, inwardID)
	var lotNo string
	var lotErr error
	if entryErr == nil {
		lotNo, lotErr = w.gateway.NextLotNumber(ctx)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	if w.generation != gen {
		return ErrDiscarded
	}
	if entryErr != nil {
		w.lastErr = entryErr
		return entryErr
	}

	w.warning = ""
	if lotErr != nil || strings.TrimSpace(lotNo) == "" {
		lotNo = FallbackLotNo(w.lotPrefix, w.now())
		w.warning = fmt.Sprintf("could not fetch next lot number, using %s; confirm it before submitting", lotNo)
		w.logger.WithFields(logrus.Fields{
			"inward_id": inwardID,
			"lot_no":    lotNo,
		}).WithError(lotErr).Warn("next lot number unavailable, using fallback")
	}

	w.inward = &entry
	w.draft = NewDraft(entry, lotNo)
	w.lastErr = nil
	w.state = EditLotDetails
	return nil
}

// UpdateDetails applies an operator edit to the lot details.
func (w *Wizard) UpdateDetails(patch DetailsPatch) (LotDraft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("edit lot details", EditLotDetails); err != nil {
		return LotDraft{}, err
	}
	if err := patch.Validate(); err != nil {
		return w.draft, err
	}
	w.draft = patch.Apply(w.draft)
	return w.draft, nil
}

// Next advances from lot details to weightments (generating the bale rows)
// or from weightments to review (once the rows reconcile).
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("advance", EditLotDetails, EditWeightments); err != nil {
		return err
	}

	switch w.state {
	case EditLotDetails:
		if err := w.draft.Validate(); err != nil {
			return err
		}
		w.rows = weighment.SplitIntoBales(w.draft.BalesQty, w.draft.GrossWeight, w.draft.TareWeight, w.draft.RatePerKg)
		w.state = EditWeightments
	case EditWeightments:
		if err := weighment.CheckReconciliation(w.rows, w.draft.GrossWeight, w.draft.TareWeight); err != nil {
			return err
		}
		w.state = ReviewAndSubmit
	}
	w.lastErr = nil
	return nil
}

// EditRow changes one bale reading and recomputes that row only.
func (w *Wizard) EditRow(index int, patch RowPatch) (WeightmentRow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("edit a weightment row", EditWeightments); err != nil {
		return WeightmentRow{}, err
	}
	if index < 0 || index >= len(w.rows) {
		return WeightmentRow{}, fmt.Errorf("%w: %d of %d", ErrRowIndex, index, len(w.rows))
	}
	if err := patch.Validate(); err != nil {
		return w.rows[index], err
	}
	w.rows[index] = patch.Apply(w.rows[index], w.draft.RatePerKg)
	return w.rows[index], nil
}

// Back steps one screen back: review (or a failed submit) to the weightment
// rows, and the rows to the lot details. Leaving the rows drops the edits;
// Next regenerates them from the details.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("go back", EditWeightments, ReviewAndSubmit, Failed); err != nil {
		return err
	}
	if w.state == EditWeightments {
		w.rows = nil
		w.state = EditLotDetails
		return nil
	}
	w.state = EditWeightments
	return nil
}

// RenumberLot replaces the lot number of a draft under review or after a
// failed submit, keeping the bale rows. It is the way out of a lot number
// that was taken in the meantime.
func (w *Wizard) RenumberLot(lotNo string) (LotDraft, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.begin("change the lot number", ReviewAndSubmit, Failed); err != nil {
		return LotDraft{}, err
	}
	if strings.TrimSpace(lotNo) == "" {
		ve := &ValidationErrors{}
		ve.Add("lotNo", "is required")
		return w.draft, ve
	}
	w.draft = w.draft.WithLotNo(lotNo)
	w.warning = ""
	w.lastErr = nil
	w.state = ReviewAndSubmit
	return w.draft, nil
}

// Submit creates the lot header and then its weightments. When the
// weightments are rejected the header is deleted again. The draft is kept on
// any failure so the operator can retry.
func (w *Wizard) Submit(ctx context.Context) (domain.Lot, error) {
	w.mu.Lock()
	if err := w.begin("submit", ReviewAndSubmit, Failed); err != nil {
		w.mu.Unlock()
		return domain.Lot{}, err
	}
	if err := w.draft.Validate(); err != nil {
		w.mu.Unlock()
		return domain.Lot{}, err
	}
	if err := weighment.CheckReconciliation(w.rows, w.draft.GrossWeight, w.draft.TareWeight); err != nil {
		w.mu.Unlock()
		return domain.Lot{}, err
	}
	header := w.draft.CreateRequest()
	payload := weightmentPayload(w.rows)
	gen := w.generation
	w.busy = true
	w.mu.Unlock()

	created, err := w.runSubmission(ctx, header, payload)

	w.mu.Lock()
	w.busy = false
	if w.generation != gen {
		w.mu.Unlock()
		w.logger.WithFields(logrus.Fields{
			"inward_id": header.InwardID,
			"lot_no":    created.LotNo,
		}).WithError(err).Warn("submission finished after the draft was discarded; result ignored")
		return domain.Lot{}, ErrDiscarded
	}
	if err != nil {
		w.state = Failed
		w.lastErr = err
		w.mu.Unlock()
		return domain.Lot{}, err
	}

	w.state = Submitted
	w.submitted = &created
	w.draft = LotDraft{}
	w.rows = nil
	w.inward = nil
	w.warning = ""
	w.lastErr = nil
	hook := w.onSubmitted
	w.mu.Unlock()

	if hook != nil {
		hook(ctx, created)
	}
	return created, nil
}

func (w *Wizard) runSubmission(ctx context.Context, header domain.LotCreateRequest, payload []domain.WeightmentCreateRequest) (domain.Lot, error) {
	var created domain.Lot
	createLot := saga.Step{
		Name: "create lot",
		Action: func(ctx context.Context) error {
			lot, err := w.gateway.CreateLot(ctx, header)
			if err != nil {
				return err
			}
			if strings.TrimSpace(lot.LotNo) == "" {
				return errors.New("lot was created without a lot number")
			}
			created = lot
			return nil
		},
		Compensate: func(ctx context.Context) error {
			return w.gateway.DeleteLot(ctx, created.LotNo)
		},
	}
	createWeightments := saga.Step{
		Name: "create weightments",
		Action: func(ctx context.Context) error {
			weightments, err := w.gateway.CreateWeightments(ctx, created.LotNo, payload)
			if err != nil {
				return err
			}
			created.Weightments = weightments
			return nil
		},
	}

	logger := w.logger.WithFields(logrus.Fields{"inward_id": header.InwardID, "lot_no": header.LotNo})
	if err := saga.New(logger, createLot, createWeightments).Run(ctx); err != nil {
		return created, err
	}
	return created, nil
}

// Cancel discards the draft. A call still running when Cancel happens has
// its result ignored.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Discarded
	w.generation++
	w.draft = LotDraft{}
	w.rows = nil
	w.inward = nil
	w.warning = ""
	w.lastErr = nil
	w.touchedAt = w.now()
}

func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastActivity is the time of the last accepted transition.
func (w *Wizard) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.touchedAt
}

type Snapshot struct {
	State      State               `json:"state"`
	Inward     *domain.InwardEntry `json:"inward,omitempty"`
	Draft      *LotDraft           `json:"draft,omitempty"`
	Rows       []WeightmentRow     `json:"rows,omitempty"`
	RowGross   float64             `json:"rowGrossTotal"`
	RowTare    float64             `json:"rowTareTotal"`
	Reconciled bool                `json:"reconciled"`
	Warning    string              `json:"warning,omitempty"`
	LastError  string              `json:"lastError,omitempty"`
	Submitted  *domain.Lot         `json:"submitted,omitempty"`
	Busy       bool                `json:"busy"`
}

// Snapshot returns a copy of the current wizard state for display.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		State:     w.state,
		Warning:   w.warning,
		Submitted: w.submitted,
		Busy:      w.busy,
	}
	if w.lastErr != nil {
		snap.LastError = w.lastErr.Error()
	}
	if w.inward != nil {
		entry := *w.inward
		snap.Inward = &entry
	}
	if w.state != SelectSource && w.state != Submitted && w.state != Discarded {
		draft := w.draft
		snap.Draft = &draft
	}
	if len(w.rows) > 0 {
		snap.Rows = append([]WeightmentRow(nil), w.rows...)
		snap.RowGross, snap.RowTare = weighment.Totals(w.rows)
		snap.Reconciled = weighment.Reconcile(w.rows, w.draft.GrossWeight, w.draft.TareWeight)
	}
	return snap
}
