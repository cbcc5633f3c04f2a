package lotwizard

import (
	"fmt"
	"strings"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/weighment"
)

// WeightmentRow is one bale of the draft.
type WeightmentRow = weighment.Row

// LotDraft is the lot being built. Values are never mutated in place: every
// With* call returns a copy with the derived totals recomputed.
type LotDraft struct {
	InwardID       string  `json:"inwardId"`
	InwardNo       string  `json:"inwardNo"`
	LotNo          string  `json:"lotNo"`
	SetNo          string  `json:"setNo"`
	BalesQty       int     `json:"balesQty"`
	CessPaidAmount float64 `json:"cessPaidAmount"`
	GrossWeight    float64 `json:"grossWeight"`
	TareWeight     float64 `json:"tareWeight"`
	CandyRate      float64 `json:"candyRate"`
	QuintalRate    float64 `json:"quintalRate"`
	NettWeight     float64 `json:"nettWeight"`
	RatePerKg      float64 `json:"ratePerKg"`
	InvoiceValue   float64 `json:"invoiceValue"`
	Remarks        string  `json:"remarks"`
}

// NewDraft starts a draft for entry, pre-filled with the purchase rates and
// the bales still available on it.
func NewDraft(entry domain.InwardEntry, lotNo string) LotDraft {
	return LotDraft{
		InwardID:    entry.ID,
		InwardNo:    entry.InwardNo,
		LotNo:       strings.TrimSpace(lotNo),
		BalesQty:    entry.AvailableBales,
		CandyRate:   entry.PurchaseOrder.CandyRate,
		QuintalRate: entry.PurchaseOrder.QuintalRate,
	}.recompute()
}

func (d LotDraft) recompute() LotDraft {
	totals := weighment.ComputeLotTotals(d.GrossWeight, d.TareWeight, d.QuintalRate).Rounded()
	d.NettWeight = totals.NettWeight
	d.RatePerKg = totals.RatePerKg
	d.InvoiceValue = totals.InvoiceValue
	return d
}

func (d LotDraft) WithLotNo(lotNo string) LotDraft {
	d.LotNo = strings.TrimSpace(lotNo)
	return d
}

func (d LotDraft) WithSetNo(setNo string) LotDraft {
	d.SetNo = strings.TrimSpace(setNo)
	return d
}

func (d LotDraft) WithBalesQty(qty int) LotDraft {
	d.BalesQty = qty
	return d
}

func (d LotDraft) WithCessPaidAmount(amount float64) LotDraft {
	d.CessPaidAmount = amount
	return d
}

func (d LotDraft) WithGrossWeight(gross float64) LotDraft {
	d.GrossWeight = gross
	return d.recompute()
}

func (d LotDraft) WithTareWeight(tare float64) LotDraft {
	d.TareWeight = tare
	return d.recompute()
}

func (d LotDraft) WithCandyRate(rate float64) LotDraft {
	d.CandyRate = rate
	return d
}

func (d LotDraft) WithQuintalRate(rate float64) LotDraft {
	d.QuintalRate = rate
	return d.recompute()
}

func (d LotDraft) WithRemarks(remarks string) LotDraft {
	d.Remarks = strings.TrimSpace(remarks)
	return d
}

// Validate checks the lot details that gate the move to bale weightments.
func (d LotDraft) Validate() error {
	ve := &ValidationErrors{}
	if d.LotNo == "" {
		ve.Add("lotNo", "is required")
	}
	if d.BalesQty <= 0 {
		ve.Add("balesQty", "must be greater than 0")
	}
	if d.GrossWeight <= 0 {
		ve.Add("grossWeight", "must be greater than 0")
	}
	if d.TareWeight < 0 {
		ve.Add("tareWeight", "must not be negative")
	}
	if d.GrossWeight > 0 && d.TareWeight >= 0 && d.GrossWeight <= d.TareWeight {
		ve.Add("grossWeight", "must be greater than tare weight")
	}
	if d.CandyRate < 0 {
		ve.Add("candyRate", "must not be negative")
	}
	if d.QuintalRate < 0 {
		ve.Add("quintalRate", "must not be negative")
	}
	checkBound(ve, "cessPaidAmount", d.CessPaidAmount, weighment.MaxRate)
	checkBound(ve, "grossWeight", d.GrossWeight, weighment.MaxWeight)
	checkBound(ve, "tareWeight", d.TareWeight, weighment.MaxWeight)
	checkBound(ve, "candyRate", d.CandyRate, weighment.MaxRate)
	checkBound(ve, "quintalRate", d.QuintalRate, weighment.MaxRate)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func (d LotDraft) CreateRequest() domain.LotCreateRequest {
	return domain.LotCreateRequest{
		InwardID:       d.InwardID,
		LotNo:          d.LotNo,
		SetNo:          d.SetNo,
		BalesQty:       d.BalesQty,
		CessPaidAmount: d.CessPaidAmount,
		GrossWeight:    d.GrossWeight,
		TareWeight:     d.TareWeight,
		NettWeight:     d.NettWeight,
		CandyRate:      d.CandyRate,
		QuintalRate:    d.QuintalRate,
		RatePerKg:      d.RatePerKg,
		InvoiceValue:   d.InvoiceValue,
		Remarks:        d.Remarks,
	}
}

// DetailsPatch carries the lot detail fields an operator changed; nil fields
// are left alone.
type DetailsPatch struct {
	LotNo          *string  `json:"lotNo,omitempty"`
	SetNo          *string  `json:"setNo,omitempty"`
	BalesQty       *int     `json:"balesQty,omitempty"`
	CessPaidAmount *float64 `json:"cessPaidAmount,omitempty"`
	GrossWeight    *float64 `json:"grossWeight,omitempty"`
	TareWeight     *float64 `json:"tareWeight,omitempty"`
	CandyRate      *float64 `json:"candyRate,omitempty"`
	QuintalRate    *float64 `json:"quintalRate,omitempty"`
	Remarks        *string  `json:"remarks,omitempty"`
}

// checkBound adds an error when v is not finite or above limit.
func checkBound(ve *ValidationErrors, field string, v float64, limit float64) {
	switch {
	case !weighment.Finite(v):
		ve.Add(field, "must be a finite number")
	case v > limit:
		ve.Add(field, fmt.Sprintf("must not exceed %d", int64(limit)))
	}
}

func checkOptional(ve *ValidationErrors, field string, v *float64, limit float64) {
	if v != nil {
		checkBound(ve, field, *v, limit)
	}
}

// Validate rejects numbers no lot could carry: non-finite values and values
// above the weight and rate bounds.
func (p DetailsPatch) Validate() error {
	ve := &ValidationErrors{}
	checkOptional(ve, "cessPaidAmount", p.CessPaidAmount, weighment.MaxRate)
	checkOptional(ve, "grossWeight", p.GrossWeight, weighment.MaxWeight)
	checkOptional(ve, "tareWeight", p.TareWeight, weighment.MaxWeight)
	checkOptional(ve, "candyRate", p.CandyRate, weighment.MaxRate)
	checkOptional(ve, "quintalRate", p.QuintalRate, weighment.MaxRate)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Apply copies the set fields onto d. Non-finite numbers are skipped; use
// Validate to report them.
func (p DetailsPatch) Apply(d LotDraft) LotDraft {
	if p.LotNo != nil {
		d = d.WithLotNo(*p.LotNo)
	}
	if p.SetNo != nil {
		d = d.WithSetNo(*p.SetNo)
	}
	if p.BalesQty != nil {
		d = d.WithBalesQty(*p.BalesQty)
	}
	if p.CessPaidAmount != nil && weighment.Finite(*p.CessPaidAmount) {
		d = d.WithCessPaidAmount(*p.CessPaidAmount)
	}
	if p.GrossWeight != nil && weighment.Finite(*p.GrossWeight) {
		d = d.WithGrossWeight(*p.GrossWeight)
	}
	if p.TareWeight != nil && weighment.Finite(*p.TareWeight) {
		d = d.WithTareWeight(*p.TareWeight)
	}
	if p.CandyRate != nil && weighment.Finite(*p.CandyRate) {
		d = d.WithCandyRate(*p.CandyRate)
	}
	if p.QuintalRate != nil && weighment.Finite(*p.QuintalRate) {
		d = d.WithQuintalRate(*p.QuintalRate)
	}
	if p.Remarks != nil {
		d = d.WithRemarks(*p.Remarks)
	}
	return d
}

// RowPatch is an edit of one bale reading.
type RowPatch struct {
	GrossWeight *float64 `json:"grossWeight,omitempty"`
	TareWeight  *float64 `json:"tareWeight,omitempty"`
}

func (p RowPatch) Validate() error {
	ve := &ValidationErrors{}
	checkOptional(ve, "grossWeight", p.GrossWeight, weighment.MaxWeight)
	checkOptional(ve, "tareWeight", p.TareWeight, weighment.MaxWeight)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// Apply sets the edited readings on row and recomputes it. Non-finite
// readings are skipped.
func (p RowPatch) Apply(row WeightmentRow, ratePerKg float64) WeightmentRow {
	if p.GrossWeight != nil && weighment.Finite(*p.GrossWeight) {
		row.GrossWeight = *p.GrossWeight
	}
	if p.TareWeight != nil && weighment.Finite(*p.TareWeight) {
		row.TareWeight = *p.TareWeight
	}
	return weighment.RecomputeRow(row, ratePerKg)
}

func weightmentPayload(rows []WeightmentRow) []domain.WeightmentCreateRequest {
	payload := make([]domain.WeightmentCreateRequest, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, domain.WeightmentCreateRequest{
			GrossWeight: row.GrossWeight,
			TareWeight:  row.TareWeight,
			BaleValue:   row.BaleValue,
		})
	}
	return payload
}
