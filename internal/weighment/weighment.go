// Package weighment holds the lot arithmetic: nett weight and invoice value
// derivation, the uniform per-bale split and the reconciliation of edited
// bale readings against the lot totals.
package weighment

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest difference (exclusive) between the bale sums and
// the lot totals that still reconciles.
const Tolerance = 0.01

// Upper bounds on accepted readings and rates. They keep every derived
// figure, including the invoice value, well inside float64 range.
const (
	MaxWeight = 1_000_000
	MaxRate   = 10_000_000
)

var tolerance = decimal.NewFromFloat(Tolerance)

// Finite reports whether none of vs is ±Inf or NaN.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

type LotTotals struct {
	NettWeight   float64 `json:"nettWeight"`
	RatePerKg    float64 `json:"ratePerKg"`
	InvoiceValue float64 `json:"invoiceValue"`
}

// Rounded returns the totals rounded to 2 decimals for display and for the
// lot header payload.
func (t LotTotals) Rounded() LotTotals {
	return LotTotals{
		NettWeight:   Round2(t.NettWeight),
		RatePerKg:    Round2(t.RatePerKg),
		InvoiceValue: Round2(t.InvoiceValue),
	}
}

// Row is the per-bale weightment line.
type Row struct {
	BaleNo      int     `json:"baleNo"`
	GrossWeight float64 `json:"grossWeight"`
	TareWeight  float64 `json:"tareWeight"`
	BaleWeight  float64 `json:"baleWeight"`
	BaleValue   float64 `json:"baleValue"`
}

// ComputeLotTotals derives nett weight, rate per kg and invoice value. Inputs
// are not validated here.
func ComputeLotTotals(gross, tare, quintalRate float64) LotTotals {
	nett := gross - tare
	ratePerKg := quintalRate / 100
	return LotTotals{
		NettWeight:   nett,
		RatePerKg:    ratePerKg,
		InvoiceValue: ratePerKg * nett,
	}
}

// SplitIntoBales divides the lot totals uniformly across balesQty rows. Each
// per-bale figure is rounded on its own; remainders are not redistributed, so
// the row sums can drift from the totals by up to balesQty*0.005.
func SplitIntoBales(balesQty int, gross, tare, ratePerKg float64) []Row {
	if balesQty <= 0 {
		return nil
	}

	n := float64(balesQty)
	grossPerBale := Round2(gross / n)
	tarePerBale := Round2(tare / n)

	rows := make([]Row, balesQty)
	for i := range rows {
		rows[i] = RecomputeRow(Row{
			BaleNo:      i + 1,
			GrossWeight: grossPerBale,
			TareWeight:  tarePerBale,
		}, ratePerKg)
	}
	return rows
}

// RecomputeRow refreshes the derived fields of one row from its own gross and
// tare readings.
func RecomputeRow(row Row, ratePerKg float64) Row {
	row.BaleWeight = Round2(row.GrossWeight - row.TareWeight)
	row.BaleValue = Round2(row.GrossWeight * ratePerKg)
	return row
}

// Round2 rounds half away from zero to 2 decimals. Non-finite values are
// returned unchanged.
func Round2(v float64) float64 {
	if !Finite(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Totals returns the running gross and tare sums of rows.
func Totals(rows []Row) (gross float64, tare float64) {
	g, t, ok := sums(rows)
	if !ok {
		for _, row := range rows {
			gross += row.GrossWeight
			tare += row.TareWeight
		}
		return gross, tare
	}
	return g.InexactFloat64(), t.InexactFloat64()
}

// sums adds the readings exactly. ok is false when a reading is not finite;
// those readings are left out of the sums.
func sums(rows []Row) (gross decimal.Decimal, tare decimal.Decimal, ok bool) {
	ok = true
	for _, row := range rows {
		if !Finite(row.GrossWeight, row.TareWeight) {
			ok = false
			continue
		}
		gross = gross.Add(decimal.NewFromFloat(row.GrossWeight))
		tare = tare.Add(decimal.NewFromFloat(row.TareWeight))
	}
	return gross, tare, ok
}

// Reconcile reports whether the gross and tare sums of rows are both within
// Tolerance of the original lot totals. An empty row list never reconciles.
func Reconcile(rows []Row, originalGross, originalTare float64) bool {
	return CheckReconciliation(rows, originalGross, originalTare) == nil
}

// CheckReconciliation is Reconcile with the running totals attached to the
// failure. Rows or totals that are not finite never reconcile.
func CheckReconciliation(rows []Row, originalGross, originalTare float64) error {
	gross, tare, ok := sums(rows)
	mismatch := &MismatchError{
		Rows:          len(rows),
		OriginalGross: originalGross,
		OriginalTare:  originalTare,
		CurrentGross:  gross.InexactFloat64(),
		CurrentTare:   tare.InexactFloat64(),
	}
	if len(rows) == 0 || !ok || !Finite(originalGross, originalTare) {
		return mismatch
	}
	if gross.Sub(decimal.NewFromFloat(originalGross)).Abs().GreaterThanOrEqual(tolerance) {
		return mismatch
	}
	if tare.Sub(decimal.NewFromFloat(originalTare)).Abs().GreaterThanOrEqual(tolerance) {
		return mismatch
	}
	return nil
}

type MismatchError struct {
	Rows          int     `json:"rows"`
	OriginalGross float64 `json:"originalGross"`
	OriginalTare  float64 `json:"originalTare"`
	CurrentGross  float64 `json:"currentGross"`
	CurrentTare   float64 `json:"currentTare"`
}

func (e *MismatchError) Error() string {
	if e.Rows == 0 {
		return "weightment mismatch: no bale rows entered"
	}
	return fmt.Sprintf(
		"weightment mismatch: gross %.2f (original %.2f), tare %.2f (original %.2f)",
		e.CurrentGross, e.OriginalGross, e.CurrentTare, e.OriginalTare,
	)
}
