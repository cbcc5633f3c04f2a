package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/weighment"
)

// backend is what the terminal session needs from the API.
type backend interface {
	lotwizard.Gateway
	ListInwardEntries(ctx context.Context) ([]domain.InwardEntry, error)
}

var errInputClosed = errors.New("input closed before the lot was submitted")

// session drives one lotwizard.Wizard from line-based terminal input.
type session struct {
	backend backend
	wizard  *lotwizard.Wizard
	in      *bufio.Reader
	out     io.Writer
}

func newSession(b backend, in io.Reader, out io.Writer, opts ...lotwizard.Option) *session {
	s := &session{
		backend: b,
		in:      bufio.NewReader(in),
		out:     out,
	}
	s.wizard = lotwizard.New(b, append(opts, lotwizard.WithOnSubmitted(s.refreshInward))...)
	return s
}

// refreshInward reloads the lot's inward entry after a submit so the
// operator sees the bales left for the next lot.
func (s *session) refreshInward(ctx context.Context, lot domain.Lot) {
	entry, err := s.backend.GetInwardEntry(ctx, lot.InwardID)
	if err != nil {
		fmt.Fprintf(s.out, "  could not refresh inward entry: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "inward %s now has %d bales free\n", entry.InwardNo, entry.AvailableBales)
}

func (s *session) run(ctx context.Context, inwardID string) error {
	if err := s.selectSource(ctx, inwardID); err != nil {
		s.wizard.Cancel()
		return err
	}

	for {
		var err error
		switch s.wizard.State() {
		case lotwizard.EditLotDetails:
			err = s.editDetails()
		case lotwizard.EditWeightments:
			err = s.editWeightments()
		case lotwizard.ReviewAndSubmit, lotwizard.Failed:
			err = s.review(ctx)
		case lotwizard.Submitted:
			lot := s.wizard.Snapshot().Submitted
			fmt.Fprintf(s.out, "lot %s created with %d weightments\n", lot.LotNo, len(lot.Weightments))
			return nil
		case lotwizard.Discarded:
			fmt.Fprintln(s.out, "lot draft discarded")
			return nil
		default:
			err = fmt.Errorf("unexpected wizard state %s", s.wizard.State())
		}
		if err != nil {
			s.wizard.Cancel()
			return err
		}
	}
}

func (s *session) selectSource(ctx context.Context, inwardID string) error {
	if inwardID != "" {
		return s.wizard.SelectSource(ctx, inwardID)
	}

	entries, err := s.backend.ListInwardEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("no inward entries to create lots from")
	}
	printInwardEntries(s.out, entries)

	for {
		raw, err := s.prompt("Inward entry (id or inward no)", "")
		if err != nil {
			return err
		}
		id := resolveInward(entries, raw)
		if id == "" {
			fmt.Fprintf(s.out, "  no inward entry %q\n", raw)
			continue
		}
		if err := s.wizard.SelectSource(ctx, id); err != nil {
			fmt.Fprintf(s.out, "  %v\n", err)
			continue
		}
		return nil
	}
}

func resolveInward(entries []domain.InwardEntry, raw string) string {
	for _, e := range entries {
		if strings.EqualFold(e.ID, raw) || strings.EqualFold(e.InwardNo, raw) {
			return e.ID
		}
	}
	return ""
}

func (s *session) editDetails() error {
	snap := s.wizard.Snapshot()
	if snap.Draft == nil {
		return errors.New("lot draft missing")
	}
	d := *snap.Draft
	fmt.Fprintf(s.out, "\nLot details for inward %s (%d bales free). Enter keeps a value, - clears text.\n",
		d.InwardNo, snap.Inward.AvailableBales)
	if snap.Warning != "" {
		fmt.Fprintf(s.out, "warning: %s\n", snap.Warning)
	}

	var patch lotwizard.DetailsPatch
	var err error
	if patch.LotNo, err = s.promptText("Lot no", d.LotNo); err != nil {
		return err
	}
	if patch.SetNo, err = s.promptText("Set no", d.SetNo); err != nil {
		return err
	}
	bales, err := s.promptInt("Bales", d.BalesQty)
	if err != nil {
		return err
	}
	patch.BalesQty = &bales
	if patch.CessPaidAmount, err = s.promptFloat("Cess paid", d.CessPaidAmount); err != nil {
		return err
	}
	if patch.GrossWeight, err = s.promptFloat("Gross weight (kg)", d.GrossWeight); err != nil {
		return err
	}
	if patch.TareWeight, err = s.promptFloat("Tare weight (kg)", d.TareWeight); err != nil {
		return err
	}
	if patch.CandyRate, err = s.promptFloat("Candy rate", d.CandyRate); err != nil {
		return err
	}
	if patch.QuintalRate, err = s.promptFloat("Quintal rate", d.QuintalRate); err != nil {
		return err
	}
	if patch.Remarks, err = s.promptText("Remarks", d.Remarks); err != nil {
		return err
	}

	var guards *lotwizard.ValidationErrors
	updated, err := s.wizard.UpdateDetails(patch)
	if errors.As(err, &guards) {
		s.printGuards(guards)
		return nil
	} else if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "nett %s kg, %s /kg, invoice value %s\n",
		formatNumber(updated.NettWeight), formatNumber(updated.RatePerKg), formatNumber(updated.InvoiceValue))

	if err := s.wizard.Next(); errors.As(err, &guards) {
		s.printGuards(guards)
		return nil
	} else if err != nil {
		return err
	}
	return nil
}

func (s *session) printGuards(guards *lotwizard.ValidationErrors) {
	for _, fe := range guards.Errors {
		fmt.Fprintf(s.out, "  %s %s\n", fe.Field, fe.Message)
	}
}

func (s *session) editWeightments() error {
	snap := s.wizard.Snapshot()
	s.printRows(snap)

	choice, err := s.prompt("[e]dit row, [n]ext, [b]ack to details, [q]uit", "n")
	if err != nil {
		return err
	}
	switch strings.ToLower(choice) {
	case "e", "edit":
		return s.editRow(snap.Rows)
	case "n", "next":
		var mismatch *weighment.MismatchError
		if err := s.wizard.Next(); errors.As(err, &mismatch) {
			fmt.Fprintf(s.out, "  %v\n", mismatch)
			return nil
		} else if err != nil {
			return err
		}
	case "b", "back":
		return s.wizard.Back()
	case "q", "quit":
		s.wizard.Cancel()
	default:
		fmt.Fprintf(s.out, "  unknown choice %q\n", choice)
	}
	return nil
}

func (s *session) editRow(rows []lotwizard.WeightmentRow) error {
	baleNo, err := s.promptInt("Bale no", 0)
	if err != nil {
		return err
	}
	if baleNo < 1 || baleNo > len(rows) {
		fmt.Fprintf(s.out, "  bale no must be 1-%d\n", len(rows))
		return nil
	}
	row := rows[baleNo-1]
	var patch lotwizard.RowPatch
	if patch.GrossWeight, err = s.promptFloat("  Gross weight", row.GrossWeight); err != nil {
		return err
	}
	if patch.TareWeight, err = s.promptFloat("  Tare weight", row.TareWeight); err != nil {
		return err
	}
	var guards *lotwizard.ValidationErrors
	if _, err = s.wizard.EditRow(baleNo-1, patch); errors.As(err, &guards) {
		s.printGuards(guards)
		return nil
	}
	return err
}

func (s *session) review(ctx context.Context) error {
	snap := s.wizard.Snapshot()
	d := snap.Draft
	fmt.Fprintf(s.out, "\nLot %s from inward %s\n", d.LotNo, d.InwardNo)
	fmt.Fprintf(s.out, "  bales %d, gross %s, tare %s, nett %s\n",
		d.BalesQty, formatNumber(d.GrossWeight), formatNumber(d.TareWeight), formatNumber(d.NettWeight))
	fmt.Fprintf(s.out, "  rate %s /kg, invoice value %s\n", formatNumber(d.RatePerKg), formatNumber(d.InvoiceValue))
	if snap.State == lotwizard.Failed && snap.LastError != "" {
		fmt.Fprintf(s.out, "  last submit failed: %s\n", snap.LastError)
	}

	choice, err := s.prompt("[s]ubmit, [b]ack, [l]ot no, [q]uit", "s")
	if err != nil {
		return err
	}
	switch strings.ToLower(choice) {
	case "l", "lot":
		lotNo, err := s.prompt("Lot no", d.LotNo)
		if err != nil {
			return err
		}
		if _, err := s.wizard.RenumberLot(lotNo); err != nil {
			fmt.Fprintf(s.out, "  %v\n", err)
		}
	case "s", "submit":
		if _, err := s.wizard.Submit(ctx); err != nil {
			if errors.Is(err, lotwizard.ErrDiscarded) {
				return err
			}
			fmt.Fprintf(s.out, "  submit failed: %v\n", err)
		}
	case "b", "back":
		return s.wizard.Back()
	case "q", "quit":
		s.wizard.Cancel()
	default:
		fmt.Fprintf(s.out, "  unknown choice %q\n", choice)
	}
	return nil
}

func (s *session) printRows(snap lotwizard.Snapshot) {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\nBale\tGross\tTare\tBale wt\tValue\t")
	for _, row := range snap.Rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n", row.BaleNo,
			formatNumber(row.GrossWeight), formatNumber(row.TareWeight), formatNumber(row.BaleWeight), formatNumber(row.BaleValue))
	}
	fmt.Fprintf(tw, "Total\t%s\t%s\t\t\t\n", formatNumber(snap.RowGross), formatNumber(snap.RowTare))
	_ = tw.Flush()
	if snap.Draft != nil {
		status := "reconciled"
		if !snap.Reconciled {
			status = "NOT reconciled"
		}
		fmt.Fprintf(s.out, "lot gross %s, tare %s: %s\n",
			formatNumber(snap.Draft.GrossWeight), formatNumber(snap.Draft.TareWeight), status)
	}
}

func printInwardEntries(out io.Writer, entries []domain.InwardEntry) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINWARD NO\tDATE\tSUPPLIER\tBALES\tFREE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", e.ID, e.InwardNo, e.InwardDate.Format("2006-01-02"),
			e.PurchaseOrder.Supplier, e.BalesQty, e.AvailableBales)
	}
	_ = tw.Flush()
}

func (s *session) prompt(label string, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(s.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(s.out, "%s: ", label)
	}
	line, err := s.in.ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		if errors.Is(err, io.EOF) {
			return "", errInputClosed
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (s *session) promptText(label string, def string) (*string, error) {
	raw, err := s.prompt(label, def)
	if err != nil {
		return nil, err
	}
	if raw == "-" {
		raw = ""
	}
	return &raw, nil
}

func (s *session) promptInt(label string, def int) (int, error) {
	defText := ""
	if def != 0 {
		defText = strconv.Itoa(def)
	}
	for {
		raw, err := s.prompt(label, defText)
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(raw)
		if err == nil {
			return v, nil
		}
		fmt.Fprintln(s.out, "  enter a whole number")
	}
}

func (s *session) promptFloat(label string, def float64) (*float64, error) {
	for {
		raw, err := s.prompt(label, formatNumber(def))
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err == nil && weighment.Finite(v) {
			return &v, nil
		}
		fmt.Fprintln(s.out, "  enter a number")
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
