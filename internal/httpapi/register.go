package httpapi

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/weighment"
)

const registerSheet = "Weightments"

var registerHeaders = []string{"Bale No", "Gross Weight", "Tare Weight", "Bale Weight", "Bale Value"}

// weightmentRegister renders the bale-wise register of a lot: a short header
// block with the lot totals, then one line per bale and a totals line.
func weightmentRegister(lot domain.Lot) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(registerSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	summary := [][2]any{
		{"Lot No", lot.LotNo},
		{"Set No", lot.SetNo},
		{"Bales", lot.BalesQty},
		{"Gross Weight", lot.GrossWeight},
		{"Tare Weight", lot.TareWeight},
		{"Nett Weight", lot.NettWeight},
		{"Rate / Kg", lot.RatePerKg},
		{"Invoice Value", lot.InvoiceValue},
	}
	for i, line := range summary {
		row := i + 1
		if err := setRow(f, row, line[0], line[1]); err != nil {
			return nil, err
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetCellStyle(registerSheet, cell, cell, bold); err != nil {
			return nil, err
		}
	}

	headerRow := len(summary) + 2
	for i, header := range registerHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, headerRow)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(registerSheet, cell, header); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(registerSheet, cell, cell, headerStyle); err != nil {
			return nil, err
		}
	}

	rows := make([]weighment.Row, 0, len(lot.Weightments))
	var valueTotal float64
	for i, wm := range lot.Weightments {
		if err := setRow(f, headerRow+1+i, wm.BaleNo, wm.GrossWeight, wm.TareWeight, wm.BaleWeight, wm.BaleValue); err != nil {
			return nil, err
		}
		rows = append(rows, weighment.Row{GrossWeight: wm.GrossWeight, TareWeight: wm.TareWeight})
		valueTotal += wm.BaleValue
	}

	gross, tare := weighment.Totals(rows)
	totalRow := headerRow + 1 + len(lot.Weightments)
	if err := setRow(f, totalRow, "Total", gross, tare, weighment.Round2(gross-tare), weighment.Round2(valueTotal)); err != nil {
		return nil, err
	}
	first, _ := excelize.CoordinatesToCellName(1, totalRow)
	last, _ := excelize.CoordinatesToCellName(len(registerHeaders), totalRow)
	if err := f.SetCellStyle(registerSheet, first, last, bold); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(registerSheet, "A", "E", 15); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func setRow(f *excelize.File, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(registerSheet, cell, &values)
}

func registerFilename(lotNo string) string {
	name := strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(strings.TrimSpace(lotNo))
	return "weightments-" + name + ".xlsx"
}
