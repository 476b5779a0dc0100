package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"minesafe-alerting/internal/alerting/infrastructure/actionlog"
)

// BuildActionsPDF renders the action log as a table.
func BuildActionsPDF(entries []actionlog.Entry, generated time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Action Log")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generated.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(55, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Action", "1", 0, "C", false, 0, "")
	pdf.CellFormat(170, 6, "Summary", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, entry := range entries {
		pdf.CellFormat(55, 6, entry.Time, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, entry.Action, "1", 0, "L", false, 0, "")
		pdf.CellFormat(170, 6, tr(truncate(entry.Summary, 110)), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildActionsXLSX renders the action log as a single sheet.
func BuildActionsXLSX(entries []actionlog.Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "actions"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(sheet, "A1", "Time")
	_ = f.SetCellValue(sheet, "B1", "Action")
	_ = f.SetCellValue(sheet, "C1", "Summary")
	_ = f.SetCellValue(sheet, "D1", "Actor")
	_ = f.SetCellValue(sheet, "E1", "Details")
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.Time)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.Action)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), entry.Summary)
		if actor := string(entry.Actor); actor != "" && actor != "null" {
			_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), actor)
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), string(entry.Details))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-3]) + "..."
}
