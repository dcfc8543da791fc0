package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/opsdesk/pamphletd/internal/synth"
)

const faqSheet = "FAQ"

// FAQWorkbook renders FAQ blocks as an xlsx workbook with one row per
// block and readable column widths.
func FAQWorkbook(rows []synth.FAQBlock) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", faqSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetColWidth(faqSheet, "A", "A", 60); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(faqSheet, "B", "B", 90); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(faqSheet, "C", "C", 40); err != nil {
		return nil, err
	}

	headers := []string{"Question", "Answer", "Source"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(faqSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, row := range rows {
		values := []string{row.Question, row.Answer, row.Source}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(faqSheet, cell, v); err != nil {
				return nil, err
			}
		}
	}

	return f.WriteToBuffer()
}
