package export

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/robotline/claim-engine/internal/domain"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Resultados"

// Workbook renders a batch and its work items as a spreadsheet, one row
// per item in creation order. Columns are the fixed identity columns, the
// kind's result schema, then any extra result fields the bots reported,
// sorted by name so repeated exports of the same batch line up.
func Workbook(batch *domain.Batch, items []domain.WorkItem) (*bytes.Buffer, error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no items to export", domain.ErrNotFound, batch.ID)
	}

	resultColumns := resultColumnsFor(batch.Kind, items)
	headers := append([]string{"#", "identificador", "estado"}, resultColumns...)

	f := excelize.NewFile()
	defer f.Close()

	sheet, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create export sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, err
		}
	}

	for i := range items {
		item := &items[i]
		row := []any{item.Seq, item.BusinessKey, statusColumn(item)}
		for _, name := range resultColumns {
			row = append(row, item.Result[name])
		}

		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf, nil
}

// Filename is the attachment name for a batch export.
func Filename(batch *domain.Batch) string {
	return "lote_" + batch.Kind.String() + "_" + batch.ID + ".xlsx"
}

func resultColumnsFor(kind domain.Kind, items []domain.WorkItem) []string {
	columns := append([]string(nil), domain.RequiredResultFields(kind)...)
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		seen[name] = true
	}

	var extras []string
	for i := range items {
		for name := range items[i].Result {
			if !seen[name] {
				seen[name] = true
				extras = append(extras, name)
			}
		}
	}
	sort.Strings(extras)

	return append(columns, extras...)
}

func statusColumn(item *domain.WorkItem) string {
	state := item.State.String()
	if item.Supplementary {
		return state + " (adicional)"
	}
	return state
}
