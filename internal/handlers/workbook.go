package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/operation"
)

type workbookCtx = operation.Context[*document.Workbook]

// Workbook builds the spreadsheet registry. Cells are held as CSV.
func Workbook() *operation.Registry[*document.Workbook] {
	return build(document.KindWorkbook,
		operation.NewHandler("get_rows", func(_ context.Context, oc *workbookCtx, _ operation.Parameters) (any, error) {
			return readRows(oc.Document)
		}),
		operation.NewHandler("get_cell", func(_ context.Context, oc *workbookCtx, p operation.Parameters) (any, error) {
			rows, err := readRows(oc.Document)
			if err != nil {
				return nil, err
			}
			row, col, err := cellRef(p)
			if err != nil {
				return nil, err
			}
			if row >= len(rows) || col >= len(rows[row]) {
				return map[string]any{"row": row, "column": col, "value": ""}, nil
			}
			return map[string]any{"row": row, "column": col, "value": rows[row][col]}, nil
		}),
		operation.NewHandler("set_cell", func(_ context.Context, oc *workbookCtx, p operation.Parameters) (any, error) {
			rows, err := readRows(oc.Document)
			if err != nil {
				return nil, err
			}
			row, col, err := cellRef(p)
			if err != nil {
				return nil, err
			}
			value, err := operation.Required[string](p, "value")
			if err != nil {
				return nil, err
			}
			// Blank CSV lines do not survive a round trip, so padding rows
			// get real cells.
			for len(rows) <= row {
				rows = append(rows, make([]string, col+1))
			}
			for len(rows[row]) <= col {
				rows[row] = append(rows[row], "")
			}
			rows[row][col] = value
			if err := writeRows(oc.Document, rows); err != nil {
				return nil, err
			}
			oc.MarkModified()
			return map[string]any{"row": row, "column": col, "value": value}, nil
		}),
		operation.NewHandler("append_row", func(_ context.Context, oc *workbookCtx, p operation.Parameters) (any, error) {
			values, err := operation.Required[[]string](p, "values")
			if err != nil {
				return nil, err
			}
			rows, err := readRows(oc.Document)
			if err != nil {
				return nil, err
			}
			rows = append(rows, values)
			if err := writeRows(oc.Document, rows); err != nil {
				return nil, err
			}
			oc.MarkModified()
			return map[string]int{"rows": len(rows)}, nil
		}),
	)
}

func cellRef(p operation.Parameters) (int, int, error) {
	row, err := operation.Required[int](p, "row")
	if err != nil {
		return 0, 0, err
	}
	col, err := operation.Required[int](p, "column")
	if err != nil {
		return 0, 0, err
	}
	if row < 0 || col < 0 {
		return 0, 0, fmt.Errorf("%w: negative cell reference (%d, %d)", operation.ErrInvalidArgument, row, col)
	}
	return row, col, nil
}

func readRows(doc *document.Workbook) ([][]string, error) {
	content := doc.Content()
	if len(content) == 0 {
		return [][]string{}, nil
	}
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("workbook: parse cells: %w", err)
	}
	return rows, nil
}

func writeRows(doc *document.Workbook, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("workbook: write cells: %w", err)
	}
	doc.SetContent(buf.Bytes())
	return nil
}
