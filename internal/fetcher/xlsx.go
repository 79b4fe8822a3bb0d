package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions picks a worksheet. SheetName, matched case-insensitively,
// wins over SheetIndex.
type XLSXOptions struct {
	SheetIndex int
	SheetName  string
	SkipRows   int
}

// ReadXLSX reads one worksheet of the workbook at path as display strings.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return worksheetRows(wb, opts)
}

// ReadXLSXBytes reads an in-memory workbook.
func ReadXLSXBytes(data []byte, opts XLSXOptions) ([][]string, error) {
	wb, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}
	return worksheetRows(wb, opts)
}

func worksheetRows(wb *xlsx.File, opts XLSXOptions) ([][]string, error) {
	ws, err := pickSheet(wb, opts)
	if err != nil {
		return nil, err
	}

	out := make([][]string, 0, len(ws.Rows))
	for i := max(opts.SkipRows, 0); i < len(ws.Rows); i++ {
		r := ws.Rows[i]
		if r == nil {
			continue
		}
		// Cell.String applies the number format, so dates and currency
		// read the way they display in Excel.
		vals := make([]string, len(r.Cells))
		for j, c := range r.Cells {
			vals[j] = strings.TrimSpace(c.String())
		}
		out = append(out, vals)
	}
	return out, nil
}

func pickSheet(wb *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName == "" {
		if opts.SheetIndex < 0 || opts.SheetIndex >= len(wb.Sheets) {
			return nil, eris.Errorf("xlsx: sheet index %d out of range, workbook has %d", opts.SheetIndex, len(wb.Sheets))
		}
		return wb.Sheets[opts.SheetIndex], nil
	}
	for _, ws := range wb.Sheets {
		if strings.EqualFold(ws.Name, opts.SheetName) {
			return ws, nil
		}
	}
	return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
}
