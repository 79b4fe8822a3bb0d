package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	Delimiter  rune // ',' when zero
	Comment    rune
	LazyQuotes bool
	TrimSpace  bool
	// DetectDelimiter picks comma, semicolon, tab or pipe from the first line.
	DetectDelimiter bool
	// Windows1252 decodes the input as Windows-1252 instead of UTF-8. Older
	// Excel "CSV" exports use it.
	Windows1252 bool
}

var delimiterCandidates = []byte{',', ';', '\t', '|'}

// ReadCSV reads every row of r. Rows may differ in length and a leading
// UTF-8 byte order mark is dropped.
func ReadCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	var dec transform.Transformer = unicode.UTF8BOM.NewDecoder()
	if opts.Windows1252 {
		dec = charmap.Windows1252.NewDecoder()
	}
	br := bufio.NewReader(transform.NewReader(r, dec))

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.Comment = opts.Comment
	cr.LazyQuotes = opts.LazyQuotes
	switch {
	case opts.DetectDelimiter:
		cr.Comma = detectDelimiter(br)
	case opts.Delimiter != 0:
		cr.Comma = opts.Delimiter
	}

	rows := [][]string{}
	for {
		if err := ctx.Err(); err != nil {
			return rows, eris.Wrap(err, "csv: read cancelled")
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, eris.Wrap(err, "csv: read row")
		}
		if opts.TrimSpace {
			for i := range rec {
				rec[i] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, rec)
	}
}

// detectDelimiter counts candidate separators on the first line without
// consuming it. Ties and lines with none fall back to comma.
func detectDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(4096)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := byte(','), 0
	for _, d := range delimiterCandidates {
		if n := bytes.Count(head, []byte{d}); n > bestN {
			best, bestN = d, n
		}
	}
	return rune(best)
}
