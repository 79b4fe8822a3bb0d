package report

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/underwriter/internal/recalc"
)

func sheetNames(f *xlsx.File) []string {
	names := make([]string, 0, len(f.Sheets))
	for _, s := range f.Sheets {
		names = append(names, s.Name)
	}
	return names
}

func firstColumn(s *xlsx.Sheet) []string {
	var out []string
	for _, r := range s.Rows {
		if len(r.Cells) > 0 {
			out = append(out, r.Cells[0].String())
		}
	}
	return out
}

func TestWorkbook_AllSections(t *testing.T) {
	var buf bytes.Buffer
	err := WriteWorkbook(&buf, Export{
		Title:      "Oak Manor",
		Valuation:  sampleValuation(),
		Risk:       sampleRisk(),
		Parameters: sampleParams(),
		Tornado:    &recalc.TornadoResult{Bars: []recalc.TornadoBar{{Param: "valuation.cap_rate.snf", Swing: 1}}},
		MonteCarlo: &recalc.MonteCarloResult{Iterations: 10, Histogram: []recalc.Bucket{{Min: 1, Max: 2, Count: 10}}},
	})
	require.NoError(t, err)

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{
		SheetSummary, SheetMethods, SheetReconciliation, SheetRisk,
		SheetDealBreakers, SheetParameters, SheetTornado, SheetMonteCarlo,
	}, sheetNames(f))

	sum := f.Sheet[SheetSummary]
	require.NotNil(t, sum)
	assert.Equal(t, "Oak Manor", sum.Rows[0].Cells[0].String())
	assert.Contains(t, firstColumn(sum), "Reconciled value")
	assert.Contains(t, firstColumn(sum), "Recommendation")

	methods := f.Sheet[SheetMethods]
	assert.Equal(t, "Method", methods.Rows[0].Cells[0].String())
	assert.Equal(t, "cap_rate", methods.Rows[1].Cells[0].String())
	assert.Equal(t, "cap_rate=0.111; noi=1000000", methods.Rows[1].Cells[5].String())

	params := f.Sheet[SheetParameters]
	assert.Equal(t, "valuation.cap_rate.snf", params.Rows[1].Cells[0].String())
	assert.Equal(t, "ana", params.Rows[1].Cells[4].String())

	breakers := f.Sheet[SheetDealBreakers]
	require.Len(t, breakers.Rows, 3)
	assert.Equal(t, "n/a", breakers.Rows[2].Cells[4].String())
}

func TestWorkbook_OmitsMissingSections(t *testing.T) {
	f, err := Workbook(Export{Risk: sampleRisk()})
	require.NoError(t, err)
	assert.Equal(t, []string{SheetSummary, SheetRisk, SheetDealBreakers}, sheetNames(f))
	assert.Equal(t, "Underwriting Summary", f.Sheet[SheetSummary].Rows[0].Cells[0].String())
}

func TestSaveWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deal.xlsx")
	require.NoError(t, SaveWorkbook(path, Export{Valuation: sampleValuation()}))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Contains(t, sheetNames(f), SheetReconciliation)
}
