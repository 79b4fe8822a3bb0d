package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type testSheet struct {
	name string
	rows [][]string
}

func createTestXLSX(t *testing.T, sheets ...testSheet) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"Summary", [][]string{{"Broker package"}}},
		testSheet{"Comps", [][]string{{"Title"}, {"Name", "Beds"}, {"Oak", " 120 "}}},
	)

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Broker package"}}, rows)

	rows, err = ReadXLSX(path, XLSXOptions{SheetName: "comps", SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name", "Beds"}, {"Oak", "120"}}, rows)

	rows, err = ReadXLSX(path, XLSXOptions{SheetIndex: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReadXLSX_Errors(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	assert.ErrorContains(t, err, `sheet "Missing" not found`)

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	assert.ErrorContains(t, err, "out of range")

	_, err = ReadXLSX(filepath.Join(t.TempDir(), "missing.xlsx"), XLSXOptions{})
	assert.ErrorContains(t, err, "xlsx: open file")
}

func TestReadXLSXBytes(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{{"Name", "Price"}, {"Oak", "$8,000,000"}}})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	rows, err := ReadXLSXBytes(data, XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name", "Price"}, {"Oak", "$8,000,000"}}, rows)

	_, err = ReadXLSXBytes([]byte("nope"), XLSXOptions{})
	assert.Error(t, err)
}
