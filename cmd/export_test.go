package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestExportCommand_WritesWorkbook(t *testing.T) {
	t.Setenv("UNDERWRITE_STORE_DRIVER", "memory")
	t.Setenv("UNDERWRITE_LOG_LEVEL", "error")

	deal := writeTemp(t, "deal.yaml", dealYAML)
	out := filepath.Join(t.TempDir(), "pine-ridge.xlsx")

	rootCmd.SetArgs([]string{"export", deal, "-o", out, "--tornado", "cap_rate.base_rate.snf"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	f, err := xlsx.OpenFile(out)
	require.NoError(t, err)
	var sheets []string
	for _, s := range f.Sheets {
		sheets = append(sheets, s.Name)
	}
	assert.Contains(t, sheets, "Summary")
	assert.Contains(t, sheets, "Risk")
	assert.Contains(t, sheets, "Tornado")
	assert.NotContains(t, sheets, "Monte Carlo")
}
