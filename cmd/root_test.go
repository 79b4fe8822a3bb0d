package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{
		"valuate", "assess", "analyze", "recalc", "sensitivity", "tornado",
		"scenarios", "montecarlo", "tune", "override", "preset", "comps",
		"export", "serve", "migrate",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "underwriter", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestOverrideCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range overrideCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"set", "rm", "ls"} {
		assert.True(t, names[name], "override should have subcommand %q", name)
	}
}

func TestOverrideSetCommand_Flags(t *testing.T) {
	by := overrideSetCmd.Flags().Lookup("by")
	require.NotNil(t, by)
	assert.Equal(t, "cli", by.DefValue)
	assert.NotNil(t, overrideSetCmd.Flags().Lookup("reason"))
	assert.NotNil(t, overrideLsCmd.Flags().Lookup("history"))
}

func TestWhatIfCommands_Flags(t *testing.T) {
	for _, c := range []string{"param", "min", "max", "steps", "values", "set", "json"} {
		assert.NotNil(t, sensitivityCmd.Flags().Lookup(c), "sensitivity should have --%s flag", c)
	}
	assert.NotNil(t, tornadoCmd.Flags().Lookup("param"))

	file := scenariosCmd.Flags().Lookup("file")
	require.NotNil(t, file)
	assert.Equal(t, "f", file.Shorthand)

	for _, c := range []string{"file", "iterations", "seed"} {
		assert.NotNil(t, monteCarloCmd.Flags().Lookup(c), "montecarlo should have --%s flag", c)
	}

	rangeFlag := tuneCmd.Flags().Lookup("range")
	require.NotNil(t, rangeFlag)
	assert.Equal(t, "0.2", rangeFlag.DefValue)
}

func TestCompsCommand_Flags(t *testing.T) {
	for _, c := range []string{"asset-type", "source", "sheet", "dry-run"} {
		assert.NotNil(t, compsImportCmd.Flags().Lookup(c), "comps import should have --%s flag", c)
	}
	limit := compsLsCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	out := exportCmd.Flags().Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "o", out.Shorthand)
	assert.NotNil(t, exportCmd.Flags().Lookup("tornado"))
	assert.NotNil(t, exportCmd.Flags().Lookup("montecarlo"))
}
