package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  CSVOptions
		want  [][]string
	}{
		{
			name:  "basic",
			input: "a,b,c\n1,2,3\n",
			want:  [][]string{{"a", "b", "c"}, {"1", "2", "3"}},
		},
		{
			name:  "explicit delimiter",
			input: "a|b\n1|2\n",
			opts:  CSVOptions{Delimiter: '|'},
			want:  [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:  "detected semicolon",
			input: "Name;Price;Beds\nOak;\"1,000\";10\n",
			opts:  CSVOptions{DetectDelimiter: true},
			want:  [][]string{{"Name", "Price", "Beds"}, {"Oak", "1,000", "10"}},
		},
		{
			name:  "detected tab",
			input: "a\tb\n1\t2\n",
			opts:  CSVOptions{DetectDelimiter: true},
			want:  [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:  "trim and ragged rows",
			input: " a , b \n1\n",
			opts:  CSVOptions{TrimSpace: true},
			want:  [][]string{{"a", "b"}, {"1"}},
		},
		{
			name:  "comment",
			input: "# exported 2026-03-01\na,b\n",
			opts:  CSVOptions{Comment: '#'},
			want:  [][]string{{"a", "b"}},
		},
		{
			name:  "lazy quotes",
			input: "a,b \"c\"\n",
			opts:  CSVOptions{LazyQuotes: true},
			want:  [][]string{{"a", "b \"c\""}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadCSV(context.Background(), strings.NewReader(tt.input), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestReadCSV_Empty(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader(""), CSVOptions{DetectDelimiter: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadCSV_MalformedQuote(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	assert.ErrorContains(t, err, "csv: read row")
}

func TestReadCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := ReadCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rows)
}

func TestReadCSV_Encodings(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("\ufeffName;Beds\nOak;10\n"), CSVOptions{DetectDelimiter: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Name", "Beds"}, {"Oak", "10"}}, rows)

	// "Caf\xe9" is Windows-1252 for Café.
	rows, err = ReadCSV(context.Background(), strings.NewReader("Name\nCaf\xe9 Manor\n"), CSVOptions{Windows1252: true})
	require.NoError(t, err)
	assert.Equal(t, "Café Manor", rows[1][0])
}
