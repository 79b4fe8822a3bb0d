package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
)

// ReadJSONArray decodes a top-level JSON array one element at a time so a
// malformed record is reported with its position. Empty input yields an
// empty slice.
func ReadJSONArray[T any](ctx context.Context, r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)
	out := []T{}

	tok, err := dec.Token()
	switch {
	case errors.Is(err, io.EOF):
		return out, nil
	case err != nil:
		return nil, eris.Wrap(err, "json: read opening token")
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "json: read cancelled")
		}
		var item T
		if err := dec.Decode(&item); err != nil {
			return out, eris.Wrapf(err, "json: decode element %d", i)
		}
		out = append(out, item)
	}
	if _, err := dec.Token(); err != nil {
		return out, eris.Wrap(err, "json: read closing token")
	}
	return out, nil
}

// DecodeJSONObject decodes a single JSON object.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
