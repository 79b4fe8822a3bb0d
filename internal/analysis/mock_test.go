package analysis

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/underwriter/internal/cms"
	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, docs []Document) (*Extraction, error) {
	args := m.Called(ctx, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Extraction), args.Error(1)
}

type mockNormalizer struct {
	mock.Mock
}

func (m *mockNormalizer) Normalize(ctx context.Context, s financials.Statement, f model.FacilityProfile) (*financials.Normalized, error) {
	args := m.Called(ctx, s, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*financials.Normalized), args.Error(1)
}

type mockCMS struct {
	mock.Mock
}

func (m *mockCMS) Lookup(ctx context.Context, ccn string) (*cms.Result, error) {
	args := m.Called(ctx, ccn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cms.Result), args.Error(1)
}
