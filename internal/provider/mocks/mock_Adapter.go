// Package mocks provides test doubles for provider adapters.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	model "github.com/sells-group/participant-enrichment/internal/model"
)

// MockAdapter is a mock type for the Adapter interface.
type MockAdapter struct {
	mock.Mock
	Source model.Source
}

// NewMockAdapter creates a MockAdapter for src and registers cleanup.
func NewMockAdapter(t interface {
	mock.TestingT
	Cleanup(func())
}, src model.Source) *MockAdapter {
	m := &MockAdapter{Source: src}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Name returns the configured source.
func (_m *MockAdapter) Name() model.Source {
	return _m.Source
}

// Lookup provides a mock function with given fields: ctx, email, displayName
func (_m *MockAdapter) Lookup(ctx context.Context, email string, displayName string) (*model.EnrichedRecord, error) {
	ret := _m.Called(ctx, email, displayName)

	if len(ret) == 0 {
		panic("no return value specified for Lookup")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*model.EnrichedRecord, error)); ok {
		return rf(ctx, email, displayName)
	}

	var r0 *model.EnrichedRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.EnrichedRecord)
	}
	return r0, ret.Error(1)
}
