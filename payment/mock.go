package payment

import (
	"context"

	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the BalanceLedger interface
type MockLedger struct {
	mock.Mock
}

// TransferFrom mocks the TransferFrom method
func (m *MockLedger) TransferFrom(ctx context.Context, req interfaces.TransferFromRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Transfer mocks the Transfer method
func (m *MockLedger) Transfer(ctx context.Context, req interfaces.TransferRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
