package platform

import (
	"context"
	"math/big"

	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockPlatform mocks the interfaces.Platform interface
type MockPlatform struct {
	mock.Mock
}

// CreateInstance mocks the CreateInstance method
func (m *MockPlatform) CreateInstance(ctx context.Context, settings interfaces.InstanceSettings, funding *big.Int) (interfaces.InstanceHandle, error) {
	args := m.Called(ctx, settings, funding)
	return args.Get(0).(interfaces.InstanceHandle), args.Error(1)
}

// InstallCode mocks the InstallCode method
func (m *MockPlatform) InstallCode(ctx context.Context, installArgs interfaces.InstallArgs) error {
	args := m.Called(ctx, installArgs)
	return args.Error(0)
}
