package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CreateMockHandle returns a disconnected pen with the given identity.
func CreateMockHandle(id, name string) *MockHandle {
	return NewMockHandle(id, name)
}

// CreateMockRegistry returns a registry that supports enumeration and has
// nothing authorized yet.
func CreateMockRegistry() *MockRegistry {
	return NewMockRegistry()
}
