package passport_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-passport"
	"github.com/goliatone/go-passport/storage"
)

const testSecret = "test-signing-secret"

func testOptions() passport.Options {
	opts := passport.DefaultOptions()
	opts.Token.Secret = testSecret
	opts.Token.Issuer = "passport-test"
	opts.Token.Audience = []string{"passport-test-clients"}
	opts.BcryptCost = 4
	return opts
}

// newTestService returns a service backed by a migrated in-memory database.
func newTestService(t *testing.T, opts passport.Options, svcOpts ...passport.ServiceOption) (*passport.Service, passport.RepositoryManager) {
	t.Helper()

	db, err := storage.OpenAndMigrate(context.Background(), storage.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	repo := passport.NewRepositoryManager(db)
	svcOpts = append([]passport.ServiceOption{passport.WithLogger(quietLogger{})}, svcOpts...)

	svc, err := passport.NewService(repo, opts, svcOpts...)
	require.NoError(t, err)
	return svc, repo
}

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

// MockLogger implements passport.Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Info(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Warn(format string, args ...any) {
	m.Called(format, args)
}

func (m *MockLogger) Error(format string, args ...any) {
	m.Called(format, args)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []passport.Event
	err    error
}

func (c *capturingPublisher) Publish(_ context.Context, evt passport.Event, _ passport.PublishOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return c.err
}

func (c *capturingPublisher) types() []passport.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]passport.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

var errHookFailed = errors.New("hook failed")

func registerJim(t *testing.T, svc *passport.Service) *passport.User {
	t.Helper()
	user, err := svc.Register(context.Background(), passport.RegisterInput{
		Username: "jim",
		Password: "adminadmin",
	})
	require.NoError(t, err)
	return user
}
