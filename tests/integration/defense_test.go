//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/storeguard/internal/auth"
	"github.com/BradenHooton/storeguard/internal/background"
	"github.com/BradenHooton/storeguard/internal/models"
	"github.com/BradenHooton/storeguard/internal/services"
	pkgauth "github.com/BradenHooton/storeguard/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// newMonitor wires the monitor to Postgres the way main does
func newMonitor(t *testing.T, repos Repositories) (*services.SecurityMonitorService, *services.BlocklistService) {
	t.Helper()
	logger := DiscardLogger()

	blocks := services.NewBlocklistService(repos.Blocks, logger)
	writer := background.NewEventWriter(repos.Events, logger, 5*time.Second)
	monitor := services.NewSecurityMonitorService(repos.Events, blocks, writer, services.NewLogNotifier(logger), services.DefaultMonitorConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	t.Cleanup(func() {
		monitor.Stop()
		cancel()
	})
	return monitor, blocks
}

func TestMonitor_PersistsAndAutoBlocks(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))
	repos := testDB.Repositories()
	monitor, blocks := newMonitor(t, repos)

	for i := 0; i < 10; i++ {
		require.NoError(t, monitor.Record(ctx, &models.SecurityEvent{
			Type:     models.EventTypeInjectionAttempt,
			Severity: models.SeverityHigh,
			SourceIP: "192.0.2.99",
			Endpoint: "/products",
		}))
	}

	assert.True(t, monitor.IsBlocked(ctx, "192.0.2.99"))

	// Block is durable: a fresh block list warmed from Postgres sees it
	fresh := services.NewBlocklistService(repos.Blocks, DiscardLogger())
	require.NoError(t, fresh.Warm(ctx))
	assert.True(t, fresh.IsBlocked(ctx, "192.0.2.99"))

	active, err := blocks.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.BlockSourceAutomatic, active[0].Source)
	assert.False(t, active[0].Permanent)
	require.NotNil(t, active[0].BlockedUntil)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *active[0].BlockedUntil, time.Minute)

	// Events reach Postgres through the background writer
	require.Eventually(t, func() bool {
		n, err := repos.Events.CountSince(ctx, time.Now().Add(-time.Hour))
		return err == nil && n >= 10
	}, 5*time.Second, 50*time.Millisecond)

	stats := monitor.Stats(ctx)
	assert.GreaterOrEqual(t, stats.Last24Hours, 10)
	assert.Equal(t, 1, stats.ActiveBlocks)
}

func TestMonitor_ResolveThroughPostgres(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))
	repos := testDB.Repositories()
	monitor, _ := newMonitor(t, repos)

	event := &models.SecurityEvent{
		Type:     models.EventTypePaymentFraud,
		Severity: models.SeverityCritical,
		SourceIP: "192.0.2.7",
		Endpoint: "/payments/verify",
	}
	require.NoError(t, monitor.Record(ctx, event))

	require.Eventually(t, func() bool {
		events, err := monitor.List(ctx, models.SecurityEventFilter{SourceIP: "192.0.2.7"})
		return err == nil && len(events) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, monitor.Resolve(ctx, event.ID, "ops@example.com"))
	assert.ErrorIs(t, monitor.Resolve(ctx, event.ID, "ops@example.com"), models.ErrAlreadyResolved)
}

func TestLogin_AccountLockSurvivesCounterFlush(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))
	repos := testDB.Repositories()

	email, password := TestUser("lock")
	_, err := SeedUser(ctx, repos.Users, email, password, "customer")
	require.NoError(t, err)

	counters := testRedis.Store("it:lock:" + email + ":")
	tracker := services.NewLoginTrackerService(counters, services.DefaultLoginTrackerConfig(), DiscardLogger())
	hasher, err := pkgauth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tm := auth.NewTokenManager("integration-secret-32-characters!", 15*time.Minute)
	svc := services.NewAuthService(repos.Users, tracker, hasher, tm, nil, DiscardLogger())

	req := services.LoginRequest{Email: email, Password: "wrong-password", IPAddress: "192.0.2.8"}
	var lockout *services.LockoutError
	for i := 0; i < 5; i++ {
		_, err = svc.Login(ctx, req)
	}
	require.True(t, errors.As(err, &lockout), "fifth failure should lock, got %v", err)

	// Flush the counter store; the account-level lock in Postgres still holds
	_, err = counters.DeletePattern(ctx, "*")
	require.NoError(t, err)

	req.Password = password
	_, err = svc.Login(ctx, req)
	assert.True(t, errors.As(err, &lockout), "account lock should survive counter flush, got %v", err)
}
