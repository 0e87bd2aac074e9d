//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

var (
	testDB    *TestDB
	testRedis *TestRedis
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	var err error
	testDB, err = SetupTestDatabase(ctx)
	if err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "setup postgres: %v\n", err)
		os.Exit(1)
	}
	testRedis, err = SetupTestRedis(ctx)
	if err != nil {
		_ = testDB.Teardown(ctx)
		cancel()
		fmt.Fprintf(os.Stderr, "setup redis: %v\n", err)
		os.Exit(1)
	}
	cancel()

	code := m.Run()

	teardownCtx, teardownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	_ = testRedis.Teardown(teardownCtx)
	_ = testDB.Teardown(teardownCtx)
	teardownCancel()

	os.Exit(code)
}
