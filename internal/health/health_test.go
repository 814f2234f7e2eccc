// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
)

type stubDeleter struct {
	delay time.Duration
	err   error
}

func (s stubDeleter) DeleteSA(ctx context.Context, said string) error {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.err
}

func TestCheckConfigStore_HealthyWhenReadable(t *testing.T) {
	dir := t.TempDir()
	store, err := config.NewStore(dir, t.TempDir())
	require.NoError(t, err)

	check := CheckConfigStore(store)(context.Background())
	require.Equal(t, StatusHealthy, check.Status)
}

func TestCheckDataplane_HealthyAgainstFakeProvider(t *testing.T) {
	provider := dataplane.NewFakeProvider()
	check := CheckDataplane(provider)(context.Background())
	require.Equal(t, StatusHealthy, check.Status)
}

func TestCheckControlChannel_DownOnTimeout(t *testing.T) {
	deleter := stubDeleter{delay: 50 * time.Millisecond}
	check := CheckControlChannel(deleter, 5*time.Millisecond)(context.Background())
	require.Equal(t, StatusDown, check.Status)
}

func TestCheckControlChannel_HealthyWhenDaemonResponds(t *testing.T) {
	deleter := stubDeleter{err: errors.New("no such sa")}
	check := CheckControlChannel(deleter, time.Second)(context.Background())
	require.Equal(t, StatusHealthy, check.Status)
}

func TestChecker_RunRollsUpWorstStatus(t *testing.T) {
	checker := NewChecker(map[string]Probe{
		"a": func(ctx context.Context) Check { return Check{Status: StatusHealthy} },
		"b": func(ctx context.Context) Check { return Check{Status: StatusDegraded} },
	})
	report := checker.Run(context.Background())
	require.Equal(t, StatusDegraded, report.Overall)
	require.Len(t, report.Checks, 2)
}
