package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(filepath.Join(root, "active"), filepath.Join(root, "candidate"))
	require.NoError(t, err)
	return s
}

func TestStore_SaveAndLoadCandidate(t *testing.T) {
	s := newTestStore(t)
	tenant := validTenant()

	require.NoError(t, s.SaveCandidate(tenant))

	loaded, err := s.LoadCandidate(tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, loaded.ID)
	assert.Len(t, loaded.NetworkInstances, 2)
}

func TestStore_CommitWritesActiveAndIsAtomic(t *testing.T) {
	s := newTestStore(t)
	tenant := validTenant()
	require.NoError(t, s.SaveCandidate(tenant))

	diff, err := s.Commit(tenant.ID, ModeHub, CommitOptions{})
	require.NoError(t, err)
	assert.Empty(t, diff.Before)
	assert.NotEmpty(t, diff.After)

	snap, err := s.LoadActive()
	require.NoError(t, err)
	assert.Contains(t, snap.Tenants, tenant.ID)
}

func TestStore_CommitRejectsInvalidCandidateLeavingActiveUntouched(t *testing.T) {
	s := newTestStore(t)
	tenant := validTenant()
	require.NoError(t, s.SaveCandidate(tenant))
	_, err := s.Commit(tenant.ID, ModeHub, CommitOptions{})
	require.NoError(t, err)

	activePath := filepath.Join(s.activeDir, tenantFileName(tenant.ID))
	before, err := os.ReadFile(activePath)
	require.NoError(t, err)

	broken := validTenant()
	delete(broken.NetworkInstances, "core")
	require.NoError(t, s.SaveCandidate(broken))

	_, err = s.Commit(tenant.ID, ModeHub, CommitOptions{})
	assert.Error(t, err)

	after, err := os.ReadFile(activePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_CommitDryRunDoesNotWriteActive(t *testing.T) {
	s := newTestStore(t)
	tenant := validTenant()
	require.NoError(t, s.SaveCandidate(tenant))

	diff, err := s.Commit(tenant.ID, ModeHub, CommitOptions{DryRun: true})
	require.NoError(t, err)
	assert.NotEmpty(t, diff.After)

	_, err = os.Stat(filepath.Join(s.activeDir, tenantFileName(tenant.ID)))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_Revert(t *testing.T) {
	s := newTestStore(t)
	tenant := validTenant()
	require.NoError(t, s.SaveCandidate(tenant))
	_, err := s.Commit(tenant.ID, ModeHub, CommitOptions{})
	require.NoError(t, err)

	edited := validTenant()
	edited.Name = "edited"
	require.NoError(t, s.SaveCandidate(edited))

	require.NoError(t, s.Revert(tenant.ID))

	reverted, err := s.LoadCandidate(tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, reverted.Name)
}

func TestStore_AllTenantIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"C0001", "D0002"} {
		tenant := validTenant()
		tenant.ID = id
		require.NoError(t, s.SaveCandidate(tenant))
		_, err := s.Commit(id, ModeHub, CommitOptions{})
		require.NoError(t, err)
	}

	ids, err := s.AllTenantIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"C0001", "D0002"}, ids)
}
