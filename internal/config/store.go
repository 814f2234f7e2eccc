package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// Snapshot is the fully loaded active configuration: every tenant file
// under active/, keyed by tenant id.
type Snapshot struct {
	Tenants map[string]*Tenant
}

// Store is the candidate/active tenant config pair described in the
// external interfaces: edits land in candidate/, commit validates and
// atomically replaces the matching file in active/.
type Store struct {
	mu           sync.RWMutex
	activeDir    string
	candidateDir string
}

// NewStore opens a store rooted at the given active/candidate
// directories. Both are created if missing.
func NewStore(activeDir, candidateDir string) (*Store, error) {
	for _, dir := range []string{activeDir, candidateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, verr.Wrapf(err, verr.KindInternal, "create config dir %s", dir)
		}
	}
	return &Store{activeDir: activeDir, candidateDir: candidateDir}, nil
}

func tenantFileName(id string) string { return id + ".yaml" }

// LoadActive reads every tenant file in active/ into a Snapshot.
func (s *Store) LoadActive() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadDir(s.activeDir)
}

func (s *Store) loadDir(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, verr.Wrapf(err, verr.KindInternal, "read config dir %s", dir)
	}
	snap := &Snapshot{Tenants: map[string]*Tenant{}}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		t, err := loadTenantFile(filepath.Join(dir, e.Name()), id)
		if err != nil {
			return nil, err
		}
		snap.Tenants[id] = t
	}
	return snap, nil
}

func loadTenantFile(path, id string) (*Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, verr.Wrapf(err, verr.InvalidConfig, "read %s", path)
	}
	var t Tenant
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, verr.Wrapf(err, verr.InvalidConfig, "parse %s", path)
	}
	t.ID = id
	for niID, ni := range t.NetworkInstances {
		if ni != nil {
			ni.ID = niID
		}
	}
	return &t, nil
}

func marshalTenant(t *Tenant) ([]byte, error) {
	out, err := yaml.Marshal(t)
	if err != nil {
		return nil, verr.Wrapf(err, verr.KindInternal, "marshal tenant %s", t.ID)
	}
	return out, nil
}

// LoadCandidate reads a single tenant's candidate file. Returns
// verr.InvalidConfig-wrapped os.ErrNotExist if no candidate is staged.
func (s *Store) LoadCandidate(tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path := filepath.Join(s.candidateDir, tenantFileName(tenantID))
	return loadTenantFile(path, tenantID)
}

// SaveCandidate atomically writes a tenant document to candidate/,
// writing to a temp file in the same directory and renaming over the
// target so readers never observe a partial write.
func (s *Store) SaveCandidate(t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWriteTenant(s.candidateDir, t)
}

// DeleteCandidate discards a staged edit without touching active/.
func (s *Store) DeleteCandidate(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.candidateDir, tenantFileName(tenantID))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return verr.Wrapf(err, verr.KindInternal, "remove candidate %s", tenantID)
	}
	return nil
}

func atomicWriteTenant(dir string, t *Tenant) error {
	data, err := marshalTenant(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return verr.Wrapf(err, verr.KindInternal, "create dir %s", dir)
	}
	target := filepath.Join(dir, tenantFileName(t.ID))
	tmp, err := os.CreateTemp(dir, ".tmp-"+t.ID+"-*.yaml")
	if err != nil {
		return verr.Wrapf(err, verr.KindInternal, "create temp file in %s", dir)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return verr.Wrapf(err, verr.KindInternal, "write temp file %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return verr.Wrapf(err, verr.KindInternal, "close temp file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return verr.Wrapf(err, verr.KindInternal, "rename into place %s", target)
	}
	return nil
}

// Diff describes the textual change a commit would make (or made, for
// a dry-run vs a real commit).
type Diff struct {
	TenantID string
	Before   string
	After    string
	Lines    []string // unified-ish +/- line diff for display
}

// CommitOptions controls Commit's behavior.
type CommitOptions struct {
	// DryRun validates and computes the diff without writing active/.
	DryRun bool
}

// Commit validates a tenant's staged candidate and, unless DryRun is
// set, atomically replaces the matching file in active/. On validation
// failure active/ is left byte-for-byte untouched.
func (s *Store) Commit(tenantID string, serviceMode Mode, opts CommitOptions) (*Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidatePath := filepath.Join(s.candidateDir, tenantFileName(tenantID))
	candidate, err := loadTenantFile(candidatePath, tenantID)
	if err != nil {
		return nil, err
	}

	var errs ValidationErrors
	errs = append(errs, ValidateTenant(candidate)...)
	errs = append(errs, ValidateTenantNIRoles(candidate, serviceMode)...)
	if errs.HasErrors() {
		return nil, verr.Errorf(verr.InvalidConfig, "tenant %s failed validation: %s", tenantID, errs.Error())
	}

	activePath := filepath.Join(s.activeDir, tenantFileName(tenantID))
	var before string
	if data, err := os.ReadFile(activePath); err == nil {
		before = string(data)
	} else if !os.IsNotExist(err) {
		return nil, verr.Wrapf(err, verr.KindInternal, "read active %s", activePath)
	}

	afterBytes, err := marshalTenant(candidate)
	if err != nil {
		return nil, err
	}
	diff := &Diff{
		TenantID: tenantID,
		Before:   before,
		After:    string(afterBytes),
		Lines:    lineDiff(before, string(afterBytes)),
	}

	if opts.DryRun {
		return diff, nil
	}

	if err := atomicWriteTenant(s.activeDir, candidate); err != nil {
		return nil, err
	}
	return diff, nil
}

// Revert overwrites a tenant's candidate with its current active
// content, discarding any staged edit.
func (s *Store) Revert(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	activePath := filepath.Join(s.activeDir, tenantFileName(tenantID))
	data, err := os.ReadFile(activePath)
	if err != nil {
		if os.IsNotExist(err) {
			// s.mu is already held, so remove the candidate directly
			// rather than through DeleteCandidate, which locks again.
			path := filepath.Join(s.candidateDir, tenantFileName(tenantID))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return verr.Wrapf(err, verr.KindInternal, "remove candidate %s", tenantID)
			}
			return nil
		}
		return verr.Wrapf(err, verr.KindInternal, "read active %s", activePath)
	}
	candidatePath := filepath.Join(s.candidateDir, tenantFileName(tenantID))
	tmp, err := os.CreateTemp(s.candidateDir, ".tmp-"+tenantID+"-*.yaml")
	if err != nil {
		return verr.Wrapf(err, verr.KindInternal, "create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return verr.Wrapf(err, verr.KindInternal, "write temp file")
	}
	tmp.Close()
	return os.Rename(tmp.Name(), candidatePath)
}

// lineDiff produces a minimal +/- line list for display purposes. It is
// not a minimal-edit-distance diff; callers needing that should post
// process Before/After themselves.
func lineDiff(before, after string) []string {
	if before == after {
		return nil
	}
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")
	seen := map[string]bool{}
	for _, l := range beforeLines {
		seen[l] = true
	}
	afterSet := map[string]bool{}
	for _, l := range afterLines {
		afterSet[l] = true
	}

	var out []string
	for _, l := range beforeLines {
		if !afterSet[l] {
			out = append(out, "- "+l)
		}
	}
	for _, l := range afterLines {
		if !seen[l] {
			out = append(out, "+ "+l)
		}
	}
	sort.Strings(out)
	return out
}

// AllTenantIDs lists tenant ids currently present in active/.
func (s *Store) AllTenantIDs() ([]string, error) {
	snap, err := s.LoadActive()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snap.Tenants))
	for id := range snap.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
