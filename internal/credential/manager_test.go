package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testModelPro   = "gemini-2.5-pro"
	testModelFlash = "gemini-2.5-flash"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager([]string{testModelPro, testModelFlash}, WithNowFunc(clock.Now))
	return mgr, clock
}

func usableCred(project string, clock *fakeClock) Credential {
	return Credential{
		ProjectID:    project,
		RefreshToken: "rt-" + project,
		AccessToken:  "at-" + project,
		Expiry:       clock.Now().Add(time.Hour),
	}
}

func TestManagerRoundRobinRotation(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.Add(2, usableCred("beta", clock))

	var order []int64
	for i := 0; i < 4; i++ {
		a := mgr.GetAssigned(testModelPro)
		require.NotNil(t, a.Assigned)
		order = append(order, a.Assigned.ID)
	}
	assert.Equal(t, []int64{1, 2, 1, 2}, order)
}

func TestManagerAssignedSnapshotFields(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(7, usableCred("alpha", clock))

	a := mgr.GetAssigned(testModelPro)
	require.NotNil(t, a.Assigned)
	assert.Equal(t, int64(7), a.Assigned.ID)
	assert.Equal(t, "alpha", a.Assigned.ProjectID)
	assert.Equal(t, "at-alpha", a.Assigned.AccessToken)
	assert.Equal(t, testModelPro, a.Assigned.Model)
	assert.Empty(t, a.RefreshIDs)
}

func TestManagerCooldownSkippedInPlace(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.Add(2, usableCred("beta", clock))

	mgr.ReportRateLimit(1, testModelPro, 30*time.Second)
	assert.Equal(t, 1, mgr.CooldownLen())

	// The cooling credential stays queued but is skipped, so every
	// assignment lands on the other one.
	for i := 0; i < 3; i++ {
		a := mgr.GetAssigned(testModelPro)
		require.NotNil(t, a.Assigned)
		assert.Equal(t, int64(2), a.Assigned.ID)
	}
	assert.Equal(t, 2, mgr.QueueLen(testModelPro))
}

func TestManagerCooldownExpiresDuringScan(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.Add(2, usableCred("beta", clock))

	mgr.ReportRateLimit(1, testModelPro, 30*time.Second)
	clock.Advance(31 * time.Second)

	// The expired entry is dropped and the credential competes again.
	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		a := mgr.GetAssigned(testModelPro)
		require.NotNil(t, a.Assigned)
		seen[a.Assigned.ID] = true
	}
	assert.True(t, seen[1])
	assert.True(t, seen[2])
	assert.Equal(t, 0, mgr.CooldownLen())
}

func TestManagerCooldownIsPerModel(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))

	mgr.ReportRateLimit(1, testModelPro, time.Minute)

	pro := mgr.GetAssigned(testModelPro)
	assert.Nil(t, pro.Assigned)

	flash := mgr.GetAssigned(testModelFlash)
	require.NotNil(t, flash.Assigned)
	assert.Equal(t, int64(1), flash.Assigned.ID)
}

func TestManagerRateLimitRotatesHead(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.Add(2, usableCred("beta", clock))

	// id 1 sits at the head; reporting moves it to the tail so the scan
	// does not start on a known-cooling entry.
	mgr.ReportRateLimit(1, testModelPro, time.Minute)
	a := mgr.GetAssigned(testModelPro)
	require.NotNil(t, a.Assigned)
	assert.Equal(t, int64(2), a.Assigned.ID)
}

func TestManagerRateLimitUnknownIDIsNoop(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))

	mgr.ReportRateLimit(99, testModelPro, time.Minute)
	mgr.ReportRateLimit(1, "no-such-model", time.Minute)
	assert.Equal(t, 0, mgr.CooldownLen())
}

func TestManagerUnusableTokenDequeuedForRefresh(t *testing.T) {
	mgr, clock := newTestManager(t)
	stale := usableCred("alpha", clock)
	stale.Expiry = clock.Now().Add(10 * time.Second) // inside the 30s skew
	mgr.Add(1, stale)
	mgr.Add(2, usableCred("beta", clock))

	a := mgr.GetAssigned(testModelPro)
	require.NotNil(t, a.Assigned)
	assert.Equal(t, int64(2), a.Assigned.ID)
	assert.Equal(t, []int64{1}, a.RefreshIDs)

	// The stale id was dequeued from this model only once; subsequent
	// scans do not report it again.
	a = mgr.GetAssigned(testModelPro)
	require.NotNil(t, a.Assigned)
	assert.Empty(t, a.RefreshIDs)
}

func TestManagerEmptyTokenDequeuedForRefresh(t *testing.T) {
	mgr, clock := newTestManager(t)
	cred := usableCred("alpha", clock)
	cred.AccessToken = ""
	mgr.Add(1, cred)

	a := mgr.GetAssigned(testModelPro)
	assert.Nil(t, a.Assigned)
	assert.Equal(t, []int64{1}, a.RefreshIDs)
	assert.Equal(t, 0, mgr.QueueLen(testModelPro))
}

func TestManagerExhaustedQueue(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := mgr.GetAssigned(testModelPro)
	assert.Nil(t, a.Assigned)
	assert.Empty(t, a.RefreshIDs)

	a = mgr.GetAssigned("unconfigured-model")
	assert.Nil(t, a.Assigned)
}

func TestManagerAddIsIdempotentInQueues(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.Add(1, usableCred("alpha-v2", clock))

	assert.Equal(t, 1, mgr.QueueLen(testModelPro))
	assert.Equal(t, 1, mgr.TotalCredentials())

	a := mgr.GetAssigned(testModelPro)
	require.NotNil(t, a.Assigned)
	assert.Equal(t, "alpha-v2", a.Assigned.ProjectID)
}

func TestManagerAddClearsRefreshingMark(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.MarkRefreshing(1)
	require.True(t, mgr.IsRefreshing(1))
	assert.Equal(t, 0, mgr.QueueLen(testModelPro))

	mgr.Add(1, usableCred("alpha", clock))
	assert.False(t, mgr.IsRefreshing(1))
	assert.Equal(t, 1, mgr.QueueLen(testModelPro))
}

func TestManagerRemoveClearsAllState(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.ReportRateLimit(1, testModelPro, time.Minute)

	mgr.Remove(1)
	assert.False(t, mgr.Contains(1))
	assert.Equal(t, 0, mgr.QueueLen(testModelPro))
	assert.Equal(t, 0, mgr.QueueLen(testModelFlash))
	assert.Equal(t, 0, mgr.CooldownLen())
	assert.Equal(t, "-", mgr.ProjectID(1))

	_, ok := mgr.CredentialCopy(1)
	assert.False(t, ok)
}

func TestManagerSnapshotCooldownRemainder(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Add(1, usableCred("alpha", clock))
	mgr.Add(2, usableCred("beta", clock))
	mgr.ReportRateLimit(1, testModelPro, 90*time.Second)
	mgr.MarkRefreshing(2)
	clock.Advance(30 * time.Second)

	snap := mgr.Snapshot()
	require.Len(t, snap, 2)

	byID := map[int64]CredentialStatus{}
	for _, s := range snap {
		byID[s.ID] = s
	}
	assert.Equal(t, int64(60), byID[1].Cooldowns[testModelPro])
	assert.NotContains(t, byID[1].Cooldowns, testModelFlash)
	assert.False(t, byID[1].Refreshing)
	assert.True(t, byID[2].Refreshing)
	assert.Empty(t, byID[2].Cooldowns)
}
