// Copyright 2025 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package autoupdate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sigstore/ctverify/pkg/loglist"
	"github.com/sigstore/ctverify/pkg/precert"
	"github.com/sigstore/ctverify/pkg/testing/ca"
	"github.com/sigstore/ctverify/pkg/verify"
)

const issuedAt = uint64(1_700_000_000_000)

var (
	verifyAt = time.UnixMilli(int64(issuedAt) + 1000)
	start    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	ca       *ca.VirtualCA
	logA     *ca.VirtualLog
	logB     *ca.VirtualLog
	logged   []byte
	oneLog   []byte
	unlogged []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	virtualCA, err := ca.NewVirtualCA()
	require.NoError(t, err)
	f := &fixture{ca: virtualCA}
	f.logA, err = ca.NewECDSALog()
	require.NoError(t, err)
	f.logB, err = ca.NewRSALog()
	require.NoError(t, err)

	leaf, err := f.ca.IssueLeaf("logged.example.com",
		ca.Embed{Log: f.logA, Timestamp: issuedAt},
		ca.Embed{Log: f.logB, Timestamp: issuedAt})
	require.NoError(t, err)
	f.logged = leaf.Raw
	leaf, err = f.ca.IssueLeaf("one-log.example.com",
		ca.Embed{Log: f.logA, Timestamp: issuedAt})
	require.NoError(t, err)
	f.oneLog = leaf.Raw
	leaf, err = f.ca.IssueLeaf("unlogged.example.com")
	require.NoError(t, err)
	f.unlogged = leaf.Raw
	return f
}

func (f *fixture) issuer() []byte {
	return f.ca.Intermediate.Raw
}

func (f *fixture) keys() [][]byte {
	return [][]byte{f.logA.PublicKeyDER, f.logB.PublicKeyDER}
}

// fakeSource replays results in order and repeats the last one.
type fakeSource struct {
	mu      sync.Mutex
	results []fakeResult
	tokens  []string
	entered atomic.Int32
	calls   atomic.Int32
	gate    chan struct{}
}

type fakeResult struct {
	res *loglist.Result
	err error
}

func (s *fakeSource) add(res *loglist.Result, err error) *fakeSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, fakeResult{res: res, err: err})
	return s
}

func (s *fakeSource) Fetch(ctx context.Context, token string) (*loglist.Result, error) {
	s.entered.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	r := s.results[n]
	return r.res, r.err
}

func ok(token string, keys [][]byte) *loglist.Result {
	return &loglist.Result{Status: loglist.StatusOK, Keys: keys, Token: token}
}

func notModified(token string) *loglist.Result {
	return &loglist.Result{Status: loglist.StatusNotModified, Token: token}
}

func TestVerifierRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fc := testingclock.NewFakeClock(start)
	reg := prometheus.NewRegistry()
	src := (&fakeSource{}).
		add(ok("v1", f.keys()), nil).
		add(notModified("v1"), nil).
		add(nil, errors.New("connection reset"))

	v, err := New(src, WithClock(fc), WithRegisterer(reg))
	require.NoError(t, err)

	// No logs yet: nothing can be checked.
	assert.Equal(t, 0, v.Current().Len())
	assert.True(t, v.Verify(f.unlogged, f.issuer(), verifyAt))
	assert.True(t, v.LastUpdate().IsZero())

	require.NoError(t, v.Refresh(ctx))
	assert.Equal(t, 2, v.Current().Len())
	assert.Equal(t, f.keys(), v.Keys())
	assert.True(t, v.Verify(f.logged, f.issuer(), verifyAt))
	assert.False(t, v.Verify(f.unlogged, f.issuer(), verifyAt))
	assert.ErrorIs(t, v.VerifyWithError(f.unlogged, f.issuer(), verifyAt), precert.ErrSCTExtensionMissing)
	assert.False(t, v.Verify(f.oneLog, f.issuer(), verifyAt))
	assert.ErrorIs(t, v.VerifyWithError(f.oneLog, f.issuer(), verifyAt), verify.ErrThreshold)
	assert.Equal(t, start, v.LastUpdate())
	installed := v.Current()

	fc.Step(time.Hour)
	require.NoError(t, v.Refresh(ctx))
	assert.Same(t, installed, v.Current())
	assert.Equal(t, start.Add(time.Hour), v.LastUpdate())

	fc.Step(time.Hour)
	assert.ErrorContains(t, v.Refresh(ctx), "connection reset")
	assert.Same(t, installed, v.Current())
	assert.Equal(t, start.Add(time.Hour), v.LastUpdate())

	assert.Equal(t, []string{"", "v1", "v1"}, src.tokens)
	assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.refreshes.WithLabelValues(resultUpdated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.refreshes.WithLabelValues(resultNotModified)))
	assert.Equal(t, 1.0, testutil.ToFloat64(v.metrics.refreshes.WithLabelValues(resultError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(v.metrics.logs))
	assert.Equal(t, float64(start.Add(time.Hour).Unix()), testutil.ToFloat64(v.metrics.lastUpdate))
}

func TestVerifierRejectsUnusableList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := (&fakeSource{}).
		add(ok("v1", f.keys()), nil).
		add(ok("v2", [][]byte{[]byte("not a key")}), nil).
		add(ok("v3", nil), nil)

	v, err := New(src, WithClock(testingclock.NewFakeClock(start)))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(ctx))
	installed := v.Current()

	assert.ErrorIs(t, v.Refresh(ctx), ErrNoUsableLogs)
	assert.Same(t, installed, v.Current())
	// The rejected list's token is not adopted.
	assert.ErrorIs(t, v.Refresh(ctx), ErrNoUsableLogs)
	assert.Equal(t, []string{"", "v1", "v1"}, src.tokens)
}

func TestVerifierOptionsApplyToEveryList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	leaf, err := f.ca.IssueLeaf("one.example.com", ca.Embed{Log: f.logA, Timestamp: issuedAt})
	require.NoError(t, err)

	src := (&fakeSource{}).add(ok("v1", f.keys()), nil)
	v, err := New(src, WithVerifierOptions(verify.WithMinimumDistinctLogs(1)))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(ctx))
	assert.Equal(t, 1, v.Current().Threshold())
	assert.True(t, v.Verify(leaf.Raw, f.issuer(), verifyAt))
}

func TestRefreshSingleFlight(t *testing.T) {
	f := newFixture(t)
	src := (&fakeSource{gate: make(chan struct{})}).add(ok("v1", f.keys()), nil)
	v, err := New(src)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = v.Refresh(context.Background())
		}()
	}
	// Let the callers pile up behind the first fetch before releasing it.
	require.Eventually(t, func() bool { return src.entered.Load() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), src.entered.Load())
	close(src.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, v.Current().Len())
}

func TestConcurrentVerifyDuringRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := (&fakeSource{}).add(ok("v1", f.keys()), nil)
	v, err := New(src)
	require.NoError(t, err)
	require.NoError(t, v.Refresh(ctx))

	src.add(ok("v2", [][]byte{f.logB.PublicKeyDER, f.logA.PublicKeyDER}), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.True(t, v.Verify(f.logged, f.issuer(), verifyAt))
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, v.Refresh(ctx))
	}
	wg.Wait()
}

func TestRefreshIfStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fc := testingclock.NewFakeClock(start)
	src := (&fakeSource{}).add(ok("v1", f.keys()), nil).add(notModified("v1"), nil)
	v, err := New(src, WithClock(fc), WithPolicy(ExpiryPolicy{MaxAge: time.Hour}))
	require.NoError(t, err)

	require.NoError(t, v.RefreshIfStale(ctx))
	require.NoError(t, v.RefreshIfStale(ctx))
	assert.Equal(t, int32(1), src.calls.Load())

	fc.Step(time.Hour)
	require.NoError(t, v.RefreshIfStale(ctx))
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	fc := testingclock.NewFakeClock(start)
	src := (&fakeSource{}).add(ok("v1", f.keys()), nil).add(notModified("v1"), nil)
	v, err := New(src, WithClock(fc), WithPolicy(ExpiryPolicy{MaxAge: time.Hour}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx, 10*time.Minute)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, fc.HasWaiters, 5*time.Second, 5*time.Millisecond)

	fc.Step(30 * time.Minute)
	fc.Step(40 * time.Minute)
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestExpiryPolicy(t *testing.T) {
	p := ExpiryPolicy{MaxAge: DefaultMaxAge}
	for _, tt := range []struct {
		name       string
		lastUpdate time.Time
		now        time.Time
		want       bool
	}{
		{name: "never fetched", now: start, want: true},
		{name: "fresh", lastUpdate: start, now: start.Add(time.Hour)},
		{name: "just before expiry", lastUpdate: start, now: start.Add(DefaultMaxAge - time.Second)},
		{name: "expired", lastUpdate: start, now: start.Add(DefaultMaxAge), want: true},
		{name: "clock went backwards", lastUpdate: start, now: start.Add(-time.Hour)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRefresh(tt.lastUpdate, tt.now))
		})
	}
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loglist.db")
	s, err := NewBoltStore(path, nil)
	require.NoError(t, err)

	got, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	first := &Snapshot{Token: "v1", Keys: [][]byte{{1, 2}, {3}, {4, 5, 6}}, FetchedAt: start}
	require.NoError(t, s.Save(first))
	second := &Snapshot{Token: "v2", Keys: [][]byte{{7}}, FetchedAt: start.Add(time.Hour)}
	require.NoError(t, s.Save(second))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	got, err = s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Token)
	assert.Equal(t, [][]byte{{7}}, got.Keys)
	assert.True(t, second.FetchedAt.Equal(got.FetchedAt))
}

func TestVerifierPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "loglist.db")
	fc := testingclock.NewFakeClock(start)

	store, err := NewBoltStore(path, nil)
	require.NoError(t, err)
	v, err := New((&fakeSource{}).add(ok("v1", f.keys()), nil), WithClock(fc), WithStore(store))
	require.NoError(t, err)
	require.NoError(t, v.Refresh(ctx))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	src := (&fakeSource{}).add(notModified("v1"), nil)
	restored, err := New(src, WithClock(fc), WithStore(store))
	require.NoError(t, err)

	assert.Equal(t, 2, restored.Current().Len())
	assert.Equal(t, f.keys(), restored.Keys())
	assert.True(t, restored.Verify(f.logged, f.issuer(), verifyAt))
	assert.False(t, restored.Verify(f.unlogged, f.issuer(), verifyAt))
	assert.True(t, start.Equal(restored.LastUpdate()))

	// The stored token makes the next fetch conditional.
	require.NoError(t, restored.Refresh(ctx))
	assert.Equal(t, []string{"v1"}, src.tokens)
}

type brokenStore struct{}

func (brokenStore) Load() (*Snapshot, error) { return nil, errors.New("disk on fire") }
func (brokenStore) Save(*Snapshot) error     { return errors.New("disk on fire") }

func TestVerifierSurvivesBrokenStore(t *testing.T) {
	f := newFixture(t)
	v, err := New((&fakeSource{}).add(ok("v1", f.keys()), nil), WithStore(brokenStore{}))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Current().Len())
	require.NoError(t, v.Refresh(context.Background()))
	assert.Equal(t, 2, v.Current().Len())
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := (&fakeSource{}).add(notModified(""), nil)
	_, err := New(src, WithRegisterer(reg))
	require.NoError(t, err)
	_, err = New(src, WithRegisterer(reg))
	assert.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "ctverify_log_list_logs", "ctverify_log_list_last_update_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
