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
// Package autoupdate keeps a MultiLogVerifier in sync with a published log
// list. Verification always runs against a complete verifier; a new one is
// swapped in only after a refresh fully succeeds.
package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/sigstore/ctverify/pkg/loglist"
	"github.com/sigstore/ctverify/pkg/verify"
)

// ErrNoUsableLogs is returned when a fetched list has no key the verifier
// can use. Installing it would turn CT checking off.
var ErrNoUsableLogs = errors.New("log list has no usable logs")

type Verifier struct {
	source       loglist.Source
	store        Store
	policy       CachePolicy
	clock        clock.WithTicker
	verifierOpts []verify.MultiLogVerifierOption
	registerer   prometheus.Registerer
	metrics      *metrics

	current atomic.Pointer[verify.MultiLogVerifier]
	group   singleflight.Group

	mu         sync.Mutex // serializes refreshes and guards the fields below
	token      string
	keys       [][]byte
	lastUpdate time.Time
}

type Option func(*Verifier)

// WithStore persists accepted lists and restores the last one on start.
func WithStore(s Store) Option {
	return func(v *Verifier) {
		v.store = s
	}
}

func WithPolicy(p CachePolicy) Option {
	return func(v *Verifier) {
		v.policy = p
	}
}

func WithClock(c clock.WithTicker) Option {
	return func(v *Verifier) {
		v.clock = c
	}
}

// WithVerifierOptions are passed to every MultiLogVerifier built from a
// fetched list.
func WithVerifierOptions(opts ...verify.MultiLogVerifierOption) Option {
	return func(v *Verifier) {
		v.verifierOpts = append(v.verifierOpts, opts...)
	}
}

// WithRegisterer registers the refresh metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(v *Verifier) {
		v.registerer = reg
	}
}

// New returns a Verifier backed by source. Until the first successful
// refresh it verifies against the stored list, or against no logs at all.
func New(source loglist.Source, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		source: source,
		policy: ExpiryPolicy{MaxAge: DefaultMaxAge},
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(v)
	}
	var err error
	if v.metrics, err = newMetrics(v.registerer); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	v.current.Store(verify.NewMultiLogVerifier(nil, v.verifierOpts...))

	if v.store != nil {
		s, err := v.store.Load()
		switch {
		case err != nil:
			klog.Warningf("ignoring stored log list: %v", err)
		case s != nil:
			if err := v.install(s.Keys); err != nil {
				klog.Warningf("ignoring stored log list: %v", err)
				break
			}
			v.token = s.Token
			v.keys = s.Keys
			v.setLastUpdate(s.FetchedAt)
			klog.V(2).Infof("restored log list with %d logs fetched at %v", len(s.Keys), s.FetchedAt)
		}
	}
	return v, nil
}

// Current returns the verifier in use.
func (v *Verifier) Current() *verify.MultiLogVerifier {
	return v.current.Load()
}

func (v *Verifier) Verify(leaf, issuer []byte, now time.Time) bool {
	return v.current.Load().Verify(leaf, issuer, now)
}

func (v *Verifier) VerifyWithError(leaf, issuer []byte, now time.Time) error {
	return v.current.Load().VerifyWithError(leaf, issuer, now)
}

// Keys returns the keys of the installed list.
func (v *Verifier) Keys() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.keys
}

// LastUpdate returns when the list was last fetched or confirmed unchanged.
func (v *Verifier) LastUpdate() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastUpdate
}

// Refresh fetches the log list. Concurrent callers share a single fetch.
func (v *Verifier) Refresh(ctx context.Context) error {
	_, err, _ := v.group.Do("refresh", func() (any, error) {
		return nil, v.refresh(ctx)
	})
	return err
}

// RefreshIfStale refreshes when the policy says the list is stale.
func (v *Verifier) RefreshIfStale(ctx context.Context) error {
	if !v.policy.ShouldRefresh(v.LastUpdate(), v.clock.Now()) {
		return nil
	}
	return v.Refresh(ctx)
}

func (v *Verifier) refresh(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.source.Fetch(ctx, v.token)
	if err != nil {
		v.metrics.refreshes.WithLabelValues(resultError).Inc()
		return fmt.Errorf("fetching log list: %w", err)
	}
	now := v.clock.Now()

	switch res.Status {
	case loglist.StatusNotModified:
		v.metrics.refreshes.WithLabelValues(resultNotModified).Inc()
		if res.Token != "" {
			v.token = res.Token
		}
		v.setLastUpdate(now)
		klog.V(2).Infof("log list unchanged")
	case loglist.StatusOK:
		if err := v.install(res.Keys); err != nil {
			v.metrics.refreshes.WithLabelValues(resultError).Inc()
			return err
		}
		v.metrics.refreshes.WithLabelValues(resultUpdated).Inc()
		v.token = res.Token
		v.keys = res.Keys
		v.setLastUpdate(now)
		klog.Infof("installed log list with %d logs", v.current.Load().Len())
	default:
		v.metrics.refreshes.WithLabelValues(resultError).Inc()
		return fmt.Errorf("unexpected fetch status %v", res.Status)
	}

	if v.store != nil {
		if err := v.store.Save(&Snapshot{Token: v.token, Keys: v.keys, FetchedAt: now}); err != nil {
			klog.Warningf("failed to persist log list: %v", err)
		}
	}
	return nil
}

// install builds a verifier for keys and swaps it in.
func (v *Verifier) install(keys [][]byte) error {
	mv := verify.NewMultiLogVerifier(keys, v.verifierOpts...)
	if mv.Len() == 0 {
		return ErrNoUsableLogs
	}
	if dropped := len(keys) - mv.Len(); dropped > 0 {
		klog.Warningf("dropped %d unusable log keys", dropped)
	}
	v.current.Store(mv)
	v.metrics.logs.Set(float64(mv.Len()))
	return nil
}

func (v *Verifier) setLastUpdate(t time.Time) {
	v.lastUpdate = t
	v.metrics.lastUpdate.Set(float64(t.Unix()))
}

// Run refreshes the list whenever it goes stale, checking every interval,
// until ctx is done. Failed refreshes are logged and retried on the next
// tick.
func (v *Verifier) Run(ctx context.Context, interval time.Duration) {
	ticker := v.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := v.RefreshIfStale(ctx); err != nil {
			klog.Errorf("log list refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}
