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
// Package tlsct enforces certificate transparency during TLS handshakes.
package tlsct

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/sigstore/ctverify/pkg/limits"
)

// DefaultCacheTTL is how long a verification outcome is reused.
const DefaultCacheTTL = 10 * time.Minute

var (
	ErrNotLogged       = errors.New("certificate is not publicly logged")
	ErrIncompleteChain = errors.New("chain has no issuer certificate")
	ErrCertTooLarge    = errors.New("certificate too large")
)

// Verifier is satisfied by verify.MultiLogVerifier and autoupdate.Verifier.
type Verifier interface {
	Verify(leaf, issuer []byte, now time.Time) bool
}

// Checker folds the CT outcome into a TLS handshake.
type Checker struct {
	verifier Verifier
	clock    clock.PassiveClock
	ttl      time.Duration
	results  *cache.Cache
	include  hostSet
	exclude  hostSet
}

type Option func(*Checker)

func WithClock(c clock.PassiveClock) Option {
	return func(ch *Checker) {
		ch.clock = c
	}
}

// WithCacheTTL sets how long outcomes are cached. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(ch *Checker) {
		ch.ttl = ttl
	}
}

// WithIncludeHosts limits checking to the given hosts. Patterns may start
// with "*." to match subdomains.
func WithIncludeHosts(patterns ...string) Option {
	return func(ch *Checker) {
		ch.include = newHostSet(patterns)
	}
}

// WithExcludeHosts skips checking for the given hosts. Exclusion wins over
// inclusion.
func WithExcludeHosts(patterns ...string) Option {
	return func(ch *Checker) {
		ch.exclude = newHostSet(patterns)
	}
}

func New(v Verifier, opts ...Option) *Checker {
	c := &Checker{
		verifier: v,
		clock:    clock.RealClock{},
		ttl:      DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl > 0 {
		c.results = cache.New(c.ttl, 2*c.ttl)
	}
	return c
}

// InScope reports whether connections to host are checked.
func (c *Checker) InScope(host string) bool {
	if !c.exclude.empty() && c.exclude.contains(host) {
		return false
	}
	return c.include.empty() || c.include.contains(host)
}

// VerifyConnection can be used as tls.Config.VerifyConnection. It runs after
// the standard chain verification, so VerifiedChains is used when set.
func (c *Checker) VerifyConnection(cs tls.ConnectionState) error {
	if !c.InScope(cs.ServerName) {
		klog.V(3).Infof("skipping CT check for %s", cs.ServerName)
		return nil
	}
	chain := cs.PeerCertificates
	if len(cs.VerifiedChains) > 0 {
		chain = cs.VerifiedChains[0]
	}
	if err := c.CheckChain(chain); err != nil {
		return fmt.Errorf("%s: %w", cs.ServerName, err)
	}
	return nil
}

// CheckChain checks the leaf of chain against its issuer chain[1].
func (c *Checker) CheckChain(chain []*x509.Certificate) error {
	if len(chain) < 2 {
		return ErrIncompleteChain
	}
	return c.Check(chain[0].Raw, chain[1].Raw)
}

// Check verifies a DER leaf and issuer pair.
func (c *Checker) Check(leaf, issuer []byte) error {
	if len(leaf) > limits.MaxCertificateSize || len(issuer) > limits.MaxCertificateSize {
		return ErrCertTooLarge
	}

	var key string
	if c.results != nil {
		key = cacheKey(leaf, issuer)
		if ok, found := c.results.Get(key); found {
			return outcome(ok.(bool))
		}
	}
	ok := c.verifier.Verify(leaf, issuer, c.clock.Now())
	if c.results != nil {
		c.results.Set(key, ok, cache.DefaultExpiration)
	}
	if !ok {
		klog.Warningf("certificate not logged: %x", sha256.Sum256(leaf))
	}
	return outcome(ok)
}

// Config returns a copy of base that also enforces CT.
func (c *Checker) Config(base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	prev := cfg.VerifyConnection
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if prev != nil {
			if err := prev(cs); err != nil {
				return err
			}
		}
		return c.VerifyConnection(cs)
	}
	return cfg
}

func outcome(ok bool) error {
	if ok {
		return nil
	}
	return ErrNotLogged
}

func cacheKey(leaf, issuer []byte) string {
	h := sha256.New()
	h.Write(leaf)
	h.Write(issuer)
	return string(h.Sum(nil))
}
