// Copyright 2023 The Sigstore Authors.
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

package tuf

import (
	"os"
	"path/filepath"

	"github.com/theupdateframework/go-tuf/v2/metadata/fetcher"
)

const DefaultMirror = "https://tuf-repo-cdn.sigstore.dev"

// Options represent the various options for a Sigstore TUF Client
type Options struct {
	// Root is the TUF trust anchor. It must be set before calling New.
	Root []byte
	// CachePath is the location on disk for TUF cache
	// (default $HOME/.sigstore/root)
	CachePath string
	// RepositoryBaseURL is the TUF repository location URL
	// (default https://tuf-repo-cdn.sigstore.dev)
	RepositoryBaseURL string
	// DisableLocalCache mode allows a client to work on a read-only
	// files system if this is set, cache path is ignored.
	DisableLocalCache bool
	// Fetcher is the metadata fetcher
	Fetcher fetcher.Fetcher
}

// DefaultOptions returns an options struct for the public good instance.
// The caller supplies the trust anchor with WithRoot.
func DefaultOptions() *Options {
	var opts Options

	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to using a TUF repository in the temp location
		home = os.TempDir()
	}
	opts.CachePath = filepath.Join(home, ".sigstore", "root")
	opts.RepositoryBaseURL = DefaultMirror

	return &opts
}

// WithRoot sets the TUF trust anchor to use
func (o *Options) WithRoot(root []byte) *Options {
	o.Root = root
	return o
}

// WithCachePath sets the location on disk for TUF cache
func (o *Options) WithCachePath(cachePath string) *Options {
	o.CachePath = cachePath
	return o
}

// WithRepositoryBaseURL sets the TUF repository location URL
func (o *Options) WithRepositoryBaseURL(repositoryBaseURL string) *Options {
	o.RepositoryBaseURL = repositoryBaseURL
	return o
}

// WithDisableLocalCache sets the client to work on a read-only file system
func (o *Options) WithDisableLocalCache() *Options {
	o.DisableLocalCache = true
	return o
}

// WithFetcher sets the metadata fetcher
func (o *Options) WithFetcher(f fetcher.Fetcher) *Options {
	o.Fetcher = f
	return o
}
