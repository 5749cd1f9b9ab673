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

// Package tuf fetches targets, such as the Sigstore trusted root, from a TUF
// repository.
package tuf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theupdateframework/go-tuf/v2/metadata"
	"github.com/theupdateframework/go-tuf/v2/metadata/config"
	"github.com/theupdateframework/go-tuf/v2/metadata/updater"
)

const TrustedRootTUFPath = "trusted_root.json"

// Client is a Sigstore TUF client
type Client struct {
	cfg  *config.UpdaterConfig
	up   *updater.Updater
	opts *Options
}

// New returns a new client with updated metadata.
func New(opts *Options) (*Client, error) {
	if opts == nil || len(opts.Root) == 0 {
		return nil, errors.New("TUF root is required")
	}
	if err := checkRoot(opts.Root); err != nil {
		return nil, err
	}

	var err error
	c := Client{opts: opts}
	c.cfg, err = config.New(opts.RepositoryBaseURL, opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create TUF client: %w", err)
	}
	c.cfg.LocalMetadataDir = opts.CachePath
	c.cfg.LocalTargetsDir = filepath.Join(opts.CachePath, "targets")
	c.cfg.DisableLocalCache = opts.DisableLocalCache
	c.cfg.PrefixTargetsWithHash = true
	if opts.Fetcher != nil {
		c.cfg.Fetcher = opts.Fetcher
	}

	if !opts.DisableLocalCache {
		if err := os.MkdirAll(c.cfg.LocalTargetsDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	if err := c.Refresh(); err != nil {
		return nil, fmt.Errorf("tuf refresh failed: %w", err)
	}
	return &c, nil
}

// checkRoot rejects a root that is not root metadata. The updater asserts
// the "signed._type" field without checking it first.
func checkRoot(root []byte) error {
	var envelope struct {
		Signed struct {
			Type string `json:"_type"`
		} `json:"signed"`
	}
	if err := json.Unmarshal(root, &envelope); err != nil {
		return fmt.Errorf("invalid TUF root: %w", err)
	}
	if envelope.Signed.Type != metadata.ROOT {
		return fmt.Errorf("invalid TUF root: metadata type %q", envelope.Signed.Type)
	}
	if _, err := metadata.Root().FromBytes(root); err != nil {
		return fmt.Errorf("invalid TUF root: %w", err)
	}
	return nil
}

// Refresh forces a refresh of the underlying TUF metadata.
func (c *Client) Refresh() error {
	var err error
	c.up, err = updater.New(c.cfg)
	if err != nil {
		return fmt.Errorf("failed to create tuf updater: %w", err)
	}
	return c.up.Refresh()
}

// GetTarget returns a target file from the TUF repository, from the local
// cache when it is current.
func (c *Client) GetTarget(target string) ([]byte, error) {
	// Set filepath to the empty string. When we get targets,
	// we rely on the target info struct instead.
	const filePath = ""
	ti, err := c.up.GetTargetInfo(target)
	if err != nil {
		return nil, err
	}

	path, tb, err := c.up.FindCachedTarget(ti, filePath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		// Cached version found
		return tb, nil
	}

	// Download of target is needed
	// Ignore targetsBaseURL, set to empty string
	const targetsBaseURL = ""
	_, tb, err = c.up.DownloadTarget(ti, filePath, targetsBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download target file %s - %w", target, err)
	}

	return tb, nil
}
