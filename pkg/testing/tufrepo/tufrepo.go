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

// Package tufrepo writes a minimal signed TUF repository to disk for tests.
package tufrepo

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"
)

// Repository is a TUF repository with one ed25519 key for every top-level
// role and consistent snapshots.
type Repository struct {
	// Dir is the directory to serve over HTTP.
	Dir string
	// Root is the initial trusted root.json.
	Root []byte

	signer    signature.Signer
	targets   *metadata.Metadata[metadata.TargetsType]
	snapshot  *metadata.Metadata[metadata.SnapshotType]
	timestamp *metadata.Metadata[metadata.TimestampType]
}

// New creates an empty repository under dir.
func New(dir string) (*Repository, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := signature.LoadSigner(priv, crypto.Hash(0))
	if err != nil {
		return nil, err
	}
	key, err := metadata.KeyFromPublicKey(priv.Public())
	if err != nil {
		return nil, err
	}

	expires := time.Now().AddDate(0, 0, 7)
	root := metadata.Root(expires)
	for _, role := range []string{metadata.ROOT, metadata.TARGETS, metadata.SNAPSHOT, metadata.TIMESTAMP} {
		if err := root.Signed.AddKey(key, role); err != nil {
			return nil, err
		}
	}
	if _, err := root.Sign(signer); err != nil {
		return nil, err
	}
	rootBytes, err := root.ToBytes(false)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "targets"), 0o750); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "1.root.json"), rootBytes, 0o600); err != nil {
		return nil, err
	}

	r := &Repository{
		Dir:       dir,
		Root:      rootBytes,
		signer:    signer,
		targets:   metadata.Targets(expires),
		snapshot:  metadata.Snapshot(expires),
		timestamp: metadata.Timestamp(expires),
	}
	// Versions are bumped before every publish.
	r.targets.Signed.Version = 0
	r.snapshot.Signed.Version = 0
	r.timestamp.Signed.Version = 0
	return r, nil
}

// Publish adds or replaces the target name and signs new versions of the
// targets, snapshot and timestamp metadata.
func (r *Repository) Publish(name string, data []byte) error {
	sum := sha256.Sum256(data)
	targetPath := filepath.Join(r.Dir, "targets", hex.EncodeToString(sum[:])+"."+name)
	if err := os.WriteFile(targetPath, data, 0o600); err != nil {
		return err
	}
	tf, err := metadata.TargetFile().FromBytes(name, data, "sha256")
	if err != nil {
		return err
	}

	r.targets.Signed.Targets[name] = tf
	r.targets.Signed.Version++
	r.snapshot.Signed.Meta["targets.json"] = metadata.MetaFile(r.targets.Signed.Version)
	r.snapshot.Signed.Version++
	r.timestamp.Signed.Meta["snapshot.json"] = metadata.MetaFile(r.snapshot.Signed.Version)
	r.timestamp.Signed.Version++

	r.targets.ClearSignatures()
	if _, err := r.targets.Sign(r.signer); err != nil {
		return err
	}
	r.snapshot.ClearSignatures()
	if _, err := r.snapshot.Sign(r.signer); err != nil {
		return err
	}
	r.timestamp.ClearSignatures()
	if _, err := r.timestamp.Sign(r.signer); err != nil {
		return err
	}

	if err := r.targets.ToFile(filepath.Join(r.Dir, versioned(r.targets.Signed.Version, "targets.json")), false); err != nil {
		return err
	}
	if err := r.snapshot.ToFile(filepath.Join(r.Dir, versioned(r.snapshot.Signed.Version, "snapshot.json")), false); err != nil {
		return err
	}
	return r.timestamp.ToFile(filepath.Join(r.Dir, "timestamp.json"), false)
}

func versioned(version int64, name string) string {
	return strconv.FormatInt(version, 10) + "." + name
}
