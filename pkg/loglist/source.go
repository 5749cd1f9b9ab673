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

// Package loglist fetches the set of trusted CT log keys from a remote or
// local source. A source hands back a version token with every list so that
// an unchanged list is not downloaded and parsed again.
package loglist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	ErrTooLarge         = errors.New("log list too large")
	ErrNoKeys           = errors.New("log list contains no usable keys")
)

// Status tells whether a fetch produced a new list.
type Status int

const (
	StatusOK Status = iota
	StatusNotModified
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotModified:
		return "not_modified"
	}
	return "unknown"
}

// Result is the outcome of a successful fetch. Keys is only set for
// StatusOK.
type Result struct {
	Status Status
	// Keys holds the DER SubjectPublicKeyInfo of each log.
	Keys [][]byte
	// Token identifies the version of the list. It is passed back to the
	// next Fetch.
	Token string
}

// Source provides the log list.
type Source interface {
	// Fetch returns the current list, or StatusNotModified when it still
	// matches token. An empty token always fetches.
	Fetch(ctx context.Context, token string) (*Result, error)
}

// Parser extracts log keys from a serialized log list.
type Parser func(data []byte) ([][]byte, error)

// contentToken derives a version token from the list itself.
func contentToken(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fromContent builds the result for data, honoring token.
func fromContent(data []byte, token string, parse Parser) (*Result, error) {
	tok := contentToken(data)
	if token == tok {
		return &Result{Status: StatusNotModified, Token: tok}, nil
	}
	keys, err := parse(data)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusOK, Keys: keys, Token: tok}, nil
}
