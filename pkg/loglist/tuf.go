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
package loglist

import (
	"context"
	"fmt"

	"github.com/sigstore/ctverify/pkg/tuf"
)

// TargetClient is the part of a TUF client used by TUFSource.
type TargetClient interface {
	Refresh() error
	GetTarget(target string) ([]byte, error)
}

var _ TargetClient = (*tuf.Client)(nil)

// TUFSource reads the log list from a target of a TUF repository, by
// default the Sigstore trusted root.
type TUFSource struct {
	client TargetClient
	target string
	parse  Parser
}

// NewTUFSource returns a source for the trusted root published in the
// repository behind client.
func NewTUFSource(client TargetClient) *TUFSource {
	return &TUFSource{client: client, target: tuf.TrustedRootTUFPath, parse: ParseTrustedRoot}
}

// NewTUFTargetSource reads an arbitrary target.
func NewTUFTargetSource(client TargetClient, target string, parse Parser) *TUFSource {
	return &TUFSource{client: client, target: target, parse: parse}
}

func (s *TUFSource) Fetch(ctx context.Context, token string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.client.Refresh(); err != nil {
		return nil, fmt.Errorf("refreshing TUF metadata: %w", err)
	}
	data, err := s.client.GetTarget(s.target)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.target, err)
	}
	return fromContent(data, token, s.parse)
}
