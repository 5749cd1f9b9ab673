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
	"os"
)

// StaticSource serves a log list that is bundled with the application,
// either in memory or as a file read on every fetch.
type StaticSource struct {
	data  []byte
	path  string
	parse Parser
}

func NewStaticSource(data []byte, parse Parser) *StaticSource {
	return &StaticSource{data: data, parse: parse}
}

func NewFileSource(path string, parse Parser) *StaticSource {
	return &StaticSource{path: path, parse: parse}
}

func (s *StaticSource) Fetch(ctx context.Context, token string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := s.data
	if s.path != "" {
		var err error
		if data, err = os.ReadFile(s.path); err != nil {
			return nil, err
		}
	}
	return fromContent(data, token, s.parse)
}
