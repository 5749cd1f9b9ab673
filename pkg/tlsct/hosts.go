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
package tlsct

import "strings"

// hostSet matches host names against exact names and "*." patterns. A
// pattern "*.example.com" matches every name below example.com but not
// example.com itself.
type hostSet struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostSet(patterns []string) hostSet {
	s := hostSet{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = normalizeHost(p)
		if rest, ok := strings.CutPrefix(p, "*."); ok {
			s.suffixes = append(s.suffixes, "."+rest)
			continue
		}
		s.exact[p] = struct{}{}
	}
	return s
}

func (s hostSet) empty() bool {
	return len(s.exact) == 0 && len(s.suffixes) == 0
}

func (s hostSet) contains(host string) bool {
	host = normalizeHost(host)
	if _, ok := s.exact[host]; ok {
		return true
	}
	for _, suffix := range s.suffixes {
		if len(host) > len(suffix) && strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(h), ".")
}
