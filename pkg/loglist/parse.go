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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/certificate-transparency-go/loglist3"

	"github.com/sigstore/ctverify/pkg/root"
)

// DefaultStates are the log states whose SCTs are accepted.
var DefaultStates = []loglist3.LogStatus{
	loglist3.UsableLogStatus,
	loglist3.QualifiedLogStatus,
	loglist3.ReadOnlyLogStatus,
}

type parseConfig struct {
	states []loglist3.LogStatus
}

type ParseOption func(*parseConfig)

// WithStates replaces DefaultStates.
func WithStates(states ...loglist3.LogStatus) ParseOption {
	return func(c *parseConfig) {
		c.states = states
	}
}

// ParseGoogleLogList extracts the keys of logs in an accepted state from a
// v3 log list as published by Google and Apple.
func ParseGoogleLogList(data []byte, opts ...ParseOption) ([][]byte, error) {
	c := parseConfig{states: DefaultStates}
	for _, opt := range opts {
		opt(&c)
	}

	ll, err := loglist3.NewFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parsing log list: %w", err)
	}
	var keys [][]byte
	accept := func(desc string, key []byte, state *loglist3.LogStates) error {
		if state == nil || !slices.Contains(c.states, state.LogStatus()) {
			return nil
		}
		if len(key) == 0 {
			return fmt.Errorf("log %q has no key", desc)
		}
		keys = append(keys, key)
		return nil
	}
	for _, op := range ll.Operators {
		for _, l := range op.Logs {
			if err := accept(l.Description, l.Key, l.State); err != nil {
				return nil, err
			}
		}
		// Tiled logs issue the same SCTs as RFC 6962 logs.
		for _, l := range op.TiledLogs {
			if err := accept(l.Description, l.Key, l.State); err != nil {
				return nil, err
			}
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

// GoogleLogListParser returns a Parser for ParseGoogleLogList.
func GoogleLogListParser(opts ...ParseOption) Parser {
	return func(data []byte) ([][]byte, error) {
		return ParseGoogleLogList(data, opts...)
	}
}

// ParseTrustedRoot extracts the currently valid CT log keys from a Sigstore
// trusted root.
func ParseTrustedRoot(data []byte) ([][]byte, error) {
	keys, err := root.CTLogKeys(data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("parsing trusted root: %w", err)
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

type keyList struct {
	Logs []struct {
		Key string `json:"key"`
	} `json:"logs"`
}

// ParseKeyList reads the minimal {"logs":[{"key":"<base64 SPKI>"}]}
// document. Other fields are ignored.
func ParseKeyList(data []byte) ([][]byte, error) {
	var kl keyList
	if err := json.Unmarshal(data, &kl); err != nil {
		return nil, fmt.Errorf("parsing key list: %w", err)
	}
	keys := make([][]byte, 0, len(kl.Logs))
	for i, l := range kl.Logs {
		der, err := base64.StdEncoding.DecodeString(l.Key)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		if len(der) == 0 {
			return nil, fmt.Errorf("key %d is empty", i)
		}
		keys = append(keys, der)
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}
