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

package verify

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey        = errors.New("log key is not a supported ECDSA or RSA key")
	ErrLogIDMismatch     = errors.New("SCT log ID does not match the log key")
	ErrAlgorithmMismatch = errors.New("SCT signature algorithm does not match the log key")
	ErrSignature         = errors.New("SCT signature is invalid")
	ErrThreshold         = errors.New("too few distinct logs verified")
	ErrFutureTimestamp   = errors.New("SCT timestamp is later than the verification time")
)

type ErrVerification struct {
	err error
}

func NewVerificationError(e error) ErrVerification {
	return ErrVerification{e}
}

func (e ErrVerification) Unwrap() error {
	return e.err
}

func (e ErrVerification) String() string {
	return fmt.Sprintf("verification error: %s", e.err.Error())
}

func (e ErrVerification) Error() string {
	return e.String()
}
