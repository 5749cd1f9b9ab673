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

package limits

// MaxAllowedSCTs bounds the number of signed certificate timestamps taken
// from a single SCT list. Items past it are ignored.
const MaxAllowedSCTs = 32

// MaxLogListSize bounds the size in bytes of a downloaded log list.
const MaxLogListSize = 1 << 20

// MaxCertificateSize bounds the size of a DER certificate accepted by the
// command line tool and the TLS hook.
const MaxCertificateSize = 64 << 10
