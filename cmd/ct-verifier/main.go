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
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"k8s.io/klog/v2"

	"github.com/sigstore/ctverify/pkg/autoupdate"
	"github.com/sigstore/ctverify/pkg/limits"
	"github.com/sigstore/ctverify/pkg/loglist"
	"github.com/sigstore/ctverify/pkg/precert"
	"github.com/sigstore/ctverify/pkg/sct"
	"github.com/sigstore/ctverify/pkg/tlsct"
	"github.com/sigstore/ctverify/pkg/tuf"
	"github.com/sigstore/ctverify/pkg/verify"
)

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var logKeys stringList
var trustedrootJSONpath *string
var logListPath *string
var logListURL *string
var logListFormat *string
var tufRootURL *string
var tufTrustedRoot *string
var tufCacheDir *string
var cacheDB *string
var minLogs *int
var at *string
var connect *string

func init() {
	klog.InitFlags(nil)
	flag.Var(&logKeys, "logKey", "Path to a PEM public key of a trusted CT log (repeatable)")
	trustedrootJSONpath = flag.String("trustedrootJSONpath", "", "Path to a Sigstore trusted root JSON file")
	logListPath = flag.String("logListPath", "", "Path to a log list file")
	logListURL = flag.String("logListURL", "", "URL of a log list")
	logListFormat = flag.String("logListFormat", "google", "Format of the log list: google, keys or trustedroot")
	tufRootURL = flag.String("tufRootURL", "", "URL of a TUF repository publishing trusted_root.json")
	tufTrustedRoot = flag.String("tufTrustedRoot", "", "Path to the trusted TUF root.json")
	tufCacheDir = flag.String("tufCacheDir", tuf.DefaultOptions().CachePath, "Directory to store TUF metadata")
	cacheDB = flag.String("cacheDB", "", "Path to a database keeping the last fetched log list")
	minLogs = flag.Int("minLogs", verify.DefaultMinimumDistinctLogs, "Minimum number of distinct logs with a valid SCT")
	at = flag.String("at", "", "Verification time in RFC 3339 format (default now)")
	connect = flag.String("connect", "", "Verify the certificate served by HOST:PORT instead of files")
	flag.Parse()
	if flag.NArg() == 0 && *connect == "" {
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf("Usage: %s [OPTIONS] LEAF_FILE [ISSUER_FILE]\n", os.Args[0])
	fmt.Printf("       %s [OPTIONS] -connect HOST:PORT\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

type sctResult struct {
	LogID     string    `json:"logID"`
	Timestamp time.Time `json:"timestamp"`
	Known     bool      `json:"known"`
	Error     string    `json:"error,omitempty"`
}

type result struct {
	Verified  bool        `json:"verified"`
	Logs      int         `json:"logs"`
	Threshold int         `json:"threshold"`
	SCTs      []sctResult `json:"scts"`
	Error     string      `json:"error,omitempty"`
}

func run() error {
	ctx := context.Background()
	now := time.Now()
	if *at != "" {
		var err error
		if now, err = time.Parse(time.RFC3339, *at); err != nil {
			return fmt.Errorf("invalid -at: %w", err)
		}
	}

	keys, mv, err := loadVerifier(ctx)
	if err != nil {
		return err
	}
	if mv.Len() == 0 {
		return errors.New("no usable CT log keys provided")
	}
	klog.V(1).Infof("loaded %d logs, threshold %d", mv.Len(), mv.Threshold())

	var leaf, issuer []byte
	if *connect != "" {
		leaf, issuer, err = fetchChain(mv, now)
	} else {
		leaf, issuer, err = readChain(flag.Args())
	}
	if err != nil {
		return err
	}

	res := result{Logs: mv.Len(), Threshold: mv.Threshold()}
	res.SCTs, err = describeSCTs(keys, leaf, issuer)
	if err != nil {
		res.Error = err.Error()
	}
	verr := mv.VerifyWithError(leaf, issuer, now)
	res.Verified = verr == nil
	if verr != nil {
		res.Error = verr.Error()
	}

	marshaled, err := json.MarshalIndent(res, "", "   ")
	if err != nil {
		return err
	}
	fmt.Println(string(marshaled))
	if verr != nil {
		return verr
	}
	fmt.Fprintf(os.Stderr, "Verification successful!\n")
	return nil
}

// loadVerifier builds the verifier from the configured key source. It also
// returns the raw keys for per-SCT reporting.
func loadVerifier(ctx context.Context) ([][]byte, *verify.MultiLogVerifier, error) {
	opts := []verify.MultiLogVerifierOption{verify.WithMinimumDistinctLogs(*minLogs)}

	src, err := logListSource()
	if err != nil {
		return nil, nil, err
	}
	if len(logKeys) > 0 {
		if src != nil {
			return nil, nil, errors.New("use either -logKey or a log list source")
		}
		keys, err := readLogKeys(logKeys)
		if err != nil {
			return nil, nil, err
		}
		return keys, verify.NewMultiLogVerifier(keys, opts...), nil
	}
	if src == nil {
		return nil, nil, errors.New("no trusted CT logs provided")
	}

	auOpts := []autoupdate.Option{autoupdate.WithVerifierOptions(opts...)}
	if *cacheDB != "" {
		store, err := autoupdate.NewBoltStore(*cacheDB, nil)
		if err != nil {
			return nil, nil, err
		}
		defer store.Close()
		auOpts = append(auOpts, autoupdate.WithStore(store))
	}
	au, err := autoupdate.New(src, auOpts...)
	if err != nil {
		return nil, nil, err
	}
	if err := au.RefreshIfStale(ctx); err != nil {
		if au.LastUpdate().IsZero() {
			return nil, nil, err
		}
		klog.Warningf("using log list from %v: %v", au.LastUpdate(), err)
	}
	return au.Keys(), au.Current(), nil
}

func logListSource() (loglist.Source, error) {
	parse, err := parser(*logListFormat)
	if err != nil {
		return nil, err
	}
	switch {
	case *tufRootURL != "":
		opts := tuf.DefaultOptions().
			WithRepositoryBaseURL(*tufRootURL).
			WithCachePath(*tufCacheDir)
		if *tufTrustedRoot == "" {
			return nil, errors.New("-tufTrustedRoot is required with -tufRootURL")
		}
		rb, err := os.ReadFile(*tufTrustedRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", *tufTrustedRoot, err)
		}
		client, err := tuf.New(opts.WithRoot(rb))
		if err != nil {
			return nil, err
		}
		return loglist.NewTUFSource(client), nil
	case *trustedrootJSONpath != "":
		return loglist.NewFileSource(*trustedrootJSONpath, loglist.ParseTrustedRoot), nil
	case *logListURL != "":
		return loglist.NewHTTPSource(*logListURL, parse, loglist.WithUserAgent("ct-verifier")), nil
	case *logListPath != "":
		return loglist.NewFileSource(*logListPath, parse), nil
	}
	return nil, nil
}

func parser(format string) (loglist.Parser, error) {
	switch format {
	case "google":
		return loglist.GoogleLogListParser(), nil
	case "keys":
		return loglist.ParseKeyList, nil
	case "trustedroot":
		return loglist.ParseTrustedRoot, nil
	}
	return nil, fmt.Errorf("unknown log list format %q", format)
}

func readLogKeys(paths []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(paths))
	for _, p := range paths {
		pemBytes, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		pub, err := cryptoutils.UnmarshalPEMToPublicKey(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		keys = append(keys, der)
	}
	return keys, nil
}

// readChain returns the leaf and issuer DER from one or two files. A single
// file must hold both.
func readChain(paths []string) ([]byte, []byte, error) {
	var certs [][]byte
	for _, p := range paths {
		c, err := readCerts(p)
		if err != nil {
			return nil, nil, err
		}
		certs = append(certs, c...)
	}
	if len(certs) < 2 {
		return nil, nil, errors.New("need a leaf and an issuer certificate")
	}
	return certs[0], certs[1], nil
}

// readCerts reads PEM or DER certificates. DER is passed on unparsed.
func readCerts(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	// PEM of a full chain is larger than a single DER certificate.
	const maxFileSize = 8 * limits.MaxCertificateSize
	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%s: file too large", path)
	}
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		return [][]byte{data}, nil
	}
	parsed, err := cryptoutils.UnmarshalCertificatesFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	certs := make([][]byte, 0, len(parsed))
	for _, c := range parsed {
		certs = append(certs, c.Raw)
	}
	return certs, nil
}

// fetchChain connects to the -connect address. The handshake itself enforces
// CT through tlsct; the chain is returned for reporting.
func fetchChain(mv *verify.MultiLogVerifier, now time.Time) ([]byte, []byte, error) {
	checker := tlsct.New(verifierAt{mv, now}, tlsct.WithCacheTTL(0))
	var leaf, issuer []byte
	cfg := checker.Config(&tls.Config{
		MinVersion: tls.VersionTLS12,
		VerifyConnection: func(cs tls.ConnectionState) error {
			chain := cs.PeerCertificates
			if len(cs.VerifiedChains) > 0 {
				chain = cs.VerifiedChains[0]
			}
			if len(chain) >= 2 {
				leaf, issuer = chain[0].Raw, chain[1].Raw
			}
			return nil
		},
	})
	conn, err := tls.Dial("tcp", *connect, cfg)
	if err != nil {
		if leaf == nil {
			return nil, nil, err
		}
		klog.Warningf("handshake with %s failed: %v", *connect, err)
		return leaf, issuer, nil
	}
	conn.Close()
	return leaf, issuer, nil
}

// verifierAt pins the verification time given on the command line.
type verifierAt struct {
	mv  *verify.MultiLogVerifier
	now time.Time
}

func (v verifierAt) Verify(leaf, issuer []byte, _ time.Time) bool {
	return v.mv.Verify(leaf, issuer, v.now)
}

// describeSCTs reports each embedded SCT against the known logs.
func describeSCTs(keys [][]byte, leaf, issuer []byte) ([]sctResult, error) {
	logs := make(map[sct.LogID]*verify.LogVerifier, len(keys))
	for _, k := range keys {
		if lv := verify.NewLogVerifier(k); lv.Valid() {
			logs[lv.KeyID()] = lv
		}
	}
	list, err := precert.ExtractEmbeddedSCTList(leaf)
	if err != nil {
		return nil, err
	}
	entry, err := precert.GetPrecertSignedEntry(leaf, issuer)
	if err != nil {
		return nil, err
	}
	items, err := sct.DecodeSCTList(list)
	if err != nil {
		return nil, err
	}
	out := make([]sctResult, 0, len(items))
	for _, item := range items {
		s, err := sct.DecodeSCT(item)
		if err != nil {
			out = append(out, sctResult{Error: err.Error()})
			continue
		}
		r := sctResult{
			LogID:     s.LogID.String(),
			Timestamp: time.UnixMilli(int64(s.Timestamp)).UTC(),
		}
		if lv, ok := logs[s.LogID]; ok {
			r.Known = true
			if err := lv.VerifyWithError(entry, s); err != nil {
				r.Error = err.Error()
			}
		}
		klog.V(2).Infof("SCT %s", s)
		out = append(out, r)
	}
	return out, nil
}
