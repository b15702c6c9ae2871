package auth

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	headerVerify    = "x-ssl-client-verify"
	headerSubject   = "x-ssl-client-subject-dn"
	headerIssuer    = "x-ssl-client-issuer-dn"
	headerClientCert = "x-forwarded-client-cert"
)

// MTLSHeaderStrategy authenticates requests that arrived through a
// reverse proxy terminating mTLS and forwarding the verification result
// and certificate DNs as headers, per spec §4.F.
type MTLSHeaderStrategy struct {
	TrustedIssuers  [][]string // each entry pre-tokenized via tokenizeDN
	TrustedSubjects [][]string
	DecodeBase64    bool
	Logger          *slog.Logger
}

// NewMTLSHeaderStrategy constructs a strategy from raw (un-tokenized) DN
// strings; trustedIssuers/trustedSubjects may use either "," or "/"
// separated DN notation.
func NewMTLSHeaderStrategy(trustedIssuers, trustedSubjects []string, decodeBase64 bool, logger *slog.Logger) *MTLSHeaderStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &MTLSHeaderStrategy{
		TrustedIssuers:  tokenizeAll(trustedIssuers),
		TrustedSubjects: tokenizeAll(trustedSubjects),
		DecodeBase64:    decodeBase64,
		Logger:          logger,
	}
}

func (m *MTLSHeaderStrategy) Authenticate(r *http.Request) (bool, error) {
	if r.Header.Get(headerVerify) != "0" {
		return false, nil
	}

	subject, err := m.headerValue(r, headerSubject)
	if err != nil {
		return false, nil
	}
	issuer, err := m.headerValue(r, headerIssuer)
	if err != nil {
		return false, nil
	}

	subjectTokens := tokenizeDN(subject)
	issuerTokens := tokenizeDN(issuer)

	if !dnSetMatches(subjectTokens, m.TrustedSubjects) {
		return false, nil
	}
	if !dnSetMatches(issuerTokens, m.TrustedIssuers) {
		return false, nil
	}

	if certHeader := r.Header.Get(headerClientCert); certHeader != "" {
		m.checkCertValidityWindow(certHeader)
	}

	return true, nil
}

func (m *MTLSHeaderStrategy) headerValue(r *http.Request, name string) (string, error) {
	v := r.Header.Get(name)
	if v == "" {
		return "", nil
	}
	if !m.DecodeBase64 {
		return v, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// checkCertValidityWindow decodes the PEM block optionally embedded in
// x-forwarded-client-cert (raw PEM, or URL-encoded PEM inside a
// Cert="..." wrapper) and logs a warning if it has expired. Per the
// decision that an expired certificate whose DN headers still match the
// trusted lists is logged but not rejected — the reverse proxy is the
// system of record for "was this connection mTLS-verified", and this
// check exists only to surface silent drift for operators, not to
// re-implement certificate validation the header already asserts.
func (m *MTLSHeaderStrategy) checkCertValidityWindow(raw string) {
	candidate := raw
	if idx := strings.Index(raw, `Cert="`); idx >= 0 {
		rest := raw[idx+len(`Cert="`):]
		if end := strings.Index(rest, `"`); end >= 0 {
			if unescaped, err := url.QueryUnescape(rest[:end]); err == nil {
				candidate = unescaped
			}
		}
	}
	block, _ := pem.Decode([]byte(candidate))
	if block == nil {
		return
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		m.Logger.Warn("mTLS client certificate outside validity window, allowing on header trust", "notBefore", cert.NotBefore, "notAfter", cert.NotAfter)
	}
}

// tokenizeDN splits a DN string into an order-independent, sorted set of
// components using both "," and "/" as separators (the two common DN
// notations: RFC 2253 comma-separated and OpenSSL slash-separated).
func tokenizeDN(dn string) []string {
	if dn == "" {
		return nil
	}
	fields := strings.FieldsFunc(dn, func(r rune) bool { return r == ',' || r == '/' })
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		t := strings.TrimSpace(f)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	sort.Strings(tokens)
	return tokens
}

func tokenizeAll(dns []string) [][]string {
	out := make([][]string, 0, len(dns))
	for _, dn := range dns {
		out = append(out, tokenizeDN(dn))
	}
	return out
}

func dnSetMatches(tokens []string, trusted [][]string) bool {
	if len(trusted) == 0 {
		return false
	}
	for _, candidate := range trusted {
		if stringSliceEqual(tokens, candidate) {
			return true
		}
	}
	return false
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TrustedDNRecord is a {certIssuer, certSubject} pair fetched from a
// configured discovery endpoint.
type TrustedDNRecord struct {
	CertIssuer  string `json:"certIssuer"`
	CertSubject string `json:"certSubject"`
}

// DiscoverTrustedDNs fetches additional trusted DN records from each
// configured HTTPS endpoint (10-second timeout per endpoint, per spec
// §4.F) and merges them into the strategy's trusted lists, collapsing
// duplicates via the same DN-token equality used for request matching.
func (m *MTLSHeaderStrategy) DiscoverTrustedDNs(ctx context.Context, endpoints []string, doGet func(ctx context.Context, url string) ([]byte, error)) {
	for _, endpoint := range endpoints {
		reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		body, err := doGet(reqCtx, endpoint)
		cancel()
		if err != nil {
			m.Logger.Warn("trusted DN discovery endpoint failed", "endpoint", endpoint, "error", err)
			continue
		}
		var records []TrustedDNRecord
		if err := json.Unmarshal(body, &records); err != nil {
			m.Logger.Warn("trusted DN discovery endpoint returned invalid JSON", "endpoint", endpoint, "error", err)
			continue
		}
		for _, rec := range records {
			m.mergeTrusted(tokenizeDN(rec.CertIssuer), tokenizeDN(rec.CertSubject))
		}
	}
}

func (m *MTLSHeaderStrategy) mergeTrusted(issuer, subject []string) {
	if issuer != nil && !dnSetMatches(issuer, m.TrustedIssuers) {
		m.TrustedIssuers = append(m.TrustedIssuers, issuer)
	}
	if subject != nil && !dnSetMatches(subject, m.TrustedSubjects) {
		m.TrustedSubjects = append(m.TrustedSubjects, subject)
	}
}
