// Package chain implements the hash chain primitive behind the audit ledger.
//
// Each entry's digest is SHA-256 over the RFC 8785 canonical JSON of
// (tenant, seq, action, actor, timestamp, metadata, previous digest), so a
// change to any earlier entry breaks every digest after it.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/yourorg/compliance-ledger/internal/domain"
)

// GenesisDigest is the previous digest of the first entry of every tenant.
var GenesisDigest = strings.Repeat("0", sha256.Size*2)

// Head is the tip of a tenant chain: the next sequence to assign and the
// digest new entries link to.
type Head struct {
	Next      int64
	Digest    string
	Timestamp time.Time
}

// Genesis returns the head of an empty chain.
func Genesis() Head {
	return Head{Next: 0, Digest: GenesisDigest}
}

// Entry is a linked, digested chain element.
type Entry struct {
	TenantID   string
	Seq        int64
	Action     string
	ActorID    string
	Timestamp  time.Time
	Metadata   []byte // canonical JSON
	PrevDigest string
	Digest     string
}

// Advance returns the head that follows e.
func (e Entry) Advance() Head {
	return Head{Next: e.Seq + 1, Digest: e.Digest, Timestamp: e.Timestamp}
}

type preimage struct {
	TenantID   string         `json:"tenant_id"`
	Seq        int64          `json:"seq"`
	Action     string         `json:"action"`
	ActorID    string         `json:"actor_id"`
	Timestamp  string         `json:"timestamp"`
	Metadata   jsontext.Value `json:"metadata"`
	PrevDigest string         `json:"prev_digest"`
}

// finiteOnly rejects NaN and the infinities, which jsontext would otherwise
// write as the strings "NaN", "Infinity" and "-Infinity".
var finiteOnly = jsonv2.WithMarshalers(jsonv2.JoinMarshalers(
	jsonv2.MarshalToFunc(func(_ *jsontext.Encoder, f float64) error {
		return checkFinite(f)
	}),
	jsonv2.MarshalToFunc(func(_ *jsontext.Encoder, f float32) error {
		return checkFinite(float64(f))
	}),
))

func checkFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}
	return jsonv2.SkipFunc
}

// Canonicalize renders v as RFC 8785 canonical JSON. Values that cannot be
// represented as JSON, non-finite numbers included, fail with
// domain.ErrInvalidMetadata.
func Canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	raw, err := jsonv2.Marshal(v, finiteOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	return canonicalBytes(raw)
}

func canonicalBytes(raw []byte) ([]byte, error) {
	val := jsontext.Value(append([]byte(nil), raw...))
	if err := val.Canonicalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMetadata, err)
	}
	return val, nil
}

// Append builds the entry that follows head. metadata is canonicalized
// before hashing so equal payloads always produce equal digests.
func Append(head Head, tenantID, action, actorID string, ts time.Time, metadata any) (Entry, error) {
	if tenantID == "" || action == "" {
		return Entry{}, errors.New("chain: tenant and action are required")
	}
	md, err := Canonicalize(metadata)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		TenantID:   tenantID,
		Seq:        head.Next,
		Action:     action,
		ActorID:    actorID,
		Timestamp:  ts.UTC(),
		Metadata:   md,
		PrevDigest: head.Digest,
	}
	e.Digest, err = Digest(e)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Digest computes the digest of e from its content and PrevDigest. The
// stored Digest field is ignored.
func Digest(e Entry) (string, error) {
	md := e.Metadata
	if len(md) == 0 {
		md = []byte("{}")
	}
	canonMD, err := canonicalBytes(md)
	if err != nil {
		return "", err
	}
	raw, err := jsonv2.Marshal(preimage{
		TenantID:   e.TenantID,
		Seq:        e.Seq,
		Action:     e.Action,
		ActorID:    e.ActorID,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		Metadata:   jsontext.Value(canonMD),
		PrevDigest: e.PrevDigest,
	})
	if err != nil {
		return "", fmt.Errorf("chain: marshal preimage: %w", err)
	}
	canon, err := canonicalBytes(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Verifier checks a chain forward from genesis, one entry at a time.
type Verifier struct {
	prev string
	next int64
}

// NewVerifier starts at the genesis link.
func NewVerifier() *Verifier {
	return &Verifier{prev: GenesisDigest}
}

// Check reports whether e is the valid successor of the entries checked so
// far: contiguous sequence, matching link and a digest that recomputes.
func (v *Verifier) Check(e Entry) bool {
	if e.Seq != v.next || e.PrevDigest != v.prev {
		return false
	}
	want, err := Digest(e)
	if err != nil || want != e.Digest {
		return false
	}
	v.prev = e.Digest
	v.next++
	return true
}

// Checked is the number of entries accepted so far.
func (v *Verifier) Checked() int64 {
	return v.next
}
