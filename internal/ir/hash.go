package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for mutation record digests. The version suffix leaves room
// for a future encoding change.
const DomainMutation = "attrstore/mutation/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordDigest returns the content digest of a mutation record computed over
// its canonical JSON. The journal stores it next to the record and checks it
// on replay.
func RecordDigest(rec MutationRecord) (string, error) {
	canonical, err := MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("RecordDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMutation, canonical), nil
}

// MustRecordDigest is like RecordDigest but panics on error.
// Use only in tests or when the record is known to be valid.
func MustRecordDigest(rec MutationRecord) string {
	d, err := RecordDigest(rec)
	if err != nil {
		panic(err)
	}
	return d
}
