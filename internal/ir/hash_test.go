package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() MutationRecord {
	return MutationRecord{
		Seq:      7,
		EntityID: 6,
		Op:       OpPut,
		After:    &Entity{ID: 6, Version: 7, Attributes: Attributes{"name": Text("Alice")}},
	}
}

func TestRecordDigest_Stable(t *testing.T) {
	d1, err := RecordDigest(sampleRecord())
	require.NoError(t, err)
	d2, err := RecordDigest(sampleRecord())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestRecordDigest_ChangesWithContent(t *testing.T) {
	base := MustRecordDigest(sampleRecord())

	changed := sampleRecord()
	changed.After.Attributes["name"] = Text("Bob")
	assert.NotEqual(t, base, MustRecordDigest(changed))

	reseq := sampleRecord()
	reseq.Seq = 8
	assert.NotEqual(t, base, MustRecordDigest(reseq))
}

func TestHashWithDomain_Separation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain("x", data), hashWithDomain("y", data))
	// The separator prevents ("ab", "c") from colliding with ("a", "bc").
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}
