package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractHeaderExtensions(t *testing.T) {
	f1 := HashBytes([]byte("f1"))
	f2 := HashBytes([]byte("f2"))
	sched := testSchedule(t, 2, "alice", "bob")

	pfa, err := EncodeHeaderExtension(&ProtocolFeatureActivation{Features: []Digest{f1, f2}})
	require.NoError(t, err)
	psc, err := EncodeHeaderExtension(&ProducerScheduleChange{Schedule: sched})
	require.NoError(t, err)
	pfp, err := EncodeHeaderExtension(&ProtocolFeaturePreactivation{Features: []Digest{f2}})
	require.NoError(t, err)
	unknown := Extension{ID: 40, Data: []byte{0xde, 0xad}}

	exts, err := ExtractHeaderExtensions([]Extension{pfa, psc, pfp, unknown})
	require.NoError(t, err)
	require.NotNil(t, exts.FeatureActivation)
	require.Equal(t, []Digest{f1, f2}, exts.FeatureActivation.Features)
	require.NotNil(t, exts.ScheduleChange)
	require.Equal(t, sched, exts.ScheduleChange.Schedule)
	require.NotNil(t, exts.FeaturePreactivation)
	require.Equal(t, []Digest{f2}, exts.FeaturePreactivation.Features)
	require.Len(t, exts.All(), 3)
}

func TestExtractHeaderExtensionsErrors(t *testing.T) {
	pfa, err := EncodeHeaderExtension(&ProtocolFeatureActivation{Features: []Digest{HashBytes([]byte("f"))}})
	require.NoError(t, err)
	psc, err := EncodeHeaderExtension(&ProducerScheduleChange{Schedule: testSchedule(t, 1, "alice")})
	require.NoError(t, err)

	_, err = ExtractHeaderExtensions([]Extension{psc, pfa})
	require.ErrorIs(t, err, ErrInvalidExtension, "out of order")

	_, err = ExtractHeaderExtensions([]Extension{pfa, pfa})
	require.ErrorIs(t, err, ErrInvalidExtension, "duplicate")

	_, err = ExtractHeaderExtensions([]Extension{{ID: ProtocolFeaturePreactivationID, Data: []byte{0xff}}})
	require.ErrorIs(t, err, ErrInvalidExtension, "garbage preactivation")

	_, err = ExtractHeaderExtensions([]Extension{{ID: ProducerScheduleChangeID, Data: []byte{0xff}}})
	require.ErrorIs(t, err, ErrInvalidExtension, "garbage payload")
}

func TestUnknownExtensionsAreIgnored(t *testing.T) {
	exts, err := ExtractHeaderExtensions([]Extension{{ID: 7, Data: []byte("x")}, {ID: 7, Data: []byte("y")}})
	require.NoError(t, err)
	require.Empty(t, exts.All())
}

func TestAdditionalSignatures(t *testing.T) {
	priv, _ := newTestKey(t)
	sig, err := SignDigest(priv, HashBytes([]byte("d")))
	require.NoError(t, err)

	none, err := ExtractAdditionalSignatures(nil)
	require.NoError(t, err)
	require.Empty(t, none)

	ext, err := EncodeAdditionalSignatures([]Signature{sig})
	require.NoError(t, err)
	got, err := ExtractAdditionalSignatures([]Extension{ext})
	require.NoError(t, err)
	require.Equal(t, []Signature{sig}, got)

	empty, err := EncodeAdditionalSignatures(nil)
	require.NoError(t, err)
	_, err = ExtractAdditionalSignatures([]Extension{empty})
	require.ErrorIs(t, err, ErrInvalidExtension)
}

func TestHeaderIdentity(t *testing.T) {
	parent := BlockHeader{Timestamp: 10, Producer: "alice"}
	require.Equal(t, uint32(1), parent.BlockNum())

	child := BlockHeader{Timestamp: 11, Producer: "alice", Previous: parent.ID()}
	require.Equal(t, uint32(2), child.BlockNum())
	require.Equal(t, uint32(2), BlockNumFromID(child.ID()))

	clone := child.Clone()
	require.Equal(t, child.ID(), clone.ID())

	clone.Confirmed = 1
	require.NotEqual(t, child.ID(), clone.ID())
}

func TestBlockTimestamp(t *testing.T) {
	ts := BlockTimestamp(2)
	require.Equal(t, "2000-01-01T00:00:01.000", ts.String())
	require.Equal(t, ts, BlockTimestampFromTime(ts.Time()))
	require.Equal(t, ts+1, ts.Next())
	require.Equal(t, BlockTimestamp(0), BlockTimestampFromTime(ts.Time().AddDate(-5, 0, 0)))
}
