package privval

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/finalberry/types"
)

func pvPaths(t *testing.T) (string, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "config")
	return filepath.Join(dir, "key.json"), filepath.Join(dir, "state.json")
}

func TestGenerateFilePV(t *testing.T) {
	keyPath, statePath := pvPaths(t)

	pv, err := GenerateFilePV(keyPath, statePath, 3)
	require.NoError(t, err)
	require.Len(t, pv.PublicKeys(), 3)

	for _, p := range []string{keyPath, statePath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(keyFilePerm), info.Mode().Perm())
	}

	data, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	var key FilePVKey
	require.NoError(t, json.Unmarshal(data, &key))
	assert.Equal(t, pv.PublicKeys(), key.PubKeys)
	assert.Len(t, key.PrivKeys, 3)

	// Loading reads the same keys back.
	loaded, err := NewFilePV(keyPath, statePath)
	require.NoError(t, err)
	assert.Equal(t, pv.PublicKeys(), loaded.PublicKeys())

	_, err = GenerateFilePV(keyPath, statePath, 0)
	require.ErrorIs(t, err, ErrNoKeys)
}

func TestNewFilePV_GeneratesMissingKey(t *testing.T) {
	keyPath, statePath := pvPaths(t)

	pv, err := NewFilePV(keyPath, statePath)
	require.NoError(t, err)
	assert.Len(t, pv.PublicKeys(), 1)
	assert.FileExists(t, keyPath)
	assert.FileExists(t, statePath)
	assert.Nil(t, pv.LastSignState().Signatures)
}

func TestFilePV_SignBlock(t *testing.T) {
	keyPath, statePath := pvPaths(t)
	pv, err := GenerateFilePV(keyPath, statePath, 2)
	require.NoError(t, err)

	digest := types.HashBytes([]byte("block 2"))
	sigs, err := pv.SignBlock(2, 25, digest)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	for i, sig := range sigs {
		key, err := types.RecoverKey(sig, digest)
		require.NoError(t, err)
		assert.Equal(t, pv.PublicKeys()[i], key)
	}

	lss := pv.LastSignState()
	assert.Equal(t, uint32(2), lss.BlockNum)
	assert.Equal(t, types.BlockTimestamp(25), lss.Timestamp)
	assert.Equal(t, digest, lss.Digest)
	assert.Equal(t, sigs, lss.Signatures)
}

func TestFilePV_DoubleSign(t *testing.T) {
	keyPath, statePath := pvPaths(t)
	pv, err := GenerateFilePV(keyPath, statePath, 1)
	require.NoError(t, err)

	digest := types.HashBytes([]byte("block 2"))
	sigs, err := pv.SignBlock(2, 25, digest)
	require.NoError(t, err)

	// Same block again returns the stored signatures.
	again, err := pv.SignBlock(2, 25, digest)
	require.NoError(t, err)
	assert.Equal(t, sigs, again)

	// A different block in the same slot is refused.
	_, err = pv.SignBlock(2, 25, types.HashBytes([]byte("fork")))
	require.ErrorIs(t, err, ErrDoubleSign)

	// An earlier slot is refused.
	_, err = pv.SignBlock(1, 24, types.HashBytes([]byte("old")))
	require.ErrorIs(t, err, ErrTimestampRegression)

	// A later slot is fine.
	_, err = pv.SignBlock(3, 26, types.HashBytes([]byte("block 3")))
	require.NoError(t, err)
}

func TestFilePV_StatePersistence(t *testing.T) {
	keyPath, statePath := pvPaths(t)
	pv, err := GenerateFilePV(keyPath, statePath, 1)
	require.NoError(t, err)

	digest := types.HashBytes([]byte("block 7"))
	sigs, err := pv.SignBlock(7, 30, digest)
	require.NoError(t, err)

	// Simulate a restart.
	pv2, err := NewFilePV(keyPath, statePath)
	require.NoError(t, err)

	lss := pv2.LastSignState()
	assert.Equal(t, uint32(7), lss.BlockNum)
	assert.Equal(t, types.BlockTimestamp(30), lss.Timestamp)
	assert.Equal(t, digest, lss.Digest)
	assert.Equal(t, sigs, lss.Signatures)

	_, err = pv2.SignBlock(7, 30, types.HashBytes([]byte("other")))
	require.ErrorIs(t, err, ErrDoubleSign)
	_, err = pv2.SignBlock(6, 29, types.HashBytes([]byte("older")))
	require.ErrorIs(t, err, ErrTimestampRegression)

	again, err := pv2.SignBlock(7, 30, digest)
	require.NoError(t, err)
	assert.Equal(t, sigs, again)
}

func TestFilePV_Reset(t *testing.T) {
	keyPath, statePath := pvPaths(t)
	pv, err := GenerateFilePV(keyPath, statePath, 1)
	require.NoError(t, err)

	_, err = pv.SignBlock(5, 40, types.HashBytes([]byte("a")))
	require.NoError(t, err)
	require.NoError(t, pv.Reset())

	_, err = pv.SignBlock(5, 40, types.HashBytes([]byte("b")))
	require.NoError(t, err)

	pv2, err := NewFilePV(keyPath, statePath)
	require.NoError(t, err)
	assert.Equal(t, types.HashBytes([]byte("b")), pv2.LastSignState().Digest)
}

func TestNewFilePV_InvalidFiles(t *testing.T) {
	keyPath, statePath := pvPaths(t)
	pv, err := GenerateFilePV(keyPath, statePath, 1)
	require.NoError(t, err)

	other, err := GenerateFilePV(filepath.Join(t.TempDir(), "k.json"), filepath.Join(t.TempDir(), "s.json"), 1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		key   any
		state string
	}{
		{"garbage key", "not json", ""},
		{"no keys", FilePVKey{}, ""},
		{"count mismatch", FilePVKey{PubKeys: append(pv.PublicKeys(), other.PublicKeys()...), PrivKeys: []string{hexKey(t, keyPath)}}, ""},
		{"key mismatch", FilePVKey{PubKeys: other.PublicKeys(), PrivKeys: []string{hexKey(t, keyPath)}}, ""},
		{"bad private key", FilePVKey{PubKeys: pv.PublicKeys(), PrivKeys: []string{"zz"}}, ""},
		{"bad state", nil, `{"block_num": 1, "signatures": ["00"]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kp, sp := pvPaths(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(kp), dirPerm))

			var keyData []byte
			switch k := tc.key.(type) {
			case nil:
				keyData, err = os.ReadFile(keyPath)
				require.NoError(t, err)
			case string:
				keyData = []byte(k)
			default:
				keyData, err = json.Marshal(k)
				require.NoError(t, err)
			}
			require.NoError(t, os.WriteFile(kp, keyData, keyFilePerm))
			if tc.state != "" {
				require.NoError(t, os.WriteFile(sp, []byte(tc.state), stateFilePerm))
			}

			_, err := NewFilePV(kp, sp)
			require.Error(t, err)
		})
	}
}

func hexKey(t *testing.T, keyPath string) string {
	t.Helper()
	data, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	var key FilePVKey
	require.NoError(t, json.Unmarshal(data, &key))
	return key.PrivKeys[0]
}
