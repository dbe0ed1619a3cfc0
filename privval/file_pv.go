package privval

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/blockberries/finalberry/types"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
	dirPerm       = 0700
)

// FilePV is a file-based block signer
type FilePV struct {
	// Key file path
	keyFilePath string
	// State file path
	stateFilePath string

	// Key material
	privKeys []*btcec.PrivateKey
	pubKeys  []types.PublicKey

	// Last sign state (for double-sign prevention)
	guard signGuard
}

var _ BlockSigner = (*FilePV)(nil)

// FilePVKey represents the key file structure
type FilePVKey struct {
	PubKeys  []types.PublicKey `json:"pub_keys"`
	PrivKeys []string          `json:"priv_keys"`
}

// FilePVState represents the state file structure
type FilePVState struct {
	BlockNum   uint32               `json:"block_num"`
	Timestamp  types.BlockTimestamp `json:"timestamp"`
	Digest     *types.Digest        `json:"digest,omitempty"`
	Signatures []string             `json:"signatures,omitempty"`
}

// NewFilePV loads a file-based signer, generating a single key if the key
// file does not exist.
func NewFilePV(keyFilePath, stateFilePath string) (*FilePV, error) {
	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}

	// Load or generate key
	if err := pv.loadKey(); err != nil {
		return nil, err
	}

	// Load or initialize state
	if err := pv.loadState(); err != nil {
		return nil, err
	}

	return pv, nil
}

// GenerateFilePV generates n new keys and writes fresh key and state
// files.
func GenerateFilePV(keyFilePath, stateFilePath string, n int) (*FilePV, error) {
	pv := &FilePV{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}
	if err := pv.generateKeys(n); err != nil {
		return nil, err
	}

	// Save key
	if err := pv.saveKey(); err != nil {
		return nil, err
	}

	// Save initial state
	if err := pv.saveState(LastSignState{}); err != nil {
		return nil, err
	}

	return pv, nil
}

func (pv *FilePV) generateKeys(n int) error {
	if n <= 0 {
		return ErrNoKeys
	}
	pv.privKeys, pv.pubKeys = nil, nil
	for i := 0; i < n; i++ {
		k, err := btcec.NewPrivateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		pv.privKeys = append(pv.privKeys, k)
		pv.pubKeys = append(pv.pubKeys, types.PublicKeyOf(k))
	}
	return nil
}

// loadKey loads the key from file, generating if it doesn't exist
func (pv *FilePV) loadKey() error {
	data, err := os.ReadFile(pv.keyFilePath)
	if os.IsNotExist(err) {
		if err := pv.generateKeys(1); err != nil {
			return err
		}
		return pv.saveKey()
	}
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var key FilePVKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse key file: %w", err)
	}
	if len(key.PrivKeys) == 0 {
		return fmt.Errorf("key file %s: %w", pv.keyFilePath, ErrNoKeys)
	}
	if len(key.PubKeys) != len(key.PrivKeys) {
		return fmt.Errorf("key file %s: %d public keys for %d private keys", pv.keyFilePath, len(key.PubKeys), len(key.PrivKeys))
	}

	for i, s := range key.PrivKeys {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != btcec.PrivKeyBytesLen {
			return fmt.Errorf("key file %s: invalid private key %d", pv.keyFilePath, i)
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		if pub := types.PublicKeyOf(priv); pub != key.PubKeys[i] {
			return fmt.Errorf("key file %s: public key %d does not match private key", pv.keyFilePath, i)
		}
		pv.privKeys = append(pv.privKeys, priv)
		pv.pubKeys = append(pv.pubKeys, key.PubKeys[i])
	}
	return nil
}

// saveKey saves the key to file
func (pv *FilePV) saveKey() error {
	key := FilePVKey{PubKeys: pv.pubKeys}
	for _, k := range pv.privKeys {
		key.PrivKeys = append(key.PrivKeys, hex.EncodeToString(k.Serialize()))
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := writeFileAtomic(pv.keyFilePath, data, keyFilePerm); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// loadState loads the state from file
func (pv *FilePV) loadState() error {
	data, err := os.ReadFile(pv.stateFilePath)
	if os.IsNotExist(err) {
		// Initialize empty state
		return pv.saveState(LastSignState{})
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state FilePVState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	lss := LastSignState{BlockNum: state.BlockNum, Timestamp: state.Timestamp}
	if state.Digest != nil {
		lss.Digest = *state.Digest
	}
	for i, s := range state.Signatures {
		raw, err := hex.DecodeString(s)
		if err != nil || len(raw) != types.SignatureSize {
			return fmt.Errorf("state file %s: invalid signature %d", pv.stateFilePath, i)
		}
		var sig types.Signature
		copy(sig[:], raw)
		lss.Signatures = append(lss.Signatures, sig)
	}
	pv.guard.state = lss
	return nil
}

// saveState saves the state to file
func (pv *FilePV) saveState(lss LastSignState) error {
	state := FilePVState{
		BlockNum:  lss.BlockNum,
		Timestamp: lss.Timestamp,
	}
	if lss.Signatures != nil {
		d := lss.Digest
		state.Digest = &d
	}
	for _, sig := range lss.Signatures {
		state.Signatures = append(state.Signatures, hex.EncodeToString(sig[:]))
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := writeFileAtomic(pv.stateFilePath, data, stateFilePerm); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the same directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// PublicKeys returns the signing keys
func (pv *FilePV) PublicKeys() []types.PublicKey {
	return append([]types.PublicKey(nil), pv.pubKeys...)
}

// SignBlock signs a block, checking for double-sign. The new watermark
// is persisted before the signatures are returned.
func (pv *FilePV) SignBlock(blockNum uint32, ts types.BlockTimestamp, digest types.Digest) ([]types.Signature, error) {
	return pv.guard.sign(blockNum, ts, digest, func() ([]types.Signature, error) {
		return signAll(pv.privKeys, digest)
	}, pv.saveState)
}

// LastSignState returns a copy of the watermark
func (pv *FilePV) LastSignState() LastSignState {
	return pv.guard.last()
}

// Reset resets the last sign state (use with caution!)
func (pv *FilePV) Reset() error {
	return pv.guard.reset(pv.saveState)
}
