package engine

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/finalberry/confirm"
	"github.com/blockberries/finalberry/feature"
	"github.com/blockberries/finalberry/types"
)

const (
	genesisSlot     types.BlockTimestamp = 24
	genesisProducer types.AccountName    = "genesis"
)

// keyring holds one or more private keys per producer. The last key of a
// producer signs the primary signature.
type keyring map[types.AccountName][]*btcec.PrivateKey

func newKeyring(t *testing.T, names ...types.AccountName) keyring {
	t.Helper()
	k := make(keyring)
	for _, name := range names {
		k.add(t, name, 1)
	}
	return k
}

func (k keyring) add(t *testing.T, name types.AccountName, n int) {
	t.Helper()
	k[name] = nil
	for i := 0; i < n; i++ {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		k[name] = append(k[name], priv)
	}
}

func (k keyring) pub(name types.AccountName) types.PublicKey {
	keys := k[name]
	return types.PublicKeyOf(keys[len(keys)-1])
}

// authority requires every key of name.
func (k keyring) authority(name types.AccountName) types.BlockSigningAuthority {
	keys := k[name]
	if len(keys) == 1 {
		return types.NewSingleKeyAuthority(types.PublicKeyOf(keys[0]))
	}
	auth := types.BlockSigningAuthority{Threshold: uint32(len(keys))}
	for _, priv := range keys {
		auth.Keys = append(auth.Keys, types.KeyWeight{Key: types.PublicKeyOf(priv), Weight: 1})
	}
	return auth
}

func (k keyring) schedule(version uint32, names ...types.AccountName) types.ProducerAuthoritySchedule {
	s := types.ProducerAuthoritySchedule{Version: version}
	for _, name := range names {
		s.Producers = append(s.Producers, types.ProducerAuthority{Name: name, Authority: k.authority(name)})
	}
	return s
}

func (k keyring) signer(name types.AccountName) Signer {
	return signWith(k[name]...)
}

func signWith(keys ...*btcec.PrivateKey) Signer {
	return func(d types.Digest) ([]types.Signature, error) {
		sigs := make([]types.Signature, 0, len(keys))
		for _, priv := range keys {
			sig, err := types.SignDigest(priv, d)
			if err != nil {
				return nil, err
			}
			sigs = append(sigs, sig)
		}
		return sigs, nil
	}
}

func (k keyring) genesis() Genesis {
	return Genesis{Timestamp: genesisSlot, Producer: genesisProducer, Key: k.pub(genesisProducer)}
}

func newGenesisState(t *testing.T, k keyring, kind confirm.Kind) *BlockHeaderState {
	t.Helper()
	s, err := NewGenesisState(k.genesis(), kind)
	require.NoError(t, err)
	return s
}

func defaultSet(t *testing.T) *feature.Set {
	t.Helper()
	set, err := feature.NewDefaultSet()
	require.NoError(t, err)
	return set
}

func builtinDigest(t *testing.T, set *feature.Set, b feature.Builtin) types.Digest {
	t.Helper()
	d, ok := set.BuiltinDigest(b)
	require.True(t, ok)
	return d
}

func u16(v uint16) *uint16 {
	return &v
}
