package keys_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/keys"
)

// Fixed test vector, do not use anywhere near real funds.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestService(t *testing.T) keys.Service {
	t.Helper()

	seeds := keys.NewSeedManager()
	require.NoError(t, seeds.Initialize(testMnemonic, ""))
	t.Cleanup(seeds.Clear)

	svc, err := keys.NewService(seeds)
	require.NoError(t, err)

	return svc
}

func TestDeriveIsDeterministic(t *testing.T) {
	svc := newTestService(t)

	families := []chain.Family{chain.FamilyEVM, chain.FamilySolana, chain.FamilySui, chain.FamilyFilecoin}

	for _, family := range families {
		t.Run(string(family), func(t *testing.T) {
			addr1, priv1, err := svc.Derive(family, 7)
			require.NoError(t, err)
			addr2, priv2, err := svc.Derive(family, 7)
			require.NoError(t, err)

			assert.Equal(t, addr1, addr2)
			assert.Equal(t, priv1, priv2)

			keys.Zero(priv1)
			keys.Zero(priv2)
		})
	}
}

func TestDeriveDistinctAcrossIndexes(t *testing.T) {
	svc := newTestService(t)

	const n = 10_000

	for _, family := range []chain.Family{chain.FamilyEVM, chain.FamilySolana} {
		seen := make(map[string]uint32, n)
		for i := uint32(0); i < n; i++ {
			addr, err := svc.Address(family, i)
			require.NoError(t, err)

			prev, dup := seen[addr]
			require.Falsef(t, dup, "index %d collides with index %d on %s", i, prev, family)
			seen[addr] = i
		}
	}
}

func TestDeriveAddressFormats(t *testing.T) {
	svc := newTestService(t)

	evm, err := svc.Address(chain.FamilyEVM, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(evm, "0x"))
	assert.Len(t, evm, 42)
	assert.True(t, svc.ValidAddress(chain.FamilyEVM, evm))

	sol, err := svc.Address(chain.FamilySolana, 0)
	require.NoError(t, err)
	assert.True(t, svc.ValidAddress(chain.FamilySolana, sol))

	sui, err := svc.Address(chain.FamilySui, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sui, "0x"))
	assert.Len(t, sui, 66)
	assert.True(t, svc.ValidAddress(chain.FamilySui, sui))

	fil, err := svc.Address(chain.FamilyFilecoin, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fil, "f1"))
	assert.True(t, svc.ValidAddress(chain.FamilyFilecoin, fil))
}

func TestValidAddressRejectsForeignFormats(t *testing.T) {
	svc := newTestService(t)

	evm, err := svc.Address(chain.FamilyEVM, 0)
	require.NoError(t, err)
	sol, err := svc.Address(chain.FamilySolana, 0)
	require.NoError(t, err)

	assert.False(t, svc.ValidAddress(chain.FamilySolana, evm))
	assert.False(t, svc.ValidAddress(chain.FamilyEVM, sol))
	assert.False(t, svc.ValidAddress(chain.FamilyEVM, ""))
	assert.False(t, svc.ValidAddress(chain.FamilyEVM, "0x123"))
	assert.False(t, svc.ValidAddress(chain.FamilyFilecoin, "t1abcdef"))
	assert.False(t, svc.ValidAddress(chain.Family("unknown"), evm))
}

func TestDeriveRequiresInitializedSeed(t *testing.T) {
	svc, err := keys.NewService(keys.NewSeedManager())
	require.NoError(t, err)

	_, _, err = svc.Derive(chain.FamilyEVM, 0)
	assert.Error(t, err)
}

func TestSeedManagerClearZeroes(t *testing.T) {
	seeds := keys.NewSeedManager()
	require.NoError(t, seeds.Initialize(testMnemonic, ""))
	require.True(t, seeds.IsInitialized())

	seed := seeds.Seed()
	require.NotEmpty(t, seed)

	seeds.Clear()
	assert.False(t, seeds.IsInitialized())
	assert.Nil(t, seeds.Seed())
}

func TestSeedManagerRejectsInvalidMnemonic(t *testing.T) {
	seeds := keys.NewSeedManager()
	assert.Error(t, seeds.Initialize("definitely not a valid mnemonic phrase", ""))
}

func TestPassphraseChangesSeed(t *testing.T) {
	plain := keys.NewSeedManager()
	require.NoError(t, plain.Initialize(testMnemonic, ""))
	defer plain.Clear()

	protected := keys.NewSeedManager()
	require.NoError(t, protected.Initialize(testMnemonic, "hunter2"))
	defer protected.Clear()

	assert.NotEqual(t, plain.Seed(), protected.Seed())
}

func TestZero(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	keys.Zero(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}
