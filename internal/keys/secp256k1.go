package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

const hardenedOffset = uint32(0x80000000)

// evmPath returns the BIP44 path indices for m/44'/60'/0'/0/{index}.
func evmPath(index uint32) []uint32 {
	return []uint32{
		44 + hardenedOffset,
		60 + hardenedOffset,
		hardenedOffset,
		0,
		index,
	}
}

// deriveSecp256k1 derives the EVM keypair and EIP-55 address at index.
func deriveSecp256k1(seed []byte, index uint32) (string, []byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to create master key")
	}

	key := masterKey
	for _, i := range evmPath(index) {
		key, err = key.NewChildKey(i)
		if err != nil {
			return "", nil, errors.Wrapf(err, "failed to derive child key at index %d", i)
		}
	}

	priv := make([]byte, len(key.Key))
	copy(priv, key.Key)

	ecdsaKey, err := crypto.ToECDSA(priv)
	if err != nil {
		Zero(priv)
		return "", nil, errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	publicKey, ok := ecdsaKey.Public().(*ecdsa.PublicKey)
	if !ok {
		Zero(priv)
		return "", nil, errors.New("failed to cast public key to ECDSA")
	}

	return crypto.PubkeyToAddress(*publicKey).Hex(), priv, nil
}

// EVMPathString renders the derivation path for audit records.
func EVMPathString(index uint32) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}
