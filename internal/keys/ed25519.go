package keys

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
)

// SLIP-0010 coin types per chain family.
const (
	coinTypeSolana   = uint32(501)
	coinTypeSui      = uint32(784)
	coinTypeFilecoin = uint32(461)
)

// ed25519Path returns the hardened SLIP-0010 path for the family at index.
// ed25519 only supports hardened derivation, so every segment is hardened.
func ed25519Path(family chain.Family, index uint32) ([]uint32, error) {
	var coin uint32
	switch family {
	case chain.FamilySolana:
		coin = coinTypeSolana
	case chain.FamilySui:
		coin = coinTypeSui
	case chain.FamilyFilecoin:
		coin = coinTypeFilecoin
	default:
		return nil, errors.Errorf("no ed25519 coin type for family %s", family)
	}

	return []uint32{
		44 + hardenedOffset,
		coin + hardenedOffset,
		index + hardenedOffset,
	}, nil
}

// deriveEd25519 derives an ed25519 seed via SLIP-0010 and encodes the address
// with the family's native rules.
func deriveEd25519(seed []byte, family chain.Family, index uint32) (string, []byte, error) {
	path, err := ed25519Path(family, index)
	if err != nil {
		return "", nil, err
	}

	key, chainCode := slip10MasterKey(seed)
	for _, i := range path {
		key, chainCode = slip10ChildKey(key, chainCode, i)
	}
	Zero(chainCode)

	pub := ed25519.NewKeyFromSeed(key).Public().(ed25519.PublicKey)

	var address string
	switch family {
	case chain.FamilySolana:
		address = SolanaAddress(pub)
	case chain.FamilySui:
		address = SuiAddress(pub)
	case chain.FamilyFilecoin:
		address = ActorAddress(pub)
	default:
		Zero(key)
		return "", nil, errors.Errorf("no address encoding for family %s", family)
	}

	return address, key, nil
}

// slip10MasterKey computes the SLIP-0010 ed25519 master key and chain code.
func slip10MasterKey(seed []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	return sum[:32], sum[32:]
}

// slip10ChildKey computes one hardened child step.
func slip10ChildKey(key, chainCode []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 0, 1+len(key)+4)
	data = append(data, 0x00)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	return sum[:32], sum[32:]
}
