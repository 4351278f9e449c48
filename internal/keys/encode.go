package keys

import (
	"crypto/ed25519"
	"encoding/base32"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Address encodings per chain family. These are the only places in the
// codebase that know native address formats; adapters and the withdrawal
// validator both lean on them.

// SolanaAddress encodes an ed25519 public key as a base58 account address.
func SolanaAddress(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// suiSchemeFlag marks an ed25519 key in address hashing.
const suiSchemeFlag = byte(0x00)

// SuiAddress encodes an ed25519 public key as 0x + hex(blake2b-256(flag‖key)).
func SuiAddress(pub ed25519.PublicKey) string {
	payload := make([]byte, 0, 1+len(pub))
	payload = append(payload, suiSchemeFlag)
	payload = append(payload, pub...)
	digest := blake2b.Sum256(payload)

	return "0x" + hex.EncodeToString(digest[:])
}

const (
	actorPrefix        = "f1"
	actorPayloadLength = 20
	actorChecksumSize  = 4
)

var actorBase32 = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ActorAddress encodes an ed25519 public key as an f1-style address: prefix,
// then base32 of blake2b-160(key) followed by a 4-byte blake2b checksum over
// protocol byte + payload.
func ActorAddress(pub ed25519.PublicKey) string {
	payload := actorHash(pub, actorPayloadLength)
	checksum := actorHash(append([]byte{1}, payload...), actorChecksumSize)

	return actorPrefix + actorBase32.EncodeToString(append(payload, checksum...))
}

func actorHash(data []byte, size int) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		// Size is a compile-time constant within blake2b's limits.
		panic(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

func validEVMAddress(address string) bool {
	return common.IsHexAddress(address)
}

func validSolanaAddress(address string) bool {
	raw := base58.Decode(address)
	return len(raw) == ed25519.PublicKeySize
}

func validSuiAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) != 2+2*32 {
		return false
	}
	_, err := hex.DecodeString(address[2:])
	return err == nil
}

func validActorAddress(address string) bool {
	if !strings.HasPrefix(address, actorPrefix) {
		return false
	}

	raw, err := actorBase32.DecodeString(address[len(actorPrefix):])
	if err != nil || len(raw) != actorPayloadLength+actorChecksumSize {
		return false
	}

	payload := raw[:actorPayloadLength]
	checksum := actorHash(append([]byte{1}, payload...), actorChecksumSize)

	for i := range checksum {
		if checksum[i] != raw[actorPayloadLength+i] {
			return false
		}
	}

	return true
}
