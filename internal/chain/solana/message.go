package solana

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/pkg/errors"
)

// Legacy message wire format: header, compact account-key array, recent
// blockhash, compact instruction array. Only the two instruction shapes the
// withdrawal path needs are encoded here.

const (
	pubkeyLength    = 32
	blockhashLength = 32

	systemTransferIndex = uint32(2)
	tokenTransferIndex  = byte(3)
)

// appendCompactU16 appends the shortvec-encoded length.
func appendCompactU16(b []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(b, byte(v))
		}
		b = append(b, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

func decodeKey(s string) ([]byte, error) {
	raw := base58.Decode(s)
	if len(raw) != pubkeyLength {
		return nil, errors.Errorf("invalid account key %q", s)
	}
	return raw, nil
}

type messageBuilder struct {
	keys            [][]byte
	numSigners      byte
	numReadonly     byte
	blockhash       []byte
	programIndex    byte
	accountIndexes  []byte
	instructionData []byte
}

func (m *messageBuilder) serialize() []byte {
	out := []byte{m.numSigners, 0, m.numReadonly}

	out = appendCompactU16(out, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k...)
	}

	out = append(out, m.blockhash...)

	out = appendCompactU16(out, 1) // one instruction
	out = append(out, m.programIndex)
	out = appendCompactU16(out, len(m.accountIndexes))
	out = append(out, m.accountIndexes...)
	out = appendCompactU16(out, len(m.instructionData))
	out = append(out, m.instructionData...)

	return out
}

// buildNativeTransferMessage encodes a system-program transfer of lamports
// from -> to.
func buildNativeTransferMessage(from, to, blockhash string, lamports uint64) ([]byte, error) {
	fromKey, err := decodeKey(from)
	if err != nil {
		return nil, err
	}
	toKey, err := decodeKey(to)
	if err != nil {
		return nil, err
	}
	program, err := decodeKey(systemProgram)
	if err != nil {
		return nil, err
	}
	hash := base58.Decode(blockhash)
	if len(hash) != blockhashLength {
		return nil, errors.Errorf("invalid blockhash %q", blockhash)
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	b := &messageBuilder{
		keys:            [][]byte{fromKey, toKey, program},
		numSigners:      1,
		numReadonly:     1, // the program account
		blockhash:       hash,
		programIndex:    2,
		accountIndexes:  []byte{0, 1},
		instructionData: data,
	}

	return b.serialize(), nil
}

// buildTokenTransferMessage encodes a token-program transfer between two token
// accounts, authorized by owner.
func buildTokenTransferMessage(owner, sourceAccount, destAccount, blockhash string, amount uint64) ([]byte, error) {
	ownerKey, err := decodeKey(owner)
	if err != nil {
		return nil, err
	}
	sourceKey, err := decodeKey(sourceAccount)
	if err != nil {
		return nil, err
	}
	destKey, err := decodeKey(destAccount)
	if err != nil {
		return nil, err
	}
	program, err := decodeKey(tokenProgram)
	if err != nil {
		return nil, err
	}
	hash := base58.Decode(blockhash)
	if len(hash) != blockhashLength {
		return nil, errors.Errorf("invalid blockhash %q", blockhash)
	}

	data := make([]byte, 9)
	data[0] = tokenTransferIndex
	binary.LittleEndian.PutUint64(data[1:9], amount)

	b := &messageBuilder{
		keys:            [][]byte{ownerKey, sourceKey, destKey, program},
		numSigners:      1,
		numReadonly:     1,
		blockhash:       hash,
		programIndex:    3,
		accountIndexes:  []byte{1, 2, 0}, // source, destination, authority
		instructionData: data,
	}

	return b.serialize(), nil
}

// serializeTransaction prepends the compact signature array to the message.
func serializeTransaction(signature, message []byte) []byte {
	out := appendCompactU16(nil, 1)
	out = append(out, signature...)
	out = append(out, message...)
	return out
}
