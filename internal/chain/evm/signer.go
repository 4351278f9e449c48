package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/cobaltpay/custody/internal/chain"
)

var erc20TransferMethodID = common.Hex2Bytes("a9059cbb")

const (
	nativeTransferGasLimit = 21000
	erc20TransferGasLimit  = 100000
	baseFeeMultiplier      = 2
)

// SignAndSend builds, signs (EIP-1559) and broadcasts a transfer. Callers
// serialize invocations per hot wallet; this method performs no nonce
// coordination of its own beyond reading the pending nonce.
func (a *Adapter) SignAndSend(ctx context.Context, privateKey []byte, token chain.Token, toAddress string, amount *big.Int) (string, error) {
	ecdsaKey, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to convert private key to ECDSA")
	}

	publicKey, ok := ecdsaKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", errors.New("failed to cast public key to ECDSA")
	}
	from := crypto.PubkeyToAddress(*publicKey)

	var (
		nonce   uint64
		tipCap  *big.Int
		baseFee *big.Int
	)
	err = a.client.do(ctx, func(c *ethclient.Client) error {
		n, err := c.PendingNonceAt(ctx, from)
		if err != nil {
			return errors.Wrap(err, "failed to get pending nonce")
		}
		tip, err := c.SuggestGasTipCap(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to suggest gas tip cap")
		}
		header, err := c.HeaderByNumber(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to get latest header")
		}
		if header.BaseFee == nil {
			return errors.New("chain does not support EIP-1559 (baseFee is nil)")
		}
		nonce, tipCap, baseFee = n, tip, header.BaseFee
		return nil
	})
	if err != nil {
		return "", chain.Unavailable(err, "failed to prepare transaction")
	}

	// MaxFee = BaseFee * 2 + TipCap
	maxFee := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(baseFeeMultiplier)), tipCap)

	to := common.HexToAddress(toAddress)
	value := amount
	gasLimit := uint64(nativeTransferGasLimit)
	var data []byte

	if !token.IsNative() {
		// transfer(address,uint256) against the token contract
		data = make([]byte, 0, len(erc20TransferMethodID)+2*abiWordLength)
		data = append(data, erc20TransferMethodID...)
		data = append(data, common.LeftPadBytes(to.Bytes(), abiWordLength)...)
		data = append(data, common.BigToHash(amount).Bytes()...)

		to = common.HexToAddress(token.Contract)
		value = big.NewInt(0)
		gasLimit = erc20TransferGasLimit
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(a.cfg.NumericID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(big.NewInt(a.cfg.NumericID)), ecdsaKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign transaction")
	}

	err = a.client.do(ctx, func(c *ethclient.Client) error {
		return c.SendTransaction(ctx, signedTx)
	})
	if err != nil {
		return "", classifyBroadcastError(err)
	}

	return signedTx.Hash().Hex(), nil
}

// Node responses for transactions the pool will never accept. Anything the
// gas estimate missed still has to surface as terminal here, or the
// withdrawal would be rebroadcast every cycle forever.
var broadcastRejections = []string{
	"nonce too low",
	"transaction underpriced",
	"replacement transaction underpriced",
	"insufficient funds for gas",
	"exceeds block gas limit",
	"intrinsic gas too low",
	"invalid sender",
	"oversized data",
}

func classifyBroadcastError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, rejection := range broadcastRejections {
		if strings.Contains(msg, rejection) {
			return chain.Rejected(err, "node rejected transaction")
		}
	}

	return chain.Unavailable(err, "failed to broadcast transaction")
}

// EstimateFee returns a conservative upper bound of the native-asset
// cost of one transfer at current fee levels.
func (a *Adapter) EstimateFee(ctx context.Context, token chain.Token) (*big.Int, error) {
	var tipCap, baseFee *big.Int
	err := a.client.do(ctx, func(c *ethclient.Client) error {
		tip, err := c.SuggestGasTipCap(ctx)
		if err != nil {
			return err
		}
		header, err := c.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if header.BaseFee == nil {
			return errors.New("chain does not support EIP-1559 (baseFee is nil)")
		}
		tipCap, baseFee = tip, header.BaseFee
		return nil
	})
	if err != nil {
		return nil, chain.Unavailable(err, "failed to estimate fee budget")
	}

	maxFee := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(baseFeeMultiplier)), tipCap)
	gasLimit := int64(nativeTransferGasLimit)
	if !token.IsNative() {
		gasLimit = erc20TransferGasLimit
	}

	return new(big.Int).Mul(maxFee, big.NewInt(gasLimit)), nil
}
