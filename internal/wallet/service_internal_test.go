package wallet

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/cobaltpay/custody/internal/chain"
	"github.com/cobaltpay/custody/internal/config"
)

func TestSchemeFor(t *testing.T) {
	assert.Equal(t, "secp256k1", schemeFor(chain.FamilyEVM))
	assert.Equal(t, "solana", schemeFor(chain.FamilySolana))
	assert.Equal(t, "sui", schemeFor(chain.FamilySui))
	assert.Equal(t, "filecoin", schemeFor(chain.FamilyFilecoin))
}

func TestValidateToken(t *testing.T) {
	s := &service{chains: map[string]config.Chain{
		"ethereum": {ID: "ethereum", Tokens: []config.Token{
			{Symbol: "ETH"},
			{Symbol: "USDC", Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		}},
	}}

	assert.NoError(t, s.validateToken("ethereum", "ETH"))
	assert.NoError(t, s.validateToken("ethereum", "USDC"))

	err := s.validateToken("ethereum", "DOGE")
	assert.True(t, errors.Is(err, ErrUnknownToken))

	// Chains without token config accept any symbol; the registry already
	// gates on known chains.
	assert.NoError(t, s.validateToken("base", "ETH"))
}
