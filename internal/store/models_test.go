package store_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltpay/custody/internal/store"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "zero", in: "0", want: "0"},
		{name: "wei scale", in: "1000000000000000000", want: "1000000000000000000"},
		{name: "beyond uint64", in: "115792089237316195423570985008687907853269984665640564039457584007913129639935", want: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
		{name: "negative", in: "-5", want: "-5"},
		{name: "empty", in: "", wantErr: true},
		{name: "decimal point", in: "1.5", wantErr: true},
		{name: "hex", in: "0x10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ParseAmount(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0", store.FormatAmount(nil))
	assert.Equal(t, "0", store.FormatAmount(big.NewInt(0)))
	assert.Equal(t, "42", store.FormatAmount(big.NewInt(42)))

	big18, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1000000000000000000", store.FormatAmount(big18))
}

func TestWalletAvailable(t *testing.T) {
	w := &store.Wallet{Balance: "1000", LockedBalance: "250"}

	available, err := w.Available()
	require.NoError(t, err)
	assert.Equal(t, "750", available.String())
}

func TestWalletAvailableInvalidBalance(t *testing.T) {
	w := &store.Wallet{Balance: "bogus", LockedBalance: "0"}

	_, err := w.Available()
	assert.Error(t, err)
}

func TestWithdrawalReservedBig(t *testing.T) {
	w := &store.Withdrawal{Amount: "1000", Fee: "21"}

	reserved, err := w.ReservedBig()
	require.NoError(t, err)
	assert.Equal(t, "1021", reserved.String())
}
