package registry

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/xpay/types"
)

func TestBuiltins(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	base, ok := r.ByChainID(big.NewInt(8453))
	require.True(t, ok)
	assert.Equal(t, Base, base.ID)
	assert.True(t, base.SupportsBridging)
	assert.Equal(t, uint32(8453), base.BridgeDomain)

	assert.False(t, r.SupportsBridging(Gnosis))
	assert.False(t, r.SupportsBridging("unknown"))

	_, ok = r.ByChainID(big.NewInt(999999))
	assert.False(t, ok)

	tok, ok := r.Token(Base, "usdc")
	require.True(t, ok)
	assert.Equal(t, int32(6), tok.Decimals)
	assert.Equal(t, common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), tok.Address)
}

func TestAllSorted(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	all := r.All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, string(all[i-1].ID), string(all[i].ID))
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	d, _ := r.Get(Ethereum)
	d.ChainID.SetInt64(42)
	d.DisplayName = "mutated"

	again, _ := r.Get(Ethereum)
	assert.Equal(t, int64(1), again.ChainID.Int64())
	assert.Equal(t, "Ethereum", again.DisplayName)
}

func TestOverrides(t *testing.T) {
	off := false
	router := common.HexToAddress("0x9999999999999999999999999999999999999999")

	r, err := New(
		Override{ID: Polygon, SupportsBridging: &off},
		Override{ID: Base, Router: router, QuoteURL: "https://quotes.example/base"},
		Override{
			ID:      "devnet",
			ChainID: big.NewInt(1337),
			Tokens:  []types.TokenInfo{{Symbol: "tusd", Address: common.HexToAddress("0x1234"), Decimals: 18}},
		},
	)
	require.NoError(t, err)

	assert.False(t, r.SupportsBridging(Polygon))

	route, ok := r.Route(Base)
	require.True(t, ok)
	assert.Equal(t, router, route.Router)
	assert.Equal(t, "https://quotes.example/base", r.QuoteURL(Base))

	_, ok = r.Route(Ethereum)
	assert.False(t, ok)

	dev, ok := r.ByChainID(big.NewInt(1337))
	require.True(t, ok)
	assert.Equal(t, types.NetworkID("devnet"), dev.ID)

	_, ok = r.Token("devnet", "TUSD")
	assert.True(t, ok)
}

func TestOverrideErrors(t *testing.T) {
	_, err := New(Override{ID: "nochain"})
	assert.Error(t, err)

	_, err = New(Override{ID: Base, ChainID: big.NewInt(1)})
	assert.Error(t, err)

	_, err = New(Override{ID: "clash", ChainID: big.NewInt(8453)})
	assert.Error(t, err)
}
