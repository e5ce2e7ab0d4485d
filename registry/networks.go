package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/xpay/types"
)

// Built-in network ids
const (
	Ethereum      types.NetworkID = "ethereum"
	Sepolia       types.NetworkID = "sepolia"
	Base          types.NetworkID = "base"
	BaseSepolia   types.NetworkID = "base-sepolia"
	Polygon       types.NetworkID = "polygon"
	PolygonAmoy   types.NetworkID = "polygon-amoy"
	Arbitrum      types.NetworkID = "arbitrum"
	Optimism      types.NetworkID = "optimism"
	Avalanche     types.NetworkID = "avalanche"
	AvalancheFuji types.NetworkID = "avalanche-fuji"
	Gnosis        types.NetworkID = "gnosis"
	Anvil         types.NetworkID = "anvil"
)

type builtin struct {
	desc types.NetworkDescriptor
	usdc string
}

func evm(id types.NetworkID, chainID int64, name, native, explorer string, bridging, testnet bool) types.NetworkDescriptor {
	d := types.NetworkDescriptor{
		ID:               id,
		ChainID:          big.NewInt(chainID),
		DisplayName:      name,
		NativeSymbol:     native,
		NativeDecimals:   18,
		SupportsBridging: bridging,
		ExplorerURL:      explorer,
		Testnet:          testnet,
	}
	// bridge domains follow chain ids on EVM deployments
	if bridging {
		d.BridgeDomain = uint32(chainID)
	}
	return d
}

var builtins = []builtin{
	{evm(Ethereum, 1, "Ethereum", "ETH", "https://etherscan.io", true, false), "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	{evm(Sepolia, 11155111, "Sepolia", "ETH", "https://sepolia.etherscan.io", true, true), "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"},
	{evm(Base, 8453, "Base", "ETH", "https://basescan.org", true, false), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
	{evm(BaseSepolia, 84532, "Base Sepolia", "ETH", "https://sepolia.basescan.org", true, true), "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
	{evm(Polygon, 137, "Polygon", "POL", "https://polygonscan.com", true, false), "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"},
	{evm(PolygonAmoy, 80002, "Polygon Amoy", "POL", "https://amoy.polygonscan.com", true, true), "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"},
	{evm(Arbitrum, 42161, "Arbitrum One", "ETH", "https://arbiscan.io", true, false), "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"},
	{evm(Optimism, 10, "OP Mainnet", "ETH", "https://optimistic.etherscan.io", true, false), "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"},
	{evm(Avalanche, 43114, "Avalanche C-Chain", "AVAX", "https://snowtrace.io", true, false), "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"},
	{evm(AvalancheFuji, 43113, "Avalanche Fuji", "AVAX", "https://testnet.snowtrace.io", true, true), "0x5425890298aed601595a70AB815c96711a31Bc65"},
	{evm(Gnosis, 100, "Gnosis", "XDAI", "https://gnosisscan.io", false, false), "0xDDAfbb505ad214D7b80b1f830fcCc89B60fb7A83"},
	{evm(Anvil, 31337, "Anvil (local)", "ETH", "", true, true), ""},
}

func usdc(addr string) types.TokenInfo {
	return types.TokenInfo{Symbol: "USDC", Address: common.HexToAddress(addr), Decimals: 6}
}
