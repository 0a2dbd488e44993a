package keychain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gabapcia/coinconn/internal/connregistry"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
)

// Litecoin only needs the address encoding magics on top of the bitcoin
// parameters: consensus fields are never consulted for derivation.
var (
	litecoinMainNetParams = deriveParams(chaincfg.MainNetParams, "litecoin-mainnet", paramsOverride{
		bech32HRP:      "ltc",
		pubKeyHashID:   0x30, // L
		scriptHashID:   0x32, // M
		privateKeyID:   0xb0,
		hdPrivateKeyID: [4]byte{0x04, 0x88, 0xad, 0xe4},
		hdPublicKeyID:  [4]byte{0x04, 0x88, 0xb2, 0x1e},
		hdCoinType:     2,
	})

	litecoinTestNet4Params = deriveParams(chaincfg.TestNet3Params, "litecoin-testnet4", paramsOverride{
		bech32HRP:      "tltc",
		pubKeyHashID:   0x6f,
		scriptHashID:   0x3a,
		privateKeyID:   0xef,
		hdPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94},
		hdPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf},
		hdCoinType:     1,
	})
)

var networks = map[connregistry.CurrencyID]map[string]*chaincfg.Params{
	"bitcoin": {
		NetworkMainnet: &chaincfg.MainNetParams,
		NetworkTestnet: &chaincfg.TestNet3Params,
		NetworkRegtest: &chaincfg.RegressionNetParams,
	},
	"litecoin": {
		NetworkMainnet: &litecoinMainNetParams,
		NetworkTestnet: &litecoinTestNet4Params,
	},
}

type paramsOverride struct {
	bech32HRP      string
	pubKeyHashID   byte
	scriptHashID   byte
	privateKeyID   byte
	hdPrivateKeyID [4]byte
	hdPublicKeyID  [4]byte
	hdCoinType     uint32
}

func deriveParams(base chaincfg.Params, name string, o paramsOverride) chaincfg.Params {
	base.Name = name
	base.Bech32HRPSegwit = o.bech32HRP
	base.PubKeyHashAddrID = o.pubKeyHashID
	base.ScriptHashAddrID = o.scriptHashID
	base.PrivateKeyID = o.privateKeyID
	base.HDPrivateKeyID = o.hdPrivateKeyID
	base.HDPublicKeyID = o.hdPublicKeyID
	base.HDCoinType = o.hdCoinType
	return base
}

// Params returns the chain parameters used to encode addresses of currency
// on network.
func Params(currency connregistry.CurrencyID, network string) (*chaincfg.Params, error) {
	byNetwork, ok := networks[currency]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}

	params, ok := byNetwork[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownNetwork, network, currency)
	}
	return params, nil
}
