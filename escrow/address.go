package escrow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DepositAddress derives the deposit address for an escrow deterministically
// from its identifier and currency. BTC escrows get a testnet-style bech32
// prefix; ckBTC escrows a custodial account reference.
func DepositAddress(id string, currency Currency) string {
	sum := sha256.Sum256([]byte(string(currency) + ":" + id))
	switch currency {
	case CurrencyCkBTC:
		return fmt.Sprintf("ckbtc-%s-%s", strings.ToLower(id), hex.EncodeToString(sum[:8]))
	default:
		return "tb1q" + hex.EncodeToString(sum[:16])
	}
}
