package source

import (
	"encoding/hex"
	"math"
	"strings"

	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/crypto"
	"github.com/donutAnees/Cluster-Bitcoin-Address/pkg/types"
)

// Wire shapes of getblock (verbosity 1) and getrawtransaction
// (verbosity 2) replies. Only the fields the engine uses are decoded.

type rawBlock struct {
	Hash   string   `json:"hash"`
	Height uint64   `json:"height"`
	Tx     []string `json:"tx"`
}

type rawScriptPubKey struct {
	Type    string `json:"type"`
	Hex     string `json:"hex"`
	Asm     string `json:"asm"`
	Address string `json:"address"`
	// Nodes before v22 report a one-element list instead of address.
	Addresses []string `json:"addresses"`
}

type rawScriptSig struct {
	Hex string `json:"hex"`
	Asm string `json:"asm"`
}

type rawPrevout struct {
	Value        float64         `json:"value"`
	ScriptPubKey rawScriptPubKey `json:"scriptPubKey"`
}

type rawVin struct {
	Coinbase  string        `json:"coinbase"`
	TxID      string        `json:"txid"`
	Vout      uint32        `json:"vout"`
	ScriptSig *rawScriptSig `json:"scriptSig"`
	Prevout   *rawPrevout   `json:"prevout"`
}

type rawVout struct {
	Value        float64         `json:"value"`
	N            uint32          `json:"n"`
	ScriptPubKey rawScriptPubKey `json:"scriptPubKey"`
}

type rawTransaction struct {
	TxID      string    `json:"txid"`
	BlockHash string    `json:"blockhash"`
	Vin       []rawVin  `json:"vin"`
	Vout      []rawVout `json:"vout"`
}

// btcToSat converts a BTC amount as reported by the node to satoshis.
// It uses math.Round to avoid floating-point truncation.
func btcToSat(btc float64) uint64 {
	if btc <= 0 {
		return 0
	}
	return uint64(math.Round(btc * 1e8))
}

func (s rawScriptPubKey) script() types.Script {
	return types.Script{Type: types.ScriptType(s.Type), Hex: s.Hex, Asm: s.Asm}
}

// resolveAddress returns the address a locking script pays to. Bare
// public-key scripts have none in the node's reply, so one is derived from
// the key. Scripts with no address form, and keys that are not valid
// curve points, resolve to "".
func resolveAddress(s rawScriptPubKey) string {
	if types.ScriptType(s.Type).IsPubKey() {
		key := pubKeyFromScript(s)
		if key == "" {
			return ""
		}
		addr, err := crypto.AddressFromPubKeyHex(key)
		if err != nil {
			return ""
		}
		return addr
	}
	if s.Address != "" {
		return s.Address
	}
	if len(s.Addresses) == 1 {
		return s.Addresses[0]
	}
	return ""
}

// pubKeyFromScript extracts the hex public key of a pay-to-pubkey script,
// from the asm "<key> OP_CHECKSIG" or, failing that, from the raw push
// "<len> <key> OP_CHECKSIG".
func pubKeyFromScript(s rawScriptPubKey) string {
	if fields := strings.Fields(s.Asm); len(fields) == 2 && fields[1] == "OP_CHECKSIG" {
		return fields[0]
	}
	raw, err := hex.DecodeString(s.Hex)
	if err != nil || len(raw) < 2 {
		return ""
	}
	n := int(raw[0])
	if (n != 33 && n != 65) || len(raw) != n+2 || raw[n+1] != 0xac {
		return ""
	}
	return hex.EncodeToString(raw[1 : n+1])
}

func decodeOutput(v rawVout) types.Output {
	return types.Output{
		Index:        v.N,
		Value:        btcToSat(v.Value),
		Address:      resolveAddress(v.ScriptPubKey),
		ScriptPubKey: v.ScriptPubKey.script(),
	}
}

// decodeInput converts one input. prev is the spent output when the
// reply did not carry a prevout; it may be nil for coinbase inputs.
func decodeInput(v rawVin, prev *rawVout) types.Input {
	in := types.Input{
		Prev:     types.Outpoint{TxID: v.TxID, Index: v.Vout},
		Coinbase: v.Coinbase != "",
	}
	if v.ScriptSig != nil {
		in.ScriptSig = types.Script{Hex: v.ScriptSig.Hex, Asm: v.ScriptSig.Asm}
	}
	var spk *rawScriptPubKey
	switch {
	case v.Prevout != nil:
		in.Value = btcToSat(v.Prevout.Value)
		spk = &v.Prevout.ScriptPubKey
	case prev != nil:
		in.Value = btcToSat(prev.Value)
		spk = &prev.ScriptPubKey
	}
	if spk != nil {
		in.Address = resolveAddress(*spk)
		in.PrevScript = spk.script()
	}
	return in
}
