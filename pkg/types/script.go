package types

// ScriptType is the standard script classification reported by the node
// (the "type" field of a scriptPubKey).
type ScriptType string

const (
	ScriptTypePubKey        ScriptType = "pubkey"                // Pay to raw public key (P2PK)
	ScriptTypePubKeyHash    ScriptType = "pubkeyhash"            // P2PKH
	ScriptTypeScriptHash    ScriptType = "scripthash"            // P2SH
	ScriptTypeMultisig      ScriptType = "multisig"              // Bare multisig
	ScriptTypeNullData      ScriptType = "nulldata"              // OP_RETURN, unspendable
	ScriptTypeWitnessV0Key  ScriptType = "witness_v0_keyhash"    // P2WPKH
	ScriptTypeWitnessV0Hash ScriptType = "witness_v0_scripthash" // P2WSH
	ScriptTypeWitnessV1     ScriptType = "witness_v1_taproot"    // P2TR
	ScriptTypeNonStandard   ScriptType = "nonstandard"
)

// String returns the node's name for the script type.
func (st ScriptType) String() string {
	if st == "" {
		return "unknown"
	}
	return string(st)
}

// IsPubKey reports whether the script pays to a bare public key, in which
// case the node does not report an address and one must be derived.
func (st ScriptType) IsPubKey() bool {
	return st == ScriptTypePubKey
}

// Script is a locking or unlocking script in both encodings the node returns.
type Script struct {
	Type ScriptType `json:"type,omitempty"`
	Hex  string     `json:"hex"`
	Asm  string     `json:"asm"`
}
