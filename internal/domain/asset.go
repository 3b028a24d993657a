package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// lovelaceKey is the canonical text form of the ledger's native asset.
const lovelaceKey = "lovelace"

// AssetClass identifies a ledger asset by minting policy and token name.
// The zero value is lovelace.
type AssetClass struct {
	Policy string // hex-encoded policy id
	Name   string // raw token name bytes
}

// Lovelace is the native asset class.
var Lovelace = AssetClass{}

// NewAssetClass creates an asset class from a hex policy id and a raw token name.
func NewAssetClass(policy, name string) AssetClass {
	return AssetClass{Policy: policy, Name: name}
}

// IsLovelace returns true for the native asset.
func (a AssetClass) IsLovelace() bool {
	return a.Policy == "" && a.Name == ""
}

// Canonical returns "lovelace" for the native asset and "POLICY.HEXNAME" otherwise.
func (a AssetClass) Canonical() string {
	if a.IsLovelace() {
		return lovelaceKey
	}
	return a.Policy + "." + hex.EncodeToString([]byte(a.Name))
}

func (a AssetClass) String() string { return a.Canonical() }

// Less orders asset classes by policy, then by token name bytes.
func (a AssetClass) Less(o AssetClass) bool {
	if a.Policy != o.Policy {
		return a.Policy < o.Policy
	}
	return a.Name < o.Name
}

// ParseAssetClass parses the Canonical form.
func ParseAssetClass(s string) (AssetClass, error) {
	if s == lovelaceKey {
		return Lovelace, nil
	}
	policy, name, ok := strings.Cut(s, ".")
	if !ok || policy == "" {
		return AssetClass{}, fmt.Errorf("invalid asset class %q", s)
	}
	if _, err := hex.DecodeString(policy); err != nil {
		return AssetClass{}, fmt.Errorf("invalid policy id in %q: %w", s, err)
	}
	raw, err := hex.DecodeString(name)
	if err != nil {
		return AssetClass{}, fmt.Errorf("invalid token name in %q: %w", s, err)
	}
	return AssetClass{Policy: policy, Name: string(raw)}, nil
}

func (a AssetClass) MarshalText() ([]byte, error) {
	return []byte(a.Canonical()), nil
}

func (a *AssetClass) UnmarshalText(text []byte) error {
	v, err := ParseAssetClass(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
