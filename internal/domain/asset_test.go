package domain

import (
	"encoding/json"
	"testing"
)

func TestAssetClassCanonical(t *testing.T) {
	tests := []struct {
		name  string
		asset AssetClass
		want  string
	}{
		{"lovelace", Lovelace, "lovelace"},
		{"text name", NewAssetClass("abcd", "FUND supply"), "abcd.46554e4420737570706c79"},
		{"empty name", NewAssetClass("abcd", ""), "abcd."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.asset.Canonical(); got != tt.want {
				t.Errorf("Canonical() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseAssetClass(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    AssetClass
		wantErr bool
	}{
		{"lovelace", "lovelace", Lovelace, false},
		{"policy and name", "abcd.4142", NewAssetClass("abcd", "AB"), false},
		{"missing dot", "abcd", AssetClass{}, true},
		{"bad policy hex", "xyz.41", AssetClass{}, true},
		{"bad name hex", "abcd.4", AssetClass{}, true},
		{"empty policy", ".41", AssetClass{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssetClass(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAssetClass(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAssetClass(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestValueJSONKeys(t *testing.T) {
	v := LovelaceValue(5).With(NewAssetClass("abcd", "AB"), 2)

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"abcd.4142":2,"lovelace":5}` {
		t.Errorf("Marshal() = %s", data)
	}

	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !back.Equal(v) {
		t.Errorf("Unmarshal() = %v, want %v", back, v)
	}
}
