package block

import (
	"encoding/json"
	"errors"
	"testing"
)

// testGenesis mirrors the default genesis block.
func testGenesis() Block {
	return Block{
		ID:           0,
		Hash:         "0c00139b5d2ed9569ce4bc89854250565b80883503e9cc06d9f446ea518ed01d",
		PreviousHash: GenesisPreviousHash,
		Timestamp:    1704067200,
		Data:         "genesis!",
		Nonce:        2,
	}
}

func TestBlock_ComputeHash_Genesis(t *testing.T) {
	g := testGenesis()
	if got := g.ComputeHash(); got != g.Hash {
		t.Fatalf("ComputeHash = %s, want %s", got, g.Hash)
	}
}

func TestBlock_ComputeHash_IgnoresStoredHash(t *testing.T) {
	g := testGenesis()
	tampered := g
	tampered.Hash = "ff"
	if tampered.ComputeHash() != g.ComputeHash() {
		t.Fatal("ComputeHash must not depend on the stored hash")
	}
}

func TestBlock_IsGenesis(t *testing.T) {
	g := testGenesis()
	if !g.IsGenesis() {
		t.Error("genesis block should report IsGenesis")
	}
	next := Block{ID: 1, PreviousHash: g.Hash}
	if next.IsGenesis() {
		t.Error("block 1 should not report IsGenesis")
	}
}

func TestBlock_ShortHash(t *testing.T) {
	g := testGenesis()
	if got := g.ShortHash(); got != "0c00139b5d2ed956" {
		t.Fatalf("ShortHash = %q", got)
	}
	if got := (Block{Hash: "abc"}).ShortHash(); got != "abc" {
		t.Fatalf("ShortHash(short) = %q, want abc", got)
	}
}

func TestClone_Independent(t *testing.T) {
	orig := []Block{testGenesis()}
	cp := Clone(orig)
	cp[0].Data = "changed"
	if orig[0].Data != "genesis!" {
		t.Fatal("Clone shares backing array with input")
	}
	if Clone(nil) != nil {
		t.Fatal("Clone(nil) should be nil")
	}
}

// --- Structural validation ---

func TestBlock_Validate_Valid(t *testing.T) {
	if err := testGenesis().Validate(); err != nil {
		t.Fatalf("valid block should pass: %v", err)
	}
}

func TestBlock_Validate_EmptyHash(t *testing.T) {
	b := testGenesis()
	b.Hash = ""
	if err := b.Validate(); !errors.Is(err, ErrEmptyHash) {
		t.Fatalf("Validate = %v, want ErrEmptyHash", err)
	}
}

func TestBlock_Validate_BadHashEncoding(t *testing.T) {
	for _, h := range []string{"zz", "abcd", "0c00139b5d2ed9569ce4bc89854250565b80883503e9cc06d9f446ea518ed01d00"} {
		b := testGenesis()
		b.Hash = h
		if err := b.Validate(); !errors.Is(err, ErrBadHashEncoding) {
			t.Errorf("Validate(hash=%q) = %v, want ErrBadHashEncoding", h, err)
		}
	}
}

func TestBlock_Validate_EmptyPreviousHash(t *testing.T) {
	b := testGenesis()
	b.PreviousHash = ""
	if err := b.Validate(); !errors.Is(err, ErrEmptyPreviousHash) {
		t.Fatalf("Validate = %v, want ErrEmptyPreviousHash", err)
	}
}

func TestBlock_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(testGenesis())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, k := range []string{"id", "hash", "previous_hash", "timestamp", "data", "nonce"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("JSON missing field %q: %s", k, data)
		}
	}
}
