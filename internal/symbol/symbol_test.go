package symbol

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestOf_Deterministic(t *testing.T) {
	a := Of("sessionservice_login")
	b := Of("sessionservice_login")
	if a != b {
		t.Errorf("same name hashed to %v and %v", a, b)
	}
	if a == Of("sessionservice_matching") {
		t.Error("distinct names collided")
	}
	if a.IsNil() {
		t.Error("real name hashed to nil symbol")
	}
}

func TestParseHex_RoundTrip(t *testing.T) {
	s := Of("mpl_lobby_b2")
	parsed, ok := ParseHex(s.HexString())
	if !ok {
		t.Fatalf("ParseHex(%q) failed", s.HexString())
	}
	if parsed != s {
		t.Errorf("round trip changed %v to %v", s, parsed)
	}

	if _, ok := ParseHex("not-hex"); ok {
		t.Error("garbage parsed as a symbol")
	}
}

func TestCache_Bijection(t *testing.T) {
	c := NewCache()
	sym := c.AddName("level_arena")

	got, ok := c.Resolve("level_arena")
	if !ok || got != sym {
		t.Fatalf("Resolve = %v, %v; want %v, true", got, ok, sym)
	}
	name, ok := c.Name(sym)
	if !ok || name != "level_arena" {
		t.Fatalf("Name = %q, %v; want level_arena, true", name, ok)
	}

	// Rebinding a name to a different symbol must be rejected.
	if err := c.Add("level_arena", sym+1); err == nil {
		t.Error("conflicting rebind accepted")
	}
	// Re-adding the same pair is a no-op.
	if err := c.Add("level_arena", sym); err != nil {
		t.Errorf("idempotent add failed: %v", err)
	}
}

func TestCache_TokenFallsBackToHex(t *testing.T) {
	c := NewCache()
	s := Of("never_added")
	if tok := c.Token(s); tok != s.HexString() {
		t.Errorf("Token for unknown symbol = %q, want %q", tok, s.HexString())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.json")
	sym := Of("moderator")
	data := []byte(`{"moderator": ` + strconv.FormatInt(int64(sym), 10) + `}`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, ok := c.Resolve("moderator"); !ok || got != sym {
		t.Errorf("Resolve after Load = %v, %v", got, ok)
	}

	// A missing file yields an empty cache, not an error.
	c, err = Load(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("missing file produced %d symbols", c.Len())
	}
}
