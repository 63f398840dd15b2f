package symbol

import (
	"encoding/json"
	"fmt"
	"os"
)

// Cache is a bijection between symbols and names. It is loaded once at
// startup and read-only afterwards, so lookups take no lock.
type Cache struct {
	byName   map[string]Symbol
	bySymbol map[Symbol]string
}

// NewCache builds an empty cache.
func NewCache() *Cache {
	return &Cache{
		byName:   make(map[string]Symbol),
		bySymbol: make(map[Symbol]string),
	}
}

// Add registers a name/symbol pair. Conflicting re-registration of
// either side returns an error to keep the bijection intact.
func (c *Cache) Add(name string, s Symbol) error {
	if prev, ok := c.byName[name]; ok && prev != s {
		return fmt.Errorf("symbol cache: name %q already bound to %s", name, prev.HexString())
	}
	if prev, ok := c.bySymbol[s]; ok && prev != name {
		return fmt.Errorf("symbol cache: symbol %s already bound to %q", s.HexString(), prev)
	}
	c.byName[name] = s
	c.bySymbol[s] = name
	return nil
}

// AddName registers a name under its derived symbol.
func (c *Cache) AddName(name string) Symbol {
	s := Of(name)
	c.byName[name] = s
	c.bySymbol[s] = name
	return s
}

// Resolve looks up the symbol for a name. Unknown names are absent.
func (c *Cache) Resolve(name string) (Symbol, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Name looks up the textual name of a symbol.
func (c *Cache) Name(s Symbol) (string, bool) {
	n, ok := c.bySymbol[s]
	return n, ok
}

// Token renders a symbol as its name if known, else as hex.
func (c *Cache) Token(s Symbol) string {
	if n, ok := c.bySymbol[s]; ok {
		return n
	}
	return s.HexString()
}

// Len returns the number of known entries.
func (c *Cache) Len() int {
	return len(c.byName)
}

// Load reads a symbol cache from a JSON file of the shape
// {"name": number, ...}. A missing file yields an empty cache.
func Load(path string) (*Cache, error) {
	c := NewCache()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading symbol cache %s: %w", path, err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing symbol cache %s: %w", path, err)
	}
	for name, v := range raw {
		if err := c.Add(name, Symbol(v)); err != nil {
			return nil, err
		}
	}
	return c, nil
}
