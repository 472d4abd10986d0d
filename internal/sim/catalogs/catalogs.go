package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Commodities CommodityCatalog
}

type CommodityCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]CommodityDef
	PaletteDigest string
	DefsDigest    string
}

type CommodityDef struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"` // "FOOD","MATERIAL","GOODS"
	UnitWeight int    `json:"unit_weight"`
	Label      string `json:"label,omitempty"`
}

// UnitWeight returns the carrying weight of one unit; unknown items weigh 1.
func (c *Catalogs) UnitWeight(item string) int {
	if c == nil {
		return 1
	}
	if d, ok := c.Commodities.Defs[item]; ok {
		return d.UnitWeight
	}
	return 1
}

func (c *Catalogs) Has(item string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Commodities.Defs[item]
	return ok
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadCommodities(filepath.Join(configDir, "commodities.json"), &c.Commodities); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default is the built-in catalog used when no config directory is given.
func Default() *Catalogs {
	defs := []CommodityDef{
		{ID: "FISH", Kind: "FOOD", UnitWeight: 1, Label: "Fresh fish"},
		{ID: "GRAIN", Kind: "FOOD", UnitWeight: 2, Label: "Sack of grain"},
		{ID: "TIMBER", Kind: "MATERIAL", UnitWeight: 5, Label: "Timber plank"},
	}
	raw, _ := json.Marshal(defs)
	var c Catalogs
	if err := buildCommodities(raw, defs, &c.Commodities); err != nil {
		panic(err)
	}
	return &c
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadCommodities(path string, out *CommodityCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []CommodityDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("commodities.json: %w", err)
	}
	return buildCommodities(raw, defs, out)
}

func buildCommodities(raw []byte, defs []CommodityDef, out *CommodityCatalog) error {
	out.DefsDigest = sha256Hex(raw)
	out.Defs = map[string]CommodityDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("commodities.json: empty id")
		}
		if d.UnitWeight < 0 {
			return fmt.Errorf("commodities.json: %s: negative unit_weight", d.ID)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("commodities.json: duplicate id %s", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}
