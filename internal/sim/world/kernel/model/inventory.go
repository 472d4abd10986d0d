package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInsufficientItems = errors.New("insufficient items")

// Inventory holds item counts. Weight is a cache of Σ count×unitWeight kept
// up to date by Add/Take; the guardrail recomputes it from counts.
type Inventory struct {
	Items    map[string]int
	Weight   int
	Capacity int // 0 = unlimited
}

func NewInventory(capacity int) *Inventory {
	return &Inventory{Items: map[string]int{}, Capacity: capacity}
}

func (inv *Inventory) Count(item string) int {
	if inv == nil {
		return 0
	}
	return inv.Items[item]
}

func (inv *Inventory) Add(item string, n, unitWeight int) {
	if n == 0 {
		return
	}
	inv.Items[item] += n
	inv.Weight += n * unitWeight
}

func (inv *Inventory) Take(item string, n, unitWeight int) error {
	if n < 0 {
		return fmt.Errorf("take %d %s: negative count", n, item)
	}
	if inv.Items[item] < n {
		return fmt.Errorf("take %d %s (have %d): %w", n, item, inv.Items[item], ErrInsufficientItems)
	}
	inv.Items[item] -= n
	inv.Weight -= n * unitWeight
	if inv.Items[item] == 0 {
		delete(inv.Items, item)
	}
	return nil
}

// FreeWeight is the remaining carrying capacity.
func (inv *Inventory) FreeWeight() int {
	if inv.Capacity <= 0 {
		return math.MaxInt32
	}
	free := inv.Capacity - inv.Weight
	if free < 0 {
		return 0
	}
	return free
}

// ComputeWeight derives weight from counts, ignoring the cached field.
func (inv *Inventory) ComputeWeight(unitWeight func(item string) int) int {
	w := 0
	for item, n := range inv.Items {
		w += n * unitWeight(item)
	}
	return w
}

func (inv *Inventory) SortedItems() []string {
	out := make([]string, 0, len(inv.Items))
	for k := range inv.Items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (inv *Inventory) Clone() map[string]int {
	out := make(map[string]int, len(inv.Items))
	for k, v := range inv.Items {
		out[k] = v
	}
	return out
}
