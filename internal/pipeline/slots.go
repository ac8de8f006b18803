package pipeline

import (
	"github.com/hpungsan/quotedesk/internal/config"
	"github.com/hpungsan/quotedesk/internal/errors"
	"github.com/hpungsan/quotedesk/internal/workbook"
)

// Allocator hands out workbook column slots per category. Slots start at 0 for every
// run and are never reused within a run. Columns reserved for records still awaiting
// approval are skipped when a slot is mapped to a column.
type Allocator struct {
	next     map[string]int
	reserved map[string]map[string]bool
}

// NewAllocator returns an allocator with every category at slot 0.
func NewAllocator() *Allocator {
	return &Allocator{
		next:     make(map[string]int),
		reserved: make(map[string]map[string]bool),
	}
}

// Next returns the next slot of category.
func (a *Allocator) Next(category string) int {
	slot := a.next[category]
	a.next[category] = slot + 1
	return slot
}

// Reserve keeps col of category out of the slot mapping.
func (a *Allocator) Reserve(category, col string) {
	if a.reserved[category] == nil {
		a.reserved[category] = make(map[string]bool)
	}
	a.reserved[category][col] = true
}

// Column maps slot to the slot-th unreserved column. A slot past the category's last
// column is a SLOT_RANGE_EXCEEDED error; there is no wraparound.
func (a *Allocator) Column(cat *config.Category, slot int) (string, error) {
	start, last, _ := cat.Columns()
	reserved := a.reserved[cat.Name]
	free := 0
	for i := 0; ; i++ {
		col, ok, err := workbook.Column(start, i, last)
		if err != nil {
			return "", errors.NewConfig(err.Error())
		}
		if !ok {
			return "", errors.NewSlotRange(cat.Name, slot, workbook.SlotCapacity(start, last)-len(reserved))
		}
		if reserved[col] {
			continue
		}
		if free == slot {
			return col, nil
		}
		free++
	}
}
