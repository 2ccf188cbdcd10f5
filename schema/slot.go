package schema

import "fmt"

// Slot locates a field's value: an in-use bit and an offset in 8-byte units.
// Fixed field offsets address the node's fixed area, dynamic field offsets
// the node's dynamic buffer.
type Slot uint32

const (
	slotInUse      Slot = 1 << 31
	slotOffsetBits      = 24
	// MaxSlotOffset is the largest byte offset a Slot can hold.
	MaxSlotOffset = (1<<slotOffsetBits - 1) * 8
)

// NewSlot returns an in-use slot at the byte offset off.
// off must be 8-byte aligned and at most MaxSlotOffset.
func NewSlot(off int) Slot {
	if off < 0 || off%8 != 0 || off > MaxSlotOffset {
		panic(fmt.Sprintf("schema: slot offset %d out of range", off))
	}
	return slotInUse | Slot(off/8) //nolint:gosec // bounded above
}

// InUse reports whether the slot holds a value.
func (s Slot) InUse() bool { return s&slotInUse != 0 }

// Offset returns the byte offset.
func (s Slot) Offset() int { return int(s&(1<<slotOffsetBits-1)) * 8 }

// Clear returns the slot with the in-use bit reset and the offset kept.
func (s Slot) Clear() Slot { return s &^ slotInUse }

func (s Slot) String() string {
	if !s.InUse() {
		return "unset"
	}
	return fmt.Sprintf("@%d", s.Offset())
}

// Template is the default layout of a node.
type Template struct {
	// Slots has one entry per field. Fixed fields are placed; others are unset.
	Slots []Slot
	// FixedSize is the fixed area size in bytes.
	FixedSize int
	// Defaults is the initial fixed area, nil when no fixed field declares
	// a default and the area starts zeroed.
	Defaults []byte
}
