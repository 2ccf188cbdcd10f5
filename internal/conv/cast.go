package conv

import (
	"fmt"
	"math"
)

// OverflowError reports a value that does not fit the target width.
type OverflowError struct {
	Value  int
	Target string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("integer overflow: %d does not fit %s", e.Value, e.Target)
}

// IntToUint32 converts a length or count to the u32 used by dump prefixes.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, &OverflowError{Value: v, Target: "uint32"}
	}
	return uint32(v), nil
}

// IntToUint16 converts a length to the u16 used by string prefixes.
func IntToUint16(v int) (uint16, error) {
	if v < 0 || v > math.MaxUint16 {
		return 0, &OverflowError{Value: v, Target: "uint16"}
	}
	return uint16(v), nil
}
