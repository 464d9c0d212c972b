package lending

import (
	"errors"
	"math"
	"testing"
)

func TestCheckedSub(t *testing.T) {
	if got, err := checkedSub(10, 4); err != nil || got != 6 {
		t.Fatalf("checkedSub(10, 4): got %d, %v", got, err)
	}
	if got, err := checkedSub(5, 5); err != nil || got != 0 {
		t.Fatalf("checkedSub(5, 5): got %d, %v", got, err)
	}
	if _, err := checkedSub(4, 10); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("checkedSub(4, 10): got %v want ErrUnderflow", err)
	}
}

func TestCheckedAdd(t *testing.T) {
	if got, err := checkedAdd(math.MaxUint64-1, 1); err != nil || got != math.MaxUint64 {
		t.Fatalf("checkedAdd at boundary: got %d, %v", got, err)
	}
	if _, err := checkedAdd(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("checkedAdd overflow: got %v want ErrOverflow", err)
	}
}
