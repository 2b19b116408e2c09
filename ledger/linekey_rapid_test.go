package ledger

import (
	"testing"

	"pgregory.net/rapid"
)

// Distinct (checkout key, line) pairs never share a line key.
func TestLineKey_Injective(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k1 := rapid.StringMatching(`[a-z0-9:-]{1,12}`).Draw(t, "k1")
		k2 := rapid.StringMatching(`[a-z0-9:-]{1,12}`).Draw(t, "k2")
		id1 := rapid.Int64Range(1, 1<<40).Draw(t, "id1")
		id2 := rapid.Int64Range(1, 1<<40).Draw(t, "id2")
		if k1 == k2 && id1 == id2 {
			return
		}
		if LineKey(k1, id1) == LineKey(k2, id2) {
			t.Fatalf("collision: (%q,%d) and (%q,%d)", k1, id1, k2, id2)
		}
	})
}

func TestLineKey_EmptyCheckoutKey(t *testing.T) {
	if got := LineKey("", 3); got != "" {
		t.Fatalf("got %q", got)
	}
}
