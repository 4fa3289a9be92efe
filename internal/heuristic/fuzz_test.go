package heuristic

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"

	"github.com/xkilldash9x/locus/api/schemas"
)

// FuzzMatchDeterministic checks that matching never panics, is repeatable and
// never reports a confidence outside 0..100.
func FuzzMatchDeterministic(f *testing.F) {
	f.Add([]byte("click submit"))
	f.Add([]byte("\x00\x01fill email\x02"))

	m := NewMatcher(nil)
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		var step schemas.ActionStep
		if err := c.GenerateStruct(&step); err != nil {
			return
		}
		var elements []schemas.InteractableElement
		if err := c.CreateSlice(&elements); err != nil {
			return
		}

		first := m.Match(step, elements)
		second := m.Match(step, elements)

		if first.Confidence < 0 || first.Confidence > maxConfidence {
			t.Fatalf("confidence %d out of range", first.Confidence)
		}
		if (first.Best == nil) != (second.Best == nil) {
			t.Fatal("non-deterministic best candidate")
		}
		if first.Best != nil && first.Best.CorrelationID != second.Best.CorrelationID {
			t.Fatalf("best changed between runs: %q vs %q", first.Best.CorrelationID, second.Best.CorrelationID)
		}
		if len(first.Alternatives) > maxAlternatives {
			t.Fatalf("%d alternatives", len(first.Alternatives))
		}
	})
}
