package embed

import (
	"context"
	"math"
	"testing"
)

func TestLocalDeterministic(t *testing.T) {
	p := NewLocal(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, []string{"the trustee shall file a cash-flow statement"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := p.Embed(ctx, []string{"the trustee shall file a cash-flow statement"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("same text produced different vectors at %d: %v vs %v", i, a[0][i], b[0][i])
		}
	}
}

func TestLocalDimension(t *testing.T) {
	vecs, err := NewLocal(16).Embed(context.Background(), []string{"x y z", "deemed assignment"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	for _, v := range vecs {
		if len(v) != 16 {
			t.Fatalf("expected dimension 16, got %d", len(v))
		}
	}

	// A non-positive dimension falls back to the default.
	vecs, err = NewLocal(0).Embed(context.Background(), []string{"notice of intention"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs[0]) != 256 {
		t.Fatalf("expected default dimension 256, got %d", len(vecs[0]))
	}
}

func TestLocalUnitNorm(t *testing.T) {
	vecs, err := NewLocal(32).Embed(context.Background(),
		[]string{"the debtor must attend the first meeting of creditors"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-5 {
		t.Fatalf("vector not L2 normalized, magnitude %f", math.Sqrt(norm))
	}
}

func TestLocalDistinctTexts(t *testing.T) {
	vecs, err := NewLocal(64).Embed(context.Background(), []string{
		"the trustee shall file a cash-flow statement",
		"distributions are subject to the directive",
	})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	same := true
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("unrelated texts produced identical vectors")
	}
}
