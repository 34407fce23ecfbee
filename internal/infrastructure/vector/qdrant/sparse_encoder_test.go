package qdrant

import "testing"

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	v1 := encodeSparseQuery("penalty under section 12")
	v2 := encodeSparseQuery("penalty under section 12")
	if len(v1.Indices) != len(v2.Indices) || len(v1.Values) != len(v2.Values) {
		t.Fatalf("vector sizes mismatch: v1=%d/%d v2=%d/%d", len(v1.Indices), len(v1.Values), len(v2.Indices), len(v2.Values))
	}
	for i := range v1.Indices {
		if v1.Indices[i] != v2.Indices[i] {
			t.Fatalf("indices mismatch at %d: %d vs %d", i, v1.Indices[i], v2.Indices[i])
		}
		if v1.Values[i] != v2.Values[i] {
			t.Fatalf("values mismatch at %d: %f vs %f", i, v1.Values[i], v2.Values[i])
		}
	}
}

func TestEncodeSparseQuerySortsIndices(t *testing.T) {
	v := encodeSparseQuery("civil penalty regulator notice appeal")
	if len(v.Indices) == 0 {
		t.Fatalf("expected non-empty sparse vector")
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] > v.Indices[i] {
			t.Fatalf("indices not sorted at %d: %d > %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseQueryEmptyNoiseInput(t *testing.T) {
	v := encodeSparseQuery("___---!!!")
	if len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %+v", v)
	}
}

func TestEncodeSparseDocumentBoostsSectionTerms(t *testing.T) {
	plain := encodeSparseDocument("the penalty applies", "")
	boosted := encodeSparseDocument("the penalty applies", "12")

	if len(boosted.Indices) != len(plain.Indices)+1 {
		t.Fatalf("expected one extra term for the section, got %d vs %d", len(boosted.Indices), len(plain.Indices))
	}

	sectionIdx := hashToken("12")
	found := false
	for i, idx := range boosted.Indices {
		if idx != sectionIdx {
			continue
		}
		found = true
		// tf 1.5 saturates higher than tf 1.0 under BM25 weighting.
		plainWeight := float32((1.0 * (docBM25K1 + 1.0)) / (1.0 + docBM25K1))
		if boosted.Values[i] <= plainWeight {
			t.Fatalf("expected boosted section weight above %f, got %f", plainWeight, boosted.Values[i])
		}
	}
	if !found {
		t.Fatalf("section term missing from sparse vector")
	}
}

func TestTokenizeAlphaNumUnicodeAndDigitsStability(t *testing.T) {
	tokens := tokenizeAlphaNum("Código SEC_0012 rev-2")
	if len(tokens) == 0 {
		t.Fatalf("expected tokens, got empty")
	}
	foundSec := false
	foundNum := false
	for _, tok := range tokens {
		if tok == "sec" {
			foundSec = true
		}
		if tok == "0012" {
			foundNum = true
		}
	}
	if !foundSec || !foundNum {
		t.Fatalf("expected sec and 0012 tokens, got %v", tokens)
	}
}
