package vectorizer

import (
	"math"
	"testing"
)

func TestSparseVector(t *testing.T) {
	sv := NewSparseVector(5)
	sv.Set(1, 2.0)
	sv.Set(3, 4.0)

	dense := sv.ToDense()
	if dense[1] != 2.0 || dense[3] != 4.0 || dense[0] != 0.0 {
		t.Errorf("ToDense unexpected: %v", dense)
	}

	dotVec := []float64{1, 2, 3, 4, 5}
	dot := sv.Dot(dotVec)
	expected := 2.0*2 + 4.0*4
	if dot != expected {
		t.Errorf("Dot = %v, want %v", dot, expected)
	}
}

func TestSparseVectorSetOverwritesExistingIndex(t *testing.T) {
	sv := NewSparseVector(3)
	sv.Set(1, 5.0)
	sv.Set(1, 9.0)
	if sv.Nnz() != 1 {
		t.Errorf("Nnz = %d, want 1", sv.Nnz())
	}
	if sv.ToDense()[1] != 9.0 {
		t.Errorf("expected overwritten value 9.0")
	}
}

func TestConcatSparse(t *testing.T) {
	sv1 := NewSparseVector(3)
	sv1.Set(0, 1.0)
	sv2 := NewSparseVector(2)
	sv2.Set(1, 2.0)

	result := ConcatSparse([]SparseVector{sv1, sv2})
	if result.Dim != 5 {
		t.Errorf("Dim = %d, want 5", result.Dim)
	}
	dense := result.ToDense()
	if dense[0] != 1.0 || dense[4] != 2.0 {
		t.Errorf("Concat unexpected: %v", dense)
	}
}

func TestL2Norm(t *testing.T) {
	sv := NewSparseVector(2)
	sv.Set(0, 3.0)
	sv.Set(1, 4.0)
	if math.Abs(sv.L2Norm()-5.0) > 1e-9 {
		t.Errorf("L2Norm = %v, want 5.0", sv.L2Norm())
	}
}
