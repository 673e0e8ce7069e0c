package rccar_test

import (
	"math"
	"testing"

	rccar "github.com/edgeimpulse/rccar-go"
)

func TestMAF(t *testing.T) {
	m0 := &rccar.MAF{}
	_, err := m0.Update([]float64{1.5})
	if err == nil {
		t.Errorf("missing error for MAF created without NewMAF")
	}

	m0, err = rccar.NewMAF(3, 2)
	if err != nil {
		t.Fatalf("making new MAF: %v", err)
	}

	r, err := m0.Update([]float64{1, 2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if r[0] != 1.0/3 || r[1] != 2.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}
	r, _ = m0.Update([]float64{1, 2})
	if r[0] != 2.0/3 || r[1] != 4.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}
	r, _ = m0.Update([]float64{1, 2})
	if r[0] != 3.0/3 || r[1] != 6.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}
	r, _ = m0.Update([]float64{1, 2})
	if r[0] != 3.0/3 || r[1] != 6.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}

	_, err = m0.Update(nil)
	if err == nil {
		t.Fatalf("missing error for nil update")
	}

	_, err = m0.Update([]float64{1, 2, 3})
	if err == nil {
		t.Fatalf("missing error for wrong number of scores")
	}

	_, err = m0.Update([]float64{math.NaN(), 2})
	if err == nil {
		t.Fatalf("missing error for NaN score")
	}
	_, err = m0.Update([]float64{1, math.Inf(1)})
	if err == nil {
		t.Fatalf("missing error for infinite score")
	}
	r, _ = m0.Update([]float64{1, 2})
	if r[0] != 3.0/3 || r[1] != 6.0/3 {
		t.Fatalf("history changed by rejected scores: %v", r)
	}

	_, err = rccar.NewMAF(0, 3)
	if err == nil {
		t.Fatalf("missing error for new MAF with size 0")
	}

	_, err = rccar.NewMAF(3, 0)
	if err == nil {
		t.Fatalf("missing error for new MAF without classes")
	}
}

func TestParseLabel(t *testing.T) {
	for _, l := range rccar.Labels() {
		p, err := rccar.ParseLabel(l.String())
		if err != nil {
			t.Fatalf("parsing %q: %v", l, err)
		}
		if p != l {
			t.Fatalf("parsed %q as %v", l, p)
		}
	}
	if l, err := rccar.ParseLabel(" Straight "); err != nil || l != rccar.Straight {
		t.Fatalf("parsing padded label: %v, %v", l, err)
	}
	if _, err := rccar.ParseLabel("up"); err == nil {
		t.Fatalf("missing error for unknown label")
	}
	if rccar.Label(7).Valid() {
		t.Fatalf("label 7 should not be valid")
	}
}
