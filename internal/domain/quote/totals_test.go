package quote

import "testing"

func TestComputeTotals(t *testing.T) {
	adic := Adicional
	sels := []Selection{
		{Types: []PriceType{Ingreso, Retiro}, Prices: Prices{Ingreso: 10.004, Periodico: 99, Retiro: 5}},
		{Types: []PriceType{Ingreso}, Prices: Prices{Ingreso: 20}, Overrides: Prices{Ingreso: 15.5}},
		{Types: []PriceType{Ingreso}, Prices: Prices{Ingreso: 1000}, Classification: &adic},
	}

	got := ComputeTotals(sels)

	if got[Ingreso] != 25.5 {
		t.Errorf("unexpected ingreso total %v", got[Ingreso])
	}
	if got[Periodico] != 0 {
		t.Errorf("unselected types must not count, got %v", got[Periodico])
	}
	if got[Retiro] != 5 {
		t.Errorf("expected retiro 5, got %v", got[Retiro])
	}
}

func TestComputeTotals_Empty(t *testing.T) {
	got := ComputeTotals(nil)
	for _, pt := range PriceTypes {
		if v, ok := got[pt]; !ok || v != 0 {
			t.Errorf("expected zero %s total, got %v (present=%v)", pt, v, ok)
		}
	}
}

func TestProtocolTotals(t *testing.T) {
	q := New()
	_ = q.ToggleType(exam(1, 100, 0, 0), Ingreso)
	q.AddProtocol("Operarios")
	_ = q.ToggleType(exam(1, 100, 0, 0), Ingreso)
	_ = q.ToggleType(exam(2, 40, 0, 0), Ingreso)

	got := ProtocolTotals(q.Snapshot())
	if len(got) != 2 {
		t.Fatalf("expected totals for 2 protocols, got %d", len(got))
	}
	if got[0].Name != DefaultProtocol || got[0].Totals[Ingreso] != 100 {
		t.Errorf("unexpected first protocol totals %+v", got[0])
	}
	if got[1].Name != "Operarios" || got[1].Totals[Ingreso] != 140 {
		t.Errorf("unexpected second protocol totals %+v", got[1])
	}
}

func TestClinicTotals(t *testing.T) {
	cond := Condicional
	snap := Snapshot{Selections: []Selection{
		{TestID: 1, Types: []PriceType{Ingreso, Periodico}, Overrides: Prices{Ingreso: 1}},
		{TestID: 2, Types: []PriceType{Ingreso}},
		{TestID: 3, Types: []PriceType{Ingreso}, Classification: &cond},
	}}
	byClinic := map[string][]Test{
		"Arequipa": {
			{ID: 1, Prices: Prices{Ingreso: 50, Periodico: 40}},
			{ID: 2, Prices: Prices{Ingreso: 12.5}},
			{ID: 3, Prices: Prices{Ingreso: 900}},
		},
		"Cusco": {
			{ID: 1, Prices: Prices{Ingreso: 60, Periodico: 45}},
		},
	}

	got := ClinicTotals(snap, []string{"Cusco", "Arequipa", "Piura"}, byClinic)
	if len(got) != 3 {
		t.Fatalf("expected 3 clinics, got %d", len(got))
	}
	if got[0].Name != "Cusco" || got[0].Totals[Ingreso] != 60 || got[0].Totals[Periodico] != 45 {
		t.Errorf("unexpected Cusco totals %+v", got[0])
	}
	if got[1].Name != "Arequipa" || got[1].Totals[Ingreso] != 62.5 {
		t.Errorf("expected clinic prices without overrides or classified tests, got %+v", got[1])
	}
	if got[2].Totals[Ingreso] != 0 {
		t.Errorf("expected zero totals for a clinic without catalog, got %+v", got[2])
	}
}
