package quote

import "math"

// Totals holds the net amount per price type.
type Totals map[PriceType]float64

// ComputeTotals sums the selected types of every unclassified selection,
// using overrides where set, rounded to cents. Classified selections
// (condicional, requisito, adicional) are quoted separately and never summed.
func ComputeTotals(selections []Selection) Totals {
	out := Totals{Ingreso: 0, Periodico: 0, Retiro: 0}
	for _, s := range selections {
		if s.Classification != nil {
			continue
		}
		for _, t := range s.Types {
			out[t] += s.Price(t)
		}
	}
	for t, v := range out {
		out[t] = math.Round(v*100) / 100
	}
	return out
}

// ProtocolTotals computes Totals per protocol, in protocol order.
func ProtocolTotals(snap Snapshot) []NamedTotals {
	out := make([]NamedTotals, 0, len(snap.Protocols))
	for _, p := range snap.Protocols {
		var sels []Selection
		for _, s := range snap.Selections {
			if s.Protocol == p.Name {
				sels = append(sels, s)
			}
		}
		out = append(out, NamedTotals{Name: p.Name, Totals: ComputeTotals(sels)})
	}
	return out
}

// NamedTotals pairs a protocol or clinic name with its totals.
type NamedTotals struct {
	Name   string
	Totals Totals
}

// ClinicTotals prices the unclassified selections of snap with each clinic's
// catalog, in the order of clinics. Overrides are not applied and a test the
// clinic does not price adds nothing.
func ClinicTotals(snap Snapshot, clinics []string, byClinic map[string][]Test) []NamedTotals {
	out := make([]NamedTotals, 0, len(clinics))
	for _, clinic := range clinics {
		prices := make(map[int64]Prices, len(byClinic[clinic]))
		for _, t := range byClinic[clinic] {
			prices[t.ID] = t.Prices
		}
		totals := Totals{Ingreso: 0, Periodico: 0, Retiro: 0}
		for _, s := range snap.Selections {
			if s.Classification != nil {
				continue
			}
			for _, t := range s.Types {
				totals[t] += prices[s.TestID][t]
			}
		}
		for t, v := range totals {
			totals[t] = math.Round(v*100) / 100
		}
		out = append(out, NamedTotals{Name: clinic, Totals: totals})
	}
	return out
}
