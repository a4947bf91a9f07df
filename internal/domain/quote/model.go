package quote

import (
	"fmt"
	"strings"
)

// PriceType is one of the three occupational exam moments a test can be
// quoted for.
type PriceType string

const (
	Ingreso   PriceType = "ingreso"
	Periodico PriceType = "periodico"
	Retiro    PriceType = "retiro"
)

// PriceTypes lists every PriceType in display order.
var PriceTypes = []PriceType{Ingreso, Periodico, Retiro}

func (t PriceType) Valid() bool {
	return t == Ingreso || t == Periodico || t == Retiro
}

func ParsePriceType(s string) (PriceType, error) {
	t := PriceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid price type: %q", s)
	}
	return t, nil
}

// Prices maps a PriceType to an amount.
type Prices map[PriceType]float64

func (p Prices) clone() Prices {
	if p == nil {
		return nil
	}
	out := make(Prices, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Test is a catalog entry as served by the backend.
type Test struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
	Clinic   string `json:"clinic,omitempty" yaml:"clinic,omitempty"`
	Prices   Prices `json:"prices" yaml:"prices"`
}

// Classification tags a selection as conditional, required or additional.
// Classified selections are listed in the proposal but left out of totals.
type Classification string

const (
	Condicional Classification = "condicional"
	Requisito   Classification = "requisito"
	Adicional   Classification = "adicional"
)

var validClassifications = map[Classification]bool{
	Condicional: true, Requisito: true, Adicional: true,
}

func (c Classification) Valid() bool { return validClassifications[c] }

// ParseClassification accepts the wire names plus the letters C, R and A. A
// blank string means no classification.
func ParseClassification(s string) (*Classification, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return nil, nil
	case "c":
		s = string(Condicional)
	case "r":
		s = string(Requisito)
	case "a":
		s = string(Adicional)
	}
	c := Classification(s)
	if !c.Valid() {
		return nil, fmt.Errorf("invalid classification: %q", s)
	}
	return &c, nil
}

// keepsDetail reports whether a selection with classification c may carry a
// free-text detail.
func keepsDetail(c *Classification) bool {
	return c != nil && *c != Adicional
}

// Selection is a test chosen for one protocol. Exactly one Selection exists
// per (TestID, Protocol) and Types is never empty.
type Selection struct {
	ID             int64           `json:"id"`
	TestID         int64           `json:"testId"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Protocol       string          `json:"protocol"`
	Types          []PriceType     `json:"types"`
	Prices         Prices          `json:"prices"`
	Classification *Classification `json:"classification"`
	Detail         string          `json:"detail"`
	Overrides      Prices          `json:"overrides,omitempty"`
}

// HasType reports whether t is selected.
func (s Selection) HasType(t PriceType) bool {
	for _, x := range s.Types {
		if x == t {
			return true
		}
	}
	return false
}

// Price returns the effective amount for t: the override when set, else the
// catalog price.
func (s Selection) Price(t PriceType) float64 {
	if v, ok := s.Overrides[t]; ok {
		return v
	}
	return s.Prices[t]
}

func (s Selection) clone() Selection {
	s.Types = append([]PriceType(nil), s.Types...)
	s.Prices = s.Prices.clone()
	s.Overrides = s.Overrides.clone()
	if s.Classification != nil {
		c := *s.Classification
		s.Classification = &c
	}
	return s
}

// Protocol is a named group of selections (e.g. one per job profile).
type Protocol struct {
	Name string `json:"name" yaml:"name"`
}

// DefaultProtocol is the protocol every quote starts with and falls back to
// when the last one is removed.
const DefaultProtocol = "Protocolo 1"

// Location selects among the two pricing regions.
type Location string

const (
	Lima      Location = "Lima"
	Provincia Location = "Provincia"
)

func ParseLocation(s string) (Location, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lima":
		return Lima, nil
	case "provincia":
		return Provincia, nil
	}
	return "", fmt.Errorf("invalid location: %q (use Lima or Provincia)", s)
}

// MinProvinciaMargin is the lowest margin percentage applied to Provincia
// prices.
const MinProvinciaMargin = 20.0

// EffectiveMargin floors m at MinProvinciaMargin.
func EffectiveMargin(m float64) float64 {
	if m < MinProvinciaMargin {
		return MinProvinciaMargin
	}
	return m
}

// GenerationPayload is the body of a document generation request.
type GenerationPayload struct {
	Company        string      `json:"company"`
	Recipient      string      `json:"recipient"`
	Executive      string      `json:"executive"`
	ExecutiveTitle string      `json:"executive_title,omitempty"`
	Location       Location    `json:"location"`
	Selections     []Selection `json:"selections"`
	Protocols      []Protocol  `json:"protocols"`
	Images         []Image     `json:"images"`
	ProposalNumber string      `json:"proposal_number"`
	Clinics        []string    `json:"clinics,omitempty"`
	Margin         *float64    `json:"margin,omitempty"`
}

// Image is an image block attached to a proposal. The gateway UI never sends
// any, the list is always empty.
type Image struct {
	Base64          string      `json:"base64,omitempty"`
	ApplicableTypes []PriceType `json:"applicable_types,omitempty"`
}

// ProtocolRecord is the audit entry written when a protocol is saved.
type ProtocolRecord struct {
	Company          string `json:"company"`
	Executive        string `json:"executive"`
	Location         string `json:"location"`
	ProtocolName     string `json:"protocol_name"`
	TotalTests       int    `json:"total_tests"`
	CountCondicional int    `json:"count_condicional"`
	CountRequisito   int    `json:"count_requisito"`
	CountAdicional   int    `json:"count_adicional"`
}
