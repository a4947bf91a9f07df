package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/cotizador/cotizador/internal/domain/quote"
)

// TemplateFileName is the download name of the empty import workbook.
const TemplateFileName = "plantilla_precios.xlsx"

// LimaClinic names the Lima price list, which has no clinic id.
const LimaClinic = "Lima"

// PriceRow is one test priced for one clinic.
type PriceRow struct {
	TestID    int64   `json:"test_id"`
	TestName  string  `json:"test_name"`
	Category  string  `json:"category"`
	PriceID   *int64  `json:"price_id"`
	Ingreso   float64 `json:"ingreso"`
	Periodico float64 `json:"periodico"`
	Retiro    float64 `json:"retiro"`
}

// PriceList is the price list of a clinic. An empty clinic is Lima.
type PriceList struct {
	Clinic   string     `json:"clinic"`
	ClinicID *int64     `json:"clinic_id"`
	Tests    []PriceRow `json:"tests"`
}

type ClinicPrice struct {
	ClinicName string  `json:"clinic_name"`
	ClinicID   *int64  `json:"clinic_id"`
	Ingreso    float64 `json:"ingreso"`
	Periodico  float64 `json:"periodico"`
	Retiro     float64 `json:"retiro"`
}

// TestPrices is a search hit: a test and where it is or is not priced.
type TestPrices struct {
	TestID              int64         `json:"test_id"`
	TestName            string        `json:"test_name"`
	Category            string        `json:"category"`
	ClinicsWithPrice    []ClinicPrice `json:"clinics_with_price"`
	ClinicsWithoutPrice []string      `json:"clinics_without_price"`
}

// PriceUpdate sets the prices of an existing test in one clinic. A nil
// ClinicID targets Lima.
type PriceUpdate struct {
	TestID    int64   `json:"test_id"`
	ClinicID  *int64  `json:"clinic_id"`
	Ingreso   float64 `json:"ingreso"`
	Periodico float64 `json:"periodico"`
	Retiro    float64 `json:"retiro"`
}

// NewPrice creates a test (when the name is unknown) priced in one clinic.
type NewPrice struct {
	TestName  string  `json:"test_name"`
	Category  string  `json:"category"`
	ClinicID  *int64  `json:"clinic_id"`
	Ingreso   float64 `json:"ingreso"`
	Periodico float64 `json:"periodico"`
	Retiro    float64 `json:"retiro"`
}

func (p NewPrice) Validate() error {
	if strings.TrimSpace(p.TestName) == "" {
		return fmt.Errorf("test name is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("category is required")
	}
	return nil
}

// DeleteScope selects which price rows of a test are removed.
type DeleteScope string

const (
	ScopeClinic       DeleteScope = "clinic"
	ScopeLima         DeleteScope = "lima"
	ScopeAllProvincia DeleteScope = "all_provincia"
	// ScopeAll also removes the test once it has no price left.
	ScopeAll DeleteScope = "all"
)

func ParseDeleteScope(s string) (DeleteScope, error) {
	switch d := DeleteScope(strings.TrimSpace(s)); d {
	case ScopeClinic, ScopeLima, ScopeAllProvincia, ScopeAll:
		return d, nil
	}
	return "", fmt.Errorf("invalid delete scope %q (want clinic, lima, all_provincia or all)", s)
}

type PriceDeletion struct {
	TestID   int64       `json:"test_id"`
	Scope    DeleteScope `json:"scope"`
	ClinicID *int64      `json:"clinic_id,omitempty"`
}

// Validate requires a clinic exactly when the scope is a single clinic.
func (d PriceDeletion) Validate() error {
	if _, err := ParseDeleteScope(string(d.Scope)); err != nil {
		return err
	}
	if d.Scope == ScopeClinic && d.ClinicID == nil {
		return fmt.Errorf("scope clinic requires a clinic id")
	}
	return nil
}

type DeleteResult struct {
	Deleted  int    `json:"deleted"`
	TestName string `json:"test_name"`
}

// PreviewRow is one parsed row of an import workbook.
type PreviewRow struct {
	Prueba    string   `json:"prueba"`
	Categoria string   `json:"categoria"`
	Clinica   string   `json:"clinica"`
	Ingreso   *float64 `json:"ingreso"`
	Periodico *float64 `json:"periodico"`
	Retiro    *float64 `json:"retiro"`
	Valid     bool     `json:"valid"`
	Error     string   `json:"error,omitempty"`
}

type ImportPreview struct {
	Rows         []PreviewRow `json:"rows"`
	ValidCount   int          `json:"validCount"`
	InvalidCount int          `json:"invalidCount"`
}

// CanConfirm reports whether the workbook has a row worth importing.
// Invalid rows are skipped by the import and come back in its errors.
func (p ImportPreview) CanConfirm() bool {
	return p.ValidCount > 0
}

type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// PriceTemplate downloads the empty import workbook.
func (c *Client) PriceTemplate(ctx context.Context) (quote.Document, error) {
	resp, err := c.doRaw(ctx, http.MethodGet, "/api/prices/template", nil, nil, "")
	if err != nil {
		return quote.Document{}, err
	}
	return quote.Document{
		ContentType: resp.ContentType,
		FileName:    fileName(resp.Disposition, TemplateFileName),
		Body:        resp.Body,
	}, nil
}

// ListPrices returns the price list of clinic, or Lima when clinic is empty.
func (c *Client) ListPrices(ctx context.Context, clinic string) (PriceList, error) {
	if strings.TrimSpace(clinic) == "" {
		clinic = LimaClinic
	}
	var out PriceList
	err := c.doJSON(ctx, http.MethodGet, "/api/prices/list", url.Values{"clinic": {clinic}}, nil, &out)
	return out, err
}

// SearchTests looks up tests by name across every clinic. Queries shorter
// than two characters match nothing.
func (c *Client) SearchTests(ctx context.Context, q string) ([]TestPrices, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < 2 {
		return []TestPrices{}, nil
	}
	var out struct {
		Tests []TestPrices `json:"tests"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/prices/search", url.Values{"q": {q}}, nil, &out)
	return out.Tests, err
}

func (c *Client) UpdatePrice(ctx context.Context, u PriceUpdate) error {
	return c.doJSON(ctx, http.MethodPut, "/api/prices", nil, u, nil)
}

// AddPrice returns the id of the stored price row and of its test.
func (c *Client) AddPrice(ctx context.Context, p NewPrice) (priceID, testID int64, err error) {
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}
	var out struct {
		ID     int64 `json:"id"`
		TestID int64 `json:"test_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/prices/add", nil, p, &out); err != nil {
		return 0, 0, err
	}
	return out.ID, out.TestID, nil
}

func (c *Client) DeletePrice(ctx context.Context, d PriceDeletion) (DeleteResult, error) {
	if err := d.Validate(); err != nil {
		return DeleteResult{}, err
	}
	var out DeleteResult
	err := c.doJSON(ctx, http.MethodDelete, "/api/prices", nil, d, &out)
	return out, err
}

// PreviewImport parses a workbook without storing it.
func (c *Client) PreviewImport(ctx context.Context, name string, r io.Reader) (ImportPreview, error) {
	var out ImportPreview
	err := c.upload(ctx, "/api/prices/preview", name, r, &out)
	return out, err
}

// ImportPrices stores the rows of a workbook.
func (c *Client) ImportPrices(ctx context.Context, name string, r io.Reader) (ImportResult, error) {
	var out ImportResult
	err := c.upload(ctx, "/api/prices/import", name, r, &out)
	return out, err
}

// upload posts r as the "file" field of a multipart form.
func (c *Client) upload(ctx context.Context, path, name string, r io.Reader, out interface{}) error {
	if !strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		return fmt.Errorf("%s: only .xlsx workbooks are accepted", name)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	resp, err := c.doRaw(ctx, http.MethodPost, path, nil, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	return decodeBody(path, resp.Body, out)
}
