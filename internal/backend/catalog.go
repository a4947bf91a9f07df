package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cotizador/cotizador/internal/domain/quote"
)

// Clinics lists the Provincia clinics with a price list.
func (c *Client) Clinics(ctx context.Context) ([]string, error) {
	var out struct {
		Clinics []string `json:"clinics"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/catalog/clinics", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Clinics == nil {
		out.Clinics = []string{}
	}
	return out.Clinics, nil
}

// Catalog returns the exam catalog priced for q.
func (c *Client) Catalog(ctx context.Context, q quote.CatalogQuery) ([]quote.Test, error) {
	query := url.Values{}
	query.Set("location", string(q.Location))
	if q.Clinic != "" {
		query.Set("clinic", q.Clinic)
	}
	if q.Margin != nil {
		query.Set("margin", strconv.FormatFloat(*q.Margin, 'f', -1, 64))
	}

	var out struct {
		Catalog []quote.Test `json:"catalog"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/catalog", query, nil, &out); err != nil {
		return nil, err
	}
	if out.Catalog == nil {
		out.Catalog = []quote.Test{}
	}
	return out.Catalog, nil
}
