package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/cotizador/cotizador/internal/domain/quote"
)

// CreateDocuments asks the backend to render the proposal deck and the
// price workbook. The answer is a zip archive.
func (c *Client) CreateDocuments(ctx context.Context, payload quote.GenerationPayload) (quote.Document, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return quote.Document{}, fmt.Errorf("encode generation payload: %w", err)
	}
	resp, err := c.doRaw(ctx, http.MethodPost, "/api/generator/create", nil, bytes.NewReader(buf), "application/json")
	if err != nil {
		return quote.Document{}, err
	}
	if len(resp.Body) == 0 {
		return quote.Document{}, fmt.Errorf("generator returned an empty document")
	}
	return quote.Document{
		ContentType: resp.ContentType,
		FileName:    fileName(resp.Disposition, ""),
		Body:        resp.Body,
	}, nil
}
