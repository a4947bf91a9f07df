package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cotizador/cotizador/internal/domain/quote"
)

// NextProposalNumber reserves the next proposal number for executive. A
// blank number from the backend falls back to quote.DefaultProposalNumber.
func (c *Client) NextProposalNumber(ctx context.Context, executive string) (string, error) {
	query := url.Values{}
	query.Set("executive", executive)

	var out struct {
		ProposalNumber string `json:"proposal_number"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/proposal/next", query, nil, &out); err != nil {
		return "", err
	}
	if n := strings.TrimSpace(out.ProposalNumber); n != "" {
		return n, nil
	}
	return quote.DefaultProposalNumber, nil
}

// SaveProtocol stores the audit record of a protocol.
func (c *Client) SaveProtocol(ctx context.Context, rec quote.ProtocolRecord) error {
	var out struct {
		OK bool `json:"ok"`
	}
	return c.doJSON(ctx, http.MethodPost, "/api/proposal/save-protocol", nil, rec, &out)
}
