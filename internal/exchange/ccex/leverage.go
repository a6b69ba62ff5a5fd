package ccex

import (
	"context"

	"perpengine/internal/domain"
)

// SetLeverage changes symbol's leverage multiplier. Not part of
// domain.Exchange — called once at startup per configured symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol domain.Symbol, leverage int) error {
	body := map[string]any{"symbol": symbol.PairString(), "leverage": leverage}
	return c.doRequest(ctx, "SetLeverage", "POST", "/api/v1/futures/account/change_leverage", nil, body, nil)
}

// SetMarginMode switches symbol between "ISOLATED" and "CROSS" margin.
func (c *Client) SetMarginMode(ctx context.Context, symbol domain.Symbol, mode string) error {
	body := map[string]string{"symbol": symbol.PairString(), "marginMode": mode}
	return c.doRequest(ctx, "SetMarginMode", "POST", "/api/v1/futures/account/change_margin_mode", nil, body, nil)
}
