package nosana

import (
	"context"
	"encoding/json"
)

// Market is one entry of the market catalog.
type Market struct {
	Address            Text   `json:"address"`
	Name               Text   `json:"name"`
	Slug               Text   `json:"slug"`
	Type               Text   `json:"type"`
	NosRewardPerSecond Number `json:"nosRewardPerSecond"`
	UsdRewardPerHour   Number `json:"usdRewardPerHour"`
}

// DisplayName prefers the market name and falls back to its slug.
func (m Market) DisplayName() *string {
	if p := m.Name.Ptr(); p != nil {
		return p
	}
	return m.Slug.Ptr()
}

// MarketsURL returns the market list endpoint.
func (c *Client) MarketsURL() string {
	return c.dashboardURL + "/api/markets"
}

// FetchMarkets reads the market catalog. Entries without an address cannot
// be joined to a node and are dropped.
func (c *Client) FetchMarkets(ctx context.Context) ([]Market, error) {
	var markets []Market
	err := c.get(ctx, "markets", c.MarketsURL(), true, func(body []byte) error {
		items, err := decodeList(body, "markets", "data")
		if err != nil {
			return err
		}
		markets = make([]Market, 0, len(items))
		for _, item := range items {
			var m Market
			if err := json.Unmarshal(item, &m); err != nil {
				continue
			}
			if m.Address.Ptr() == nil {
				continue
			}
			markets = append(markets, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return markets, nil
}
