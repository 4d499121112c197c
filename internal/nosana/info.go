package nosana

import (
	"context"
	"net/url"
)

// NodeInfo is the /node/info payload served by the node itself.
type NodeInfo struct {
	State  Text        `json:"state"`
	Uptime Number      `json:"uptime"`
	Info   InfoDetails `json:"info"`
}

// InfoDetails is the nested "info" object of the node info payload.
type InfoDetails struct {
	Version Text         `json:"version"`
	Country Text         `json:"country"`
	Model   Text         `json:"model"`
	Network NetworkStats `json:"network"`
}

// NetworkStats holds the node's last speed test.
type NetworkStats struct {
	PingMs       Number `json:"ping_ms"`
	DownloadMbps Number `json:"download_mbps"`
	UploadMbps   Number `json:"upload_mbps"`
}

// InfoURL returns the info endpoint for address.
func (c *Client) InfoURL(address string) string {
	return c.nodeBaseURL(url.PathEscape(address)) + "/node/info"
}

// FetchInfo reads the node's own runtime status.
func (c *Client) FetchInfo(ctx context.Context, address string) (*NodeInfo, error) {
	if address == "" {
		return nil, &FetchError{Source: "info", Kind: KindUnreachable, Err: errEmptyAddress}
	}

	var info NodeInfo
	err := c.get(ctx, "info", c.InfoURL(address), false, func(body []byte) error {
		return decodeObject(body, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}
