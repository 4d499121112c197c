package nosana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// NodeSpecs is the dashboard's view of a node's hardware and market.
type NodeSpecs struct {
	NodeAddress   Text            `json:"nodeAddress"`
	MarketAddress Text            `json:"marketAddress"`
	Status        Text            `json:"status"`
	Country       Text            `json:"country"`
	RAM           Number          `json:"ram"`
	DiskSpace     Number          `json:"diskSpace"`
	CPU           Text            `json:"cpu"`
	LogicalCores  Number          `json:"logicalCores"`
	PhysicalCores Number          `json:"physicalCores"`
	MemoryGPU     Number          `json:"memoryGPU"`
	GPUs          json.RawMessage `json:"gpus"`
}

// GPU is one entry of the specs "gpus" list.
type GPU struct {
	Name   Text   `json:"gpu"`
	Memory Number `json:"memory"`
}

// GPUList decodes the gpus field, returning nil when it is absent or not a list.
func (s *NodeSpecs) GPUList() []GPU {
	if len(s.GPUs) == 0 {
		return nil
	}
	var gpus []GPU
	if err := json.Unmarshal(s.GPUs, &gpus); err != nil {
		return nil
	}
	return gpus
}

// GPUModel returns the model of the first GPU, if any.
func (s *NodeSpecs) GPUModel() *string {
	gpus := s.GPUList()
	if len(gpus) == 0 {
		return nil
	}
	return gpus[0].Name.Ptr()
}

// SpecsURL returns the specs endpoint for address.
func (c *Client) SpecsURL(address string) string {
	return fmt.Sprintf("%s/api/nodes/%s/specs", c.dashboardURL, url.PathEscape(address))
}

// FetchSpecs reads hardware specs, country and market membership.
func (c *Client) FetchSpecs(ctx context.Context, address string) (*NodeSpecs, error) {
	if address == "" {
		return nil, &FetchError{Source: "specs", Kind: KindUnreachable, Err: errEmptyAddress}
	}

	var specs NodeSpecs
	err := c.get(ctx, "specs", c.SpecsURL(address), true, func(body []byte) error {
		return decodeObject(body, &specs)
	})
	if err != nil {
		return nil, err
	}
	return &specs, nil
}
