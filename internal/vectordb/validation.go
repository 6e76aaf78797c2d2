package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when the embedding model and a collection disagree.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Received   int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d", e.Collection, e.Expected, e.Received)
}

type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// ValidateDimensions checks each collection's vector size against dim. Collections
// that cannot be read are logged and skipped.
func (c *Client) ValidateDimensions(ctx context.Context, dim int, collections ...string) error {
	for _, name := range collections {
		info, err := c.Collection(ctx, name)
		if err != nil {
			c.log.Warn("Failed to get collection info during validation", zap.String("collection", name), zap.Error(err))
			continue
		}
		if info.VectorSize != dim {
			return DimensionMismatchError{Collection: name, Expected: dim, Received: info.VectorSize}
		}
		c.log.Info("Collection dimension validated",
			zap.String("collection", name),
			zap.Int("dimension", info.VectorSize),
			zap.Int64("points", info.PointsCount))
	}
	return nil
}

func (c *Client) Collection(ctx context.Context, name string) (*CollectionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/collections/%s", c.base, name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        name,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}
