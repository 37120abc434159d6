package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client calls the catalog service's internal stock endpoint. The order
// service uses it to validate items before accepting an order.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Stock returns the current stock level for an item. ErrNotFound means the
// catalog does not know the item.
func (c *Client) Stock(ctx context.Context, itemID int64) (StockLevel, error) {
	url := fmt.Sprintf("%s/catalog/stock/%d", c.baseURL, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StockLevel{}, fmt.Errorf("build stock request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return StockLevel{}, fmt.Errorf("catalog stock request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return StockLevel{}, ErrNotFound
	default:
		return StockLevel{}, fmt.Errorf("catalog stock request: unexpected status %d", resp.StatusCode)
	}

	var level StockLevel
	if err := json.NewDecoder(resp.Body).Decode(&level); err != nil {
		return StockLevel{}, fmt.Errorf("decode stock response: %w", err)
	}
	return level, nil
}
