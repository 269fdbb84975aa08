package api

import (
	"context"
	"net/url"
	"slices"
	"strconv"
)

// ImportKnowledge bulk imports items and drops cached search results.
func (c *Client) ImportKnowledge(ctx context.Context, items []KnowledgeItem) (*ImportResult, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	var resp ImportResult
	if err := c.post(ctx, "/api/knowledge/import", ImportRequest{Items: items}, &resp); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Purge()
	}

	c.logger.Info("knowledge imported", "imported", resp.Imported, "failed", resp.Failed)
	return &resp, nil
}

// SearchKnowledge searches the knowledge store. limit <= 0 uses the backend default.
func (c *Client) SearchKnowledge(ctx context.Context, q string, limit int) ([]KnowledgeItem, error) {
	key := q + "\x00" + strconv.Itoa(limit)
	if c.cache != nil {
		if items, ok := c.cache.Get(key); ok {
			return slices.Clone(items), nil
		}
	}

	query := url.Values{}
	query.Set("q", q)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp SearchResponse
	if err := c.get(ctx, "/api/knowledge/search", query, &resp); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Add(key, slices.Clone(resp.Results))
	}
	return resp.Results, nil
}

// InvalidateSearchCache drops every cached search result.
func (c *Client) InvalidateSearchCache() {
	if c.cache != nil {
		c.cache.Purge()
	}
}
