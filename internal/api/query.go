package api

import (
	"context"
	"strings"
)

// SubmitQuery sends a query for processing. The answer is returned here and
// is also streamed as query_response and reasoning-update events.
func (c *Client) SubmitQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	var resp QueryResult
	if err := c.post(ctx, "/api/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
