package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Marveltechapps/selorg-console-core/live"
)

// ListOrders fetches the current in-flight orders for a unit. It backs the
// periodic bulk refresh of the orders view.
func (c *Client) ListOrders(ctx context.Context, unit string) ([]live.Entity, error) {
	path := "/api/orders"
	if unit != "" {
		path += "?unit=" + url.QueryEscape(unit)
	}
	var out []live.Entity
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOrder cancels an order and returns the server's resulting entity.
func (c *Client) CancelOrder(ctx context.Context, id string) (*live.Entity, error) {
	var out live.Entity
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkUrgent raises an order's urgency.
func (c *Client) MarkUrgent(ctx context.Context, id string) (*live.Entity, error) {
	var out live.Entity
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/urgent", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssignRider assigns an order to a rider.
func (c *Client) AssignRider(ctx context.Context, id, rider string) (*live.Entity, error) {
	body := map[string]string{"rider": rider}
	var out live.Entity
	if err := c.post(ctx, "/api/orders/"+url.PathEscape(id)+"/assign", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout tells the backend the session ended. It is called fire-and-forget
// with the token captured before the local session was cleared; failures are
// the caller's to ignore.
func (c *Client) Logout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/logout", nil)
	if err != nil {
		return err
	}
	c.setAuth(req, token)
	return c.do(req, nil)
}
