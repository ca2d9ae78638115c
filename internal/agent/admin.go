package agent

import (
	"context"
	"net/url"
	"time"

	"oobind/internal/model"
)

// SessionInfo is one row of the operator session listing.
type SessionInfo struct {
	SessionID    string      `json:"session_id"`
	State        model.State `json:"state"`
	Negotiations int         `json:"negotiations"`
	Compromised  bool        `json:"compromised"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Expire force-expires one session. Requires an admin token.
func (c *Client) Expire(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "/admin/sessions/"+url.PathEscape(sessionID)+"/expire", nil, nil)
}

// ExpireAll expires every live session and reports how many changed.
func (c *Client) ExpireAll(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.postJSON(ctx, "/admin/sessions/expire", nil, &resp)
	return resp.Count, err
}

func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var resp struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	err := c.get(ctx, "/admin/sessions", &resp)
	return resp.Sessions, err
}
