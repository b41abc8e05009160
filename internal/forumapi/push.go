package forumapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/upnvj-forum/forum-sync/internal/push"
)

const (
	operationPushPublicKey  = "push.public_key"
	operationPushRegister   = "push.register"
	operationPushDeactivate = "push.deactivate"
	operationPushReactivate = "push.reactivate"
	operationPushRemove     = "push.remove"

	pushPath = "/push-notifications"
)

var _ push.Registry = (*Client)(nil)

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type registerRequest struct {
	Subscription push.Subscription `json:"subscription"`
	UserAgent    string            `json:"userAgent,omitempty"`
}

type endpointRequest struct {
	Endpoint string `json:"endpoint"`
}

// PublicKey returns the server's application server key.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	var response publicKeyResponse
	if err := c.do(ctx, operationPushPublicKey, http.MethodGet, pushPath+"/public-key", nil, nil, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.PublicKey), nil
}

// Register records the subscription for the current viewer.
func (c *Client) Register(ctx context.Context, subscription push.Subscription, userAgent string) error {
	body := registerRequest{Subscription: subscription, UserAgent: userAgent}
	return c.do(ctx, operationPushRegister, http.MethodPost, pushPath+"/subscribe", nil, body, nil)
}

// Deactivate pauses delivery to endpoint without forgetting it.
func (c *Client) Deactivate(ctx context.Context, endpoint string) error {
	return c.do(ctx, operationPushDeactivate, http.MethodPost, pushPath+"/deactivate", nil, endpointRequest{Endpoint: endpoint}, nil)
}

// Reactivate resumes delivery to endpoint.
func (c *Client) Reactivate(ctx context.Context, endpoint string) error {
	return c.do(ctx, operationPushReactivate, http.MethodPost, pushPath+"/reactivate", nil, endpointRequest{Endpoint: endpoint}, nil)
}

// Remove deletes the server record of endpoint.
func (c *Client) Remove(ctx context.Context, endpoint string) error {
	return c.do(ctx, operationPushRemove, http.MethodDelete, pushPath+"/unsubscribe/"+url.PathEscape(endpoint), nil, nil, nil)
}
