// Package workspace provides typed wrappers over the workspace backend's
// REST endpoints. Each wrapper decodes the response into a concrete type
// at the boundary instead of passing dynamic payloads around.
package workspace

import "github.com/Bheem-Platform/bheem-workspace-sub001/client"

// Client groups the typed endpoint services.
type Client struct {
	auth  *AuthService
	files *FilesService
}

// New wraps an authenticated API client.
func New(api *client.Client) *Client {
	return &Client{
		auth:  &AuthService{api: api},
		files: &FilesService{api: api},
	}
}

// Auth returns the authentication endpoints.
func (c *Client) Auth() *AuthService { return c.auth }

// Files returns the file endpoints.
func (c *Client) Files() *FilesService { return c.files }
