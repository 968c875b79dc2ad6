// Package jupyterserver talks to a running jupyter_server instance's REST
// API to discover, create, and kill kernels, and hands back a kernel package
// Connection for the WebSocket channel once one is running.
package jupyterserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"jute/kernel"
)

// Client is a stateless HTTP client for a Jupyter server's REST API,
// authenticated with a bearer token on every request.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for the Jupyter server at baseURL (e.g.
// "http://localhost:8888"), authenticated with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// KernelInfo describes one kernel as reported by /api/kernels.
type KernelInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	LastActivity   time.Time `json:"last_activity"`
	ExecutionState string    `json:"execution_state"`
	Connections    int       `json:"connections"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("%s %s: server returned %s", method, path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// GetAPIVersion returns the Jupyter server's reported API version.
func (c *Client) GetAPIVersion(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api", nil, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// ListKernels returns every kernel currently running on the server.
func (c *Client) ListKernels(ctx context.Context) ([]KernelInfo, error) {
	var kernels []KernelInfo
	if _, err := c.do(ctx, http.MethodGet, "/api/kernels", nil, &kernels); err != nil {
		return nil, err
	}
	return kernels, nil
}

// GetKernelByID looks up one kernel by id. It returns (KernelInfo{}, false,
// nil) rather than an error when the server reports the kernel as missing.
func (c *Client) GetKernelByID(ctx context.Context, kernelID string) (KernelInfo, bool, error) {
	var info KernelInfo
	status, err := c.do(ctx, http.MethodGet, "/api/kernels/"+url.PathEscape(kernelID), nil, &info)
	if status == http.StatusNotFound {
		return KernelInfo{}, false, nil
	}
	if err != nil {
		return KernelInfo{}, false, err
	}
	return info, true, nil
}

// CreateKernel asks the server to start a new kernel from the named kernel
// spec (e.g. "python3").
func (c *Client) CreateKernel(ctx context.Context, specName string) (KernelInfo, error) {
	var info KernelInfo
	_, err := c.do(ctx, http.MethodPost, "/api/kernels", map[string]string{"name": specName}, &info)
	return info, err
}

// KillKernel shuts down and deletes the kernel with the given id.
func (c *Client) KillKernel(ctx context.Context, kernelID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/kernels/"+url.PathEscape(kernelID), nil, nil)
	return err
}

// ActiveKernel pairs a running server-side kernel with a live WebSocket
// Connection to it.
type ActiveKernel struct {
	client     *Client
	KernelID   string
	Connection *kernel.Connection
}

// NewActiveKernel creates a kernel from specName on the server and opens a
// WebSocket connection to it.
func NewActiveKernel(ctx context.Context, client *Client, specName, session, username string) (*ActiveKernel, error) {
	info, err := client.CreateKernel(ctx, specName)
	if err != nil {
		return nil, err
	}
	conn, err := kernel.ConnectWebSocket(ctx, client.baseURL, info.ID, client.token, session, username)
	if err != nil {
		return nil, err
	}
	return &ActiveKernel{client: client, KernelID: info.ID, Connection: conn}, nil
}

// Kill closes the WebSocket connection and tells the server to shut down
// and delete this kernel.
func (a *ActiveKernel) Kill(ctx context.Context) error {
	a.Connection.Close()
	return a.client.KillKernel(ctx, a.KernelID)
}
