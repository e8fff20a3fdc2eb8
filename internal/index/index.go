// Package index queries the PyPI JSON API for the latest published release
// of a package.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clxrityy/tapbump/internal/fetch"
)

// DefaultRoot is the PyPI JSON API root.
const DefaultRoot = "https://pypi.org/pypi"

// projectResponse is the subset of the PyPI project document that we read.
type projectResponse struct {
	Info struct {
		Version string `json:"version"`
	} `json:"info"`
}

// Client looks up release versions on a package index.
type Client struct {
	getter fetch.Getter
	root   string
}

// New returns a Client reading from root. An empty root selects PyPI.
func New(getter fetch.Getter, root string) *Client {
	if root == "" {
		root = DefaultRoot
	}
	return &Client{getter: getter, root: strings.TrimRight(root, "/")}
}

// ProjectURL returns the metadata URL queried for indexName.
func (c *Client) ProjectURL(indexName string) string {
	return fmt.Sprintf("%s/%s/json", c.root, indexName)
}

// LatestVersion returns info.version from the project document. Any
// failure, including a missing field, is reported as a *fetch.Error.
func (c *Client) LatestVersion(ctx context.Context, indexName string) (string, error) {
	url := c.ProjectURL(indexName)

	body, err := fetch.OK(ctx, c.getter, url)
	if err != nil {
		return "", err
	}

	var resp projectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &fetch.Error{URL: url, Err: fmt.Errorf("failed to parse project metadata: %w", err)}
	}

	v := strings.TrimSpace(resp.Info.Version)
	if v == "" {
		return "", &fetch.Error{URL: url, Err: fmt.Errorf("info.version missing for %s", indexName)}
	}
	return v, nil
}
