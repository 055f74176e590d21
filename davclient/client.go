package davclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"lanpull/transfer"
)

const (
	// DefaultListTimeout bounds one PROPFIND round trip.
	DefaultListTimeout = 10 * time.Second
	// maxListingBytes caps the multistatus body read for one directory.
	maxListingBytes = 32 << 20
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getcontentlength/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

// Config controls the WebDAV client.
type Config struct {
	// HTTPClient must not carry an overall timeout, or large downloads are cut off.
	HTTPClient  *http.Client
	ListTimeout time.Duration
	// BasePath is the share root advertised by the peer.
	BasePath string
	Logger   *slog.Logger
}

// Client lists and downloads from peers serving their share over WebDAV.
type Client struct {
	http        *http.Client
	listTimeout time.Duration
	basePath    string
	log         *slog.Logger
}

var (
	_ transfer.RemoteLister   = (*Client)(nil)
	_ transfer.RemoteStreamer = (*Client)(nil)
)

// New returns a client with defaults applied.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		http:        cfg.HTTPClient,
		listTimeout: cfg.ListTimeout,
		basePath:    cfg.BasePath,
		log:         cfg.Logger,
	}
}

// WithHTTPClient returns a copy of c using client for requests.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	out := *c
	out.http = client
	return &out
}

func (c *Client) resourceURL(address string, port int, remotePath string, collection bool) *url.URL {
	p := path.Join("/", c.basePath, remotePath)
	if collection && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(address, strconv.Itoa(port)),
		Path:   p,
	}
}

// List issues a Depth 1 PROPFIND for dir and returns its immediate children.
func (c *Client) List(ctx context.Context, address string, port int, dir string) ([]transfer.RemoteItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	target := c.resourceURL(address, port, dir, true)
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", target.String(), bytes.NewBufferString(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", transfer.ErrProtocol, err)
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: propfind %s: %v", transfer.ErrPeerUnreachable, target.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMultiStatus:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", transfer.ErrNotFound, target.Path)
	default:
		return nil, fmt.Errorf("%w: propfind %s: unexpected status %s", transfer.ErrProtocol, target.Path, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read listing %s: %v", transfer.ErrPeerUnreachable, target.Path, err)
	}
	items, err := parseMultistatus(body, target.Path)
	if err != nil {
		return nil, err
	}
	c.log.Debug("listed remote directory", "address", address, "path", target.Path, "items", len(items))
	return items, nil
}

// OpenStream issues a GET for a remote file. The caller closes the body.
func (c *Client) OpenStream(ctx context.Context, address string, port int, remotePath string) (io.ReadCloser, int64, error) {
	target := c.resourceURL(address, port, remotePath, false)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", transfer.ErrProtocol, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, 0, fmt.Errorf("%w: get %s: %v", transfer.ErrTimeout, target.Path, err)
		case errors.Is(err, context.Canceled):
			return nil, 0, err
		default:
			return nil, 0, fmt.Errorf("%w: get %s: %v", transfer.ErrPeerUnreachable, target.Path, err)
		}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, resp.ContentLength, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s", transfer.ErrNotFound, target.Path)
	default:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: get %s: unexpected status %s", transfer.ErrProtocol, target.Path, resp.Status)
	}
}
