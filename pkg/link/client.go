package link

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/patch"
)

var (
	// ErrNotConnected is returned when using a closed client.
	ErrNotConnected = errors.New("link client not connected")
)

// ClientConfig holds link client configuration.
type ClientConfig struct {
	// Endpoint is the brain's link address, host:port.
	Endpoint string

	// Token is the shared upload secret. Empty sends no credentials.
	Token string

	// MaxMessageSize bounds a single message; images dominate, so the
	// default accommodates the largest program plus overhead.
	MaxMessageSize int
}

// DefaultClientConfig returns client defaults for an endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:       endpoint,
		MaxMessageSize: maxMessageSize,
	}
}

// tokenAuth sends the shared secret with every call.
type tokenAuth struct {
	token string
}

func (t *tokenAuth) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": t.token}, nil
}

func (t *tokenAuth) RequireTransportSecurity() bool { return false }

// Client is the host side of the upload link.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a brain's link endpoint.
func Dial(cfg ClientConfig, extra ...grpc.DialOption) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(gobCodec{}),
			grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
			grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
		),
	}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{token: cfg.Token}))
	}
	opts = append(opts, extra...)

	conn, err := grpc.Dial(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial link: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Ping returns the brain's version string.
func (c *Client) Ping(ctx context.Context) (string, error) {
	if c.conn == nil {
		return "", ErrNotConnected
	}
	resp := new(PingResponse)
	if err := c.conn.Invoke(ctx, methodPing, &PingRequest{}, resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// Upload ships a full program image into a slot and returns the brain's
// fingerprint of what it received.
func (c *Client) Upload(ctx context.Context, slot types.Slot, name string, image []byte) (types.Fingerprint, error) {
	if c.conn == nil {
		return types.Fingerprint{}, ErrNotConnected
	}
	resp := new(UploadResponse)
	req := &UploadRequest{Slot: uint8(slot), Name: name, Image: image}
	if err := c.conn.Invoke(ctx, methodUpload, req, resp); err != nil {
		return types.Fingerprint{}, err
	}
	return resp.Fingerprint, nil
}

// StagePatch ships a descriptor and payload for the next boot.
func (c *Client) StagePatch(ctx context.Context, desc patch.Descriptor, payload []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	req := &StageRequest{
		Magic:      desc.Magic,
		Version:    desc.Version,
		PayloadLen: desc.PayloadLen,
		BaseLen:    desc.BaseLen,
		Payload:    payload,
	}
	return c.conn.Invoke(ctx, methodStage, req, new(StageResponse))
}
