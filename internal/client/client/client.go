// Package client implements the wire protocol from the client side: one
// TCP connection per request, hybrid RSA/AES encryption, and an EOF-framed
// response.
package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"profkeeper/internal/cryptox"
	"profkeeper/internal/protocol"
)

var ErrNoPublicKey = errors.New("server public key not known, fetch it first")

// Client talks to a profkeeper server. It is not safe for concurrent use.
type Client struct {
	addr    string
	timeout time.Duration
	pubKey  *rsa.PublicKey
}

func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return conn, nil
}

// FetchKey requests the server's public key over an unencrypted exchange and
// installs it for subsequent requests. The PEM bytes are returned so callers
// can cache them on disk.
func (c *Client) FetchKey(ctx context.Context) ([]byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(protocol.EncodeKBlock()); err != nil {
		return nil, fmt.Errorf("key request: %w", err)
	}

	pem, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("key response: %w", err)
	}
	if len(pem) != protocol.LenRSAPubKey {
		return nil, fmt.Errorf("key response: got %d bytes, want %d", len(pem), protocol.LenRSAPubKey)
	}

	if err := c.UsePublicKey(pem); err != nil {
		return nil, err
	}
	return pem, nil
}

// UsePublicKey installs a previously cached PEM-encoded server public key.
func (c *Client) UsePublicKey(pem []byte) error {
	pub, err := cryptox.ParsePublicKey(pem)
	if err != nil {
		return fmt.Errorf("server public key: %w", err)
	}
	c.pubKey = pub
	return nil
}

// HasPublicKey reports whether a server key is installed.
func (c *Client) HasPublicKey() bool { return c.pubKey != nil }

// roundTrip performs one full encrypted exchange: a fresh session key, the
// RSA-sealed rblock, the AES-sealed ablock, then the decrypted response.
func (c *Client) roundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if c.pubKey == nil {
		return nil, ErrNoPublicKey
	}

	sessionKey, err := cryptox.GenerateSessionKey()
	if err != nil {
		return nil, err
	}

	plain, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	ablock, err := cryptox.EncryptPayload(sessionKey, plain)
	if err != nil {
		return nil, err
	}

	content, err := protocol.EncodeRBlockContent(req.Cmd, sessionKey, len(ablock))
	if err != nil {
		return nil, err
	}
	rblock, err := cryptox.EncryptBlock(c.pubKey, content)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(append(rblock, ablock...)); err != nil {
		return nil, fmt.Errorf("request write: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("response read: %w", err)
	}

	// A crypto failure before the server trusts the session key comes back
	// as the bare status literal, unencrypted.
	if bytes.Equal(raw, []byte(protocol.StatusErrCrypto)) {
		return nil, protocol.ErrCrypto
	}

	decrypted, err := cryptox.DecryptPayload(sessionKey, raw)
	if err != nil {
		return nil, fmt.Errorf("response decrypt: %w", err)
	}
	return protocol.DecodeResponse(decrypted)
}

// do runs a request and converts a non-OK status into its sentinel error.
func (c *Client) do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != protocol.StatusOK {
		return nil, protocol.ErrorFor(resp.Status)
	}
	return resp, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, user, pass string) error {
	_, err := c.do(ctx, &protocol.Request{Cmd: protocol.CmdReg, User: user, Pass: pass})
	return err
}

// Bye asks the server to shut down.
func (c *Client) Bye(ctx context.Context, user, pass string) error {
	_, err := c.do(ctx, &protocol.Request{Cmd: protocol.CmdBye, User: user, Pass: pass})
	return err
}

// Save asks the server to persist the account directory.
func (c *Client) Save(ctx context.Context, user, pass string) error {
	_, err := c.do(ctx, &protocol.Request{Cmd: protocol.CmdSav, User: user, Pass: pass})
	return err
}

// SetContent replaces the caller's stored content.
func (c *Client) SetContent(ctx context.Context, user, pass string, content []byte) error {
	_, err := c.do(ctx, &protocol.Request{Cmd: protocol.CmdSet, User: user, Pass: pass, Content: content})
	return err
}

// GetContent fetches the content stored for target, which may be any
// registered user.
func (c *Client) GetContent(ctx context.Context, user, pass, target string) ([]byte, error) {
	resp, err := c.do(ctx, &protocol.Request{Cmd: protocol.CmdGet, User: user, Pass: pass, Target: target})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// ListUsers returns all registered usernames in registration order.
func (c *Client) ListUsers(ctx context.Context, user, pass string) ([]string, error) {
	resp, err := c.do(ctx, &protocol.Request{Cmd: protocol.CmdAll, User: user, Pass: pass})
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) == 0 {
		return nil, nil
	}
	return strings.Split(string(resp.Payload), "\n"), nil
}
