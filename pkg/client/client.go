// Package client is a small Go client library for the Client RPC Surface
// (orig §4.3/§6), grounded on the teacher's pkg/client: a Client struct
// wrapping a gRPC connection plus typed convenience methods with
// per-call context timeouts. Stripped of the teacher's mTLS dial path
// (DESIGN.md: pkg/security dropped) since this engine's auth model is a
// session flag over a username/password verifier, not certificate-based
// node identity.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/chatcluster/pkg/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// defaultTimeout bounds every unary convenience method below.
const defaultTimeout = 5 * time.Second

// Client wraps a connection to one chatcluster server over the Client RPC
// Surface.
type Client struct {
	conn *grpc.ClientConn
	rc   *rpc.ClientConn
}

// Dial connects to addr in plaintext. Callers that need to talk to a
// specific node (rather than any node in the cluster) pass its "host:port".
func Dial(addr string) (*Client, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: cc, rc: rpc.NewClientConn(cc)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Conn exposes the underlying *grpc.ClientConn, e.g. for a follower
// relaying a forwarded envelope through pkg/rpc directly.
func (c *Client) Conn() *grpc.ClientConn { return c.conn }

func (c *Client) execute(ctx context.Context, env *rpc.ClientEnvelope) (*rpc.ClientEnvelope, error) {
	reply, err := c.rc.Execute(ctx, env)
	if err != nil {
		return nil, err
	}
	if reply.Type == rpc.TypeError {
		var errPayload rpc.ErrorPayload
		if err := rpc.DecodePayload(reply.Payload, &errPayload); err == nil {
			return reply, fmt.Errorf("%s: %s", errPayload.Reason, errPayload.Detail)
		}
		return reply, fmt.Errorf("request failed")
	}
	return reply, nil
}

// CreateAccount registers a new account (orig §6 CREATE_ACCOUNT).
func (c *Client) CreateAccount(ctx context.Context, username string, verifier []byte) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeCreateAccount,
		Payload: map[string]any{
			"username":         username,
			"password_verifier": verifier,
		},
	})
	return err
}

// Login authenticates the connection (orig §6 LOGIN). The session lives for
// the lifetime of this *Client's underlying connection.
func (c *Client) Login(ctx context.Context, username string, verifier []byte) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeLogin,
		Payload: map[string]any{
			"username":         username,
			"password_verifier": verifier,
		},
	})
	return err
}

// ListAccounts matches pattern against usernames (shell-glob style, orig
// §4.2).
func (c *Client) ListAccounts(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reply, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type:    rpc.TypeListAccounts,
		Payload: map[string]any{"pattern": pattern},
	})
	if err != nil {
		return nil, err
	}
	var result rpc.ListAccountsResult
	if err := rpc.DecodePayload(reply.Payload, &result); err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

// SendMessage sends content from sender to recipient (orig §6
// SEND_MESSAGE).
func (c *Client) SendMessage(ctx context.Context, sender, recipient, content string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reply, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type:      rpc.TypeSendMessage,
		Sender:    sender,
		Recipient: recipient,
		Payload:   map[string]any{"content": content},
	})
	if err != nil {
		return 0, err
	}
	var result rpc.SendMessageResult
	if err := rpc.DecodePayload(reply.Payload, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// DeleteMessages deletes ids owned by (sent or received by) the user this
// connection is logged in as (orig §6 DELETE_MESSAGES).
func (c *Client) DeleteMessages(ctx context.Context, ids []uint64) ([]uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reply, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type:    rpc.TypeDeleteMessages,
		Payload: map[string]any{"ids": ids},
	})
	if err != nil {
		return nil, err
	}
	var result rpc.DeleteMessagesResult
	if err := rpc.DecodePayload(reply.Payload, &result); err != nil {
		return nil, err
	}
	return result.Deleted, nil
}

// DeleteAccount deletes username, cascading to owned messages (orig §6
// DELETE_ACCOUNT, orig §7 cascade policy).
func (c *Client) DeleteAccount(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type:    rpc.TypeDeleteAccount,
		Payload: map[string]any{"username": username},
	})
	return err
}

// ListChatPartners returns username's distinct conversation counterparts
// (orig §3 ChatPartner relation).
func (c *Client) ListChatPartners(ctx context.Context, username string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reply, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type:    rpc.TypeListChatPartners,
		Payload: map[string]any{"username": username},
	})
	if err != nil {
		return nil, err
	}
	var result rpc.ListChatPartnersResult
	if err := rpc.DecodePayload(reply.Payload, &result); err != nil {
		return nil, err
	}
	return result.Partners, nil
}

// GetLeader returns the server's current leader hint, or nil if none is
// known (orig §6 GET_LEADER).
func (c *Client) GetLeader(ctx context.Context) (*string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reply, err := c.execute(ctx, &rpc.ClientEnvelope{Type: rpc.TypeGetLeader})
	if err != nil {
		return nil, err
	}
	var result rpc.GetLeaderResult
	if err := rpc.DecodePayload(reply.Payload, &result); err != nil {
		return nil, err
	}
	return result.Leader, nil
}

// GetClusterNodes returns every node in the cluster (orig §6
// GET_CLUSTER_NODES).
func (c *Client) GetClusterNodes(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	reply, err := c.execute(ctx, &rpc.ClientEnvelope{Type: rpc.TypeGetClusterNodes})
	if err != nil {
		return nil, err
	}
	var result rpc.GetClusterNodesResult
	if err := rpc.DecodePayload(reply.Payload, &result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// MarkRead marks ids as read by username (orig §6 MARK_READ).
func (c *Client) MarkRead(ctx context.Context, ids []uint64, username string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.execute(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeMarkRead,
		Payload: map[string]any{
			"ids":      ids,
			"username": username,
		},
	})
	return err
}

// ReadMessages opens the streaming READ_MESSAGES subscription (orig §4.3).
func (c *Client) ReadMessages(ctx context.Context, username string, limit int) (*rpc.ClientSubscription, error) {
	return c.rc.Subscribe(ctx, &rpc.ClientEnvelope{
		Type: rpc.TypeReadMessages,
		Payload: map[string]any{
			"username": username,
			"limit":    limit,
		},
	})
}
