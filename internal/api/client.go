package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a typed client of the Bridge service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection. Calls must use the JSON subtype,
// which this client sets on every call.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Init(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Init", &Empty{})
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", &Empty{})
}

func (c *Client) Logout(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Logout", &Empty{})
}

func (c *Client) Send(ctx context.Context, chatID, body string) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c, "Send", &SendRequest{ChatID: chatID, Body: body})
}

func (c *Client) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	return invoke[ListChatsResponse](ctx, c, "ListChats", req)
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, "ListMessages", req)
}

func (c *Client) SearchMessages(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c, "SearchMessages", req)
}

// WatchClient receives events from a Watch call.
type WatchClient struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (w *WatchClient) Recv() (*EventEnvelope, error) {
	e := new(EventEnvelope)
	if err := w.stream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Watch subscribes to daemon events whose kind starts with namespace.
// Cancel ctx to end the stream.
func (c *Client) Watch(ctx context.Context, namespace string) (*WatchClient, error) {
	stream, err := c.conn.NewStream(ctx, &bridgeServiceDesc.Streams[0], fullMethod("Watch"), grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Namespace: namespace}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchClient{stream: stream}, nil
}
