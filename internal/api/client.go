package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := fromStruct(out, resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	return resp, nil
}

func (c *Client) ListContacts(ctx context.Context, req *ListContactsRequest) (*ListContactsResponse, error) {
	return invoke[ListContactsResponse](ctx, c, "ListContacts", req)
}

func (c *Client) ListEmployees(ctx context.Context) (*ListEmployeesResponse, error) {
	return invoke[ListEmployeesResponse](ctx, c, "ListEmployees", &Empty{})
}

func (c *Client) Assign(ctx context.Context, contactID, employee string) error {
	_, err := invoke[Empty](ctx, c, "Assign", &AssignRequest{ContactID: contactID, Employee: employee})
	return err
}

func (c *Client) Unassign(ctx context.Context, contactID, employee string) error {
	_, err := invoke[Empty](ctx, c, "Unassign", &AssignRequest{ContactID: contactID, Employee: employee})
	return err
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c, "SendMessage", req)
}

func (c *Client) SendStatus(ctx context.Context, tempID string) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c, "SendStatus", &SendStatusRequest{TempID: tempID})
}

func (c *Client) OpenConversation(ctx context.Context, conversationID string, limit int) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, "OpenConversation", &ConversationRequest{ConversationID: conversationID, Limit: limit})
}

func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	_, err := invoke[Empty](ctx, c, "CloseConversation", &ConversationRequest{ConversationID: conversationID})
	return err
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, "ListMessages", &ConversationRequest{ConversationID: conversationID, Limit: limit})
}

func (c *Client) ListOutbox(ctx context.Context, conversationID string, limit int) (*ListOutboxResponse, error) {
	return invoke[ListOutboxResponse](ctx, c, "ListOutbox", &ConversationRequest{ConversationID: conversationID, Limit: limit})
}

func (c *Client) Reconcile(ctx context.Context) (*ReconcileResponse, error) {
	return invoke[ReconcileResponse](ctx, c, "Reconcile", &Empty{})
}

func (c *Client) GetStats(ctx context.Context) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c, "GetStats", &Empty{})
}

func (c *Client) PutDocuments(ctx context.Context, docs []Document) (*PutDocumentsResponse, error) {
	return invoke[PutDocumentsResponse](ctx, c, "PutDocuments", &PutDocumentsRequest{Documents: docs})
}

// WatchEvents streams bus events whose kind starts with prefix to fn until
// ctx ends or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(EventView) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod("WatchEvents"))
	if err != nil {
		return err
	}
	in, err := toStruct(&WatchRequest{Prefix: prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var evt EventView
		if err := fromStruct(out, &evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
