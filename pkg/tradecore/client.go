// Package tradecore is a Go client for the tradecore status service.
package tradecore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the status service.
const (
	ServiceName       = "tradecore.status.v1.Status"
	GetSnapshotMethod = "/" + ServiceName + "/GetSnapshot"
	WatchEventsMethod = "/" + ServiceName + "/WatchEvents"
)

var watchStreamDesc = grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}

// Client talks to a tradecore-trader status service over gRPC.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// NewClient creates a client targeting the given gRPC address. The
// connection is established lazily.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// Addr returns the target address.
func (c *Client) Addr() string { return c.addr }

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Snapshot fetches the current status snapshot.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetSnapshotMethod, &emptypb.Empty{}, out); err != nil {
		return Snapshot{}, fmt.Errorf("GetSnapshot: %w", err)
	}
	var snap Snapshot
	if err := DecodeStruct(out, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// Watch streams status events. kinds filters by event kind ("signal",
// "rejection", "order", "fill", "error"); none means all. The sequence ends
// when ctx is cancelled or the server closes the stream.
func (c *Client) Watch(ctx context.Context, kinds ...string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cs, err := c.conn.NewStream(ctx, &watchStreamDesc, WatchEventsMethod)
		if err != nil {
			yield(Event{}, fmt.Errorf("WatchEvents: %w", err))
			return
		}
		filter := make([]any, len(kinds))
		for i, k := range kinds {
			filter[i] = k
		}
		req, err := structpb.NewStruct(map[string]any{"kinds": filter})
		if err != nil {
			yield(Event{}, err)
			return
		}
		if err := cs.SendMsg(req); err != nil {
			yield(Event{}, fmt.Errorf("WatchEvents: %w", err))
			return
		}
		if err := cs.CloseSend(); err != nil {
			yield(Event{}, fmt.Errorf("WatchEvents: %w", err))
			return
		}

		for {
			m := new(structpb.Struct)
			if err := cs.RecvMsg(m); err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				yield(Event{}, fmt.Errorf("receiving event: %w", err))
				return
			}
			var evt Event
			if err := DecodeStruct(m, &evt); err != nil {
				if !yield(Event{}, fmt.Errorf("decoding event: %w", err)) {
					return
				}
				continue
			}
			if !yield(evt, nil) {
				return
			}
		}
	}
}
