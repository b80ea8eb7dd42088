package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/rootstack/gcstack"
)

// InspectionClient calls a remote inspection service.
type InspectionClient struct {
	stats    *connect.Client[emptypb.Empty, structpb.Struct]
	snapshot *connect.Client[emptypb.Empty, wrapperspb.BytesValue]
	events   *connect.Client[emptypb.Empty, structpb.Struct]
	collect  *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewInspectionClient creates a client for the service at baseURL, for
// example "http://localhost:4480".
func NewInspectionClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *InspectionClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &InspectionClient{
		stats:    connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+InspectionServiceStatsProcedure, opts...),
		snapshot: connect.NewClient[emptypb.Empty, wrapperspb.BytesValue](httpClient, baseURL+InspectionServiceSnapshotProcedure, opts...),
		events:   connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+InspectionServiceEventsProcedure, opts...),
		collect:  connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+InspectionServiceCollectProcedure, opts...),
	}
}

// Stats fetches the session's stack statistics.
func (c *InspectionClient) Stats(ctx context.Context) (map[string]any, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// Snapshot fetches and decodes the session's live frames.
func (c *InspectionClient) Snapshot(ctx context.Context) (*gcstack.Snapshot, error) {
	resp, err := c.snapshot.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return gcstack.UnmarshalSnapshot(resp.Msg.GetValue())
}

// Events fetches the recorded frame events.
func (c *InspectionClient) Events(ctx context.Context) (map[string]any, error) {
	resp, err := c.events.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

// Collect asks the runtime to collect garbage and returns the stats.
func (c *InspectionClient) Collect(ctx context.Context) (map[string]any, error) {
	resp, err := c.collect.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}
