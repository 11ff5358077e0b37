package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/pipeline"
)

// Client calls a remote intake daemon. Errors come back as the pipeline's
// sentinel errors so callers can use errors.Is.
type Client struct {
	conn         *grpc.ClientConn
	health       healthpb.HealthClient
	callingAppID string
}

// Dial connects to target without transport security.
func Dial(target, callingAppID string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", common.ErrServiceUnavailable, target, err)
	}
	return NewClient(conn, callingAppID), nil
}

func NewClient(conn *grpc.ClientConn, callingAppID string) *Client {
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn), callingAppID: callingAppID}
}

func (c *Client) Close() error { return c.conn.Close() }

// Check returns nil when the daemon reports SERVING.
func (c *Client) Check(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return common.FromStatus(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: intake daemon is %s", common.ErrServiceUnavailable, resp.GetStatus())
	}
	return nil
}

func (c *Client) ProcessDocument(ctx context.Context, req entity.ProcessRequest) (entity.QueueItem, error) {
	if req.CallingAppID == "" {
		req.CallingAppID = c.callingAppID
	}
	var item entity.QueueItem
	err := c.call(ctx, MethodProcessDocument, req, &item)
	return item, err
}

func (c *Client) SubmitDocument(ctx context.Context, req entity.ProcessRequest) (entity.SubmitAck, error) {
	if req.CallingAppID == "" {
		req.CallingAppID = c.callingAppID
	}
	var ack entity.SubmitAck
	err := c.call(ctx, MethodSubmitDocument, req, &ack)
	return ack, err
}

func (c *Client) CompleteReview(ctx context.Context, req pipeline.ReviewRequest) (entity.FinalRecord, error) {
	var rec entity.FinalRecord
	err := c.call(ctx, MethodCompleteReview, req, &rec)
	return rec, err
}

func (c *Client) CancelItem(ctx context.Context, id uuid.UUID) (entity.QueueItem, error) {
	var item entity.QueueItem
	err := c.call(ctx, MethodCancelItem, ItemRequest{ItemID: id.String()}, &item)
	return item, err
}

func (c *Client) GetItem(ctx context.Context, id uuid.UUID) (entity.QueueItem, error) {
	var item entity.QueueItem
	err := c.call(ctx, MethodGetItem, ItemRequest{ItemID: id.String()}, &item)
	return item, err
}

func (c *Client) ListItems(ctx context.Context, req ListRequest) ([]entity.QueueItem, error) {
	var resp ListResponse
	err := c.call(ctx, MethodListItems, req, &resp)
	return resp.Items, err
}

func (c *Client) ExportItems(ctx context.Context, req ExportRequest) ([]byte, error) {
	in, err := encode(req)
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(c.outgoing(ctx), FullMethod(MethodExportItems), in, out); err != nil {
		return nil, common.FromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *Client) call(ctx context.Context, method string, req, reply any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(c.outgoing(ctx), FullMethod(method), in, out); err != nil {
		return common.FromStatus(err)
	}
	b, err := protojson.Marshal(out)
	if err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	if err := json.Unmarshal(b, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	pairs := []string{MDRequestID, rid}
	if c.callingAppID != "" {
		pairs = append(pairs, MDCallingAppID, c.callingAppID)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
