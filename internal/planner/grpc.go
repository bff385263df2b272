package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service exposing a Planner. Requests and
// responses are google.protobuf.Struct values holding the JSON form of
// Request and {"plans": [[PlanAttempt...]...]}.
const ServiceName = "selfeval.planner.v1.MotionPlanner"

const planMethod = "/" + ServiceName + "/Plan"

// MaxMessageSize bounds gRPC payloads; trajectories make responses large.
const MaxMessageSize = 64 << 20

type planResponse struct {
	Plans [][]PlanAttempt `json:"plans"`
}

// MotionPlannerServer is the server-side handler of the Plan RPC.
type MotionPlannerServer interface {
	Plan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var motionPlannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MotionPlannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Plan", Handler: planHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "selfeval/planner/v1/planner.proto",
}

func planHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MotionPlannerServer).Plan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: planMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MotionPlannerServer).Plan(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer serves a Planner over gRPC.
type GRPCServer struct {
	planner Planner
}

// RegisterGRPCServer registers p on s under ServiceName.
func RegisterGRPCServer(s grpc.ServiceRegistrar, p Planner) *GRPCServer {
	srv := &GRPCServer{planner: p}
	s.RegisterService(&motionPlannerServiceDesc, srv)
	return srv
}

// Plan implements MotionPlannerServer.
func (s *GRPCServer) Plan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req Request
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}

	plans, err := s.planner.Plan(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Errorf(codes.Internal, "plan: %v", err)
	}
	if err := ValidateResponse(req, plans); err != nil {
		return nil, status.Errorf(codes.Internal, "planner returned an invalid response: %v", err)
	}

	out, err := toStruct(planResponse{Plans: plans})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// GRPCClient calls a remote MotionPlanner service.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient connects to target. Without options it uses plaintext
// transport and raised message size limits.
func NewGRPCClient(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}
	conn, err := grpc.NewClient(target, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner client for %s: %w", target, err)
	}
	return &GRPCClient{conn: conn}, nil
}

// Plan implements Planner.
func (c *GRPCClient) Plan(ctx context.Context, req Request) (plans [][]PlanAttempt, err error) {
	defer func() { observe("grpc", err) }()

	in, err := toStruct(req)
	if err != nil {
		return nil, &OracleError{Transport: "grpc", Err: fmt.Errorf("encode request: %w", err)}
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, planMethod, in, out); err != nil {
		return nil, &OracleError{Transport: "grpc", Err: err}
	}

	var resp planResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, &OracleError{Transport: "grpc", Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := ValidateResponse(req, resp.Plans); err != nil {
		return nil, &OracleError{Transport: "grpc", Err: err}
	}
	return resp.Plans, nil
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
