// Package control exposes mission control over gRPC: a status snapshot plus
// start, pause and reset. Messages are protobuf well-known types so no
// generated code is required.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dragonbot.control.v1.MissionControl"

// Full method names.
const (
	MethodStatus       = "/" + ServiceName + "/Status"
	MethodStartMission = "/" + ServiceName + "/StartMission"
	MethodPauseMission = "/" + ServiceName + "/PauseMission"
	MethodResetMission = "/" + ServiceName + "/ResetMission"
)

// defaultOperator is recorded as the mission starter when a request names nobody.
const defaultOperator = "operator"

// Mission is the subset of the mission state machine the service drives.
type Mission interface {
	Start(ctx context.Context, by string)
	Pause()
	Restart(ctx context.Context)
}

// StatusFunc returns a JSON-serializable snapshot.
type StatusFunc func() any

// MissionControlServer is the server API of the service.
type MissionControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartMission(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	PauseMission(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ResetMission(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// Service implements MissionControlServer over a mission and a status source.
type Service struct {
	mission Mission
	status  StatusFunc
	logger  *zap.Logger
}

// NewService creates a Service.
//
// Precondition: mission, statusFn and logger must be non-nil.
func NewService(mission Mission, statusFn StatusFunc, logger *zap.Logger) *Service {
	return &Service{mission: mission, status: statusFn, logger: logger}
}

// Status returns the status snapshot as a Struct.
func (s *Service) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.status())
	if err != nil {
		s.logger.Error("encoding status", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "encoding status: %v", err)
	}
	return out, nil
}

// StartMission starts or resumes the mission. The optional "by" field names the starter.
func (s *Service) StartMission(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	by := defaultOperator
	if v, ok := req.GetFields()["by"]; ok && v.GetStringValue() != "" {
		by = v.GetStringValue()
	}
	s.logger.Info("start requested over control", zap.String("by", by))
	s.mission.Start(context.WithoutCancel(ctx), by)
	return &emptypb.Empty{}, nil
}

// PauseMission pauses the mission.
func (s *Service) PauseMission(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.logger.Info("pause requested over control")
	s.mission.Pause()
	return &emptypb.Empty{}, nil
}

// ResetMission restarts the mission from waiting.
func (s *Service) ResetMission(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.logger.Info("reset requested over control")
	s.mission.Restart(context.WithoutCancel(ctx))
	return &emptypb.Empty{}, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("status is not a JSON object: %w", err)
	}
	return structpb.NewStruct(m)
}

// RegisterMissionControlServer registers srv on s.
func RegisterMissionControlServer(s grpc.ServiceRegistrar, srv MissionControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MissionControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unary(MethodStatus, func() any { return new(emptypb.Empty) },
			func(ctx context.Context, srv MissionControlServer, req any) (any, error) {
				return srv.Status(ctx, req.(*emptypb.Empty))
			})},
		{MethodName: "StartMission", Handler: unary(MethodStartMission, func() any { return new(structpb.Struct) },
			func(ctx context.Context, srv MissionControlServer, req any) (any, error) {
				return srv.StartMission(ctx, req.(*structpb.Struct))
			})},
		{MethodName: "PauseMission", Handler: unary(MethodPauseMission, func() any { return new(emptypb.Empty) },
			func(ctx context.Context, srv MissionControlServer, req any) (any, error) {
				return srv.PauseMission(ctx, req.(*emptypb.Empty))
			})},
		{MethodName: "ResetMission", Handler: unary(MethodResetMission, func() any { return new(emptypb.Empty) },
			func(ctx context.Context, srv MissionControlServer, req any) (any, error) {
				return srv.ResetMission(ctx, req.(*emptypb.Empty))
			})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dragonbot/control/v1/control.proto",
}

type callFunc func(ctx context.Context, srv MissionControlServer, req any) (any, error)

// unary builds a method handler the way protoc-gen-go-grpc does.
func unary(fullMethod string, newReq func() any, call callFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(MissionControlServer)
		if interceptor == nil {
			return call(ctx, impl, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(ctx, impl, req)
		})
	}
}

// Client calls a remote MissionControl service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Status fetches the remote snapshot.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StartMission starts or resumes the remote mission on behalf of by.
func (c *Client) StartMission(ctx context.Context, by string, opts ...grpc.CallOption) error {
	req, err := structpb.NewStruct(map[string]any{"by": by})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, MethodStartMission, req, &emptypb.Empty{}, opts...)
}

// PauseMission pauses the remote mission.
func (c *Client) PauseMission(ctx context.Context, opts ...grpc.CallOption) error {
	return c.conn.Invoke(ctx, MethodPauseMission, &emptypb.Empty{}, &emptypb.Empty{}, opts...)
}

// ResetMission restarts the remote mission.
func (c *Client) ResetMission(ctx context.Context, opts ...grpc.CallOption) error {
	return c.conn.Invoke(ctx, MethodResetMission, &emptypb.Empty{}, &emptypb.Empty{}, opts...)
}
