package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	"github.com/KevinKickass/OpenWaterCore/internal/judo"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "openwatercore.v1.RegisterService"

// Registers is the device surface the service exposes.
type Registers interface {
	Snapshot() []judo.LiveValue
	Value(key string) (judo.LiveValue, bool)
	Set(ctx context.Context, key string, value any) error
}

// Subscriber hands out register update feeds for Watch.
type Subscriber interface {
	Subscribe() <-chan events.Update
	Unsubscribe(ch <-chan events.Update)
}

type RegisterService struct {
	registers Registers
	updates   Subscriber
	logger    *zap.Logger
}

func NewRegisterService(registers Registers, updates Subscriber, logger *zap.Logger) *RegisterService {
	return &RegisterService{
		registers: registers,
		updates:   updates,
		logger:    logger,
	}
}

// Register attaches the service to a grpc.Server.
func (s *RegisterService) Register(server *grpc.Server) {
	server.RegisterService(&serviceDesc, s)
}

func (s *RegisterService) Get(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	lv, ok := s.registers.Value(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no value for register %q", req.GetValue())
	}
	return liveValueStruct(lv.Key, lv.Value, lv.Valid, lv.UpdatedAt)
}

func (s *RegisterService) List(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snapshot := s.registers.Snapshot()

	list := make([]*structpb.Value, 0, len(snapshot))
	for _, lv := range snapshot {
		st, err := liveValueStruct(lv.Key, lv.Value, lv.Valid, lv.UpdatedAt)
		if err != nil {
			return nil, err
		}
		list = append(list, structpb.NewStructValue(st))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"registers": structpb.NewListValue(&structpb.ListValue{Values: list}),
		"count":     structpb.NewNumberValue(float64(len(list))),
	}}, nil
}

// Set expects {"key": ..., "value": ...}.
func (s *RegisterService) Set(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	key := fields["key"].GetStringValue()
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	var value any
	if v, ok := fields["value"]; ok {
		value = v.AsInterface()
	}

	if err := s.registers.Set(ctx, key, value); err != nil {
		s.logger.Warn("Register write via gRPC failed", zap.String("register", key), zap.Error(err))
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Watch streams every register update until the client goes away.
func (s *RegisterService) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ch := s.updates.Subscribe()
	defer s.updates.Unsubscribe(ch)

	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return nil
			}

			st, err := liveValueStruct(u.Key, u.Value, u.Valid, u.UpdatedAt)
			if err != nil {
				s.logger.Warn("Skipping unencodable update", zap.String("register", u.Key), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(st); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func liveValueStruct(key string, value any, valid bool, updatedAt time.Time) (*structpb.Struct, error) {
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Format(time.RFC3339)
	}

	v, err := structpb.NewValue(value)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "register %s: %v", key, err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":        structpb.NewStringValue(key),
		"value":      v,
		"valid":      structpb.NewBoolValue(valid),
		"updated_at": structpb.NewStringValue(updatedAt.UTC().Format(time.RFC3339Nano)),
	}}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrUnknownRegister):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrReadOnly), errors.Is(err, types.ErrMissingFieldValue):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, types.ErrInvalidLabel), errors.Is(err, types.ErrValueOutOfRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrTransport), errors.Is(err, types.ErrNotConnected):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func methodName(m string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, m)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "List", Handler: listHandler},
		{MethodName: "Set", Handler: setHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*RegisterService).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("Get")}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*RegisterService).Get(ctx, req.(*wrapperspb.StringValue))
	})
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*RegisterService).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("List")}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*RegisterService).List(ctx, req.(*emptypb.Empty))
	})
}

func setHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*RegisterService).Set(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("Set")}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(*RegisterService).Set(ctx, req.(*structpb.Struct))
	})
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*RegisterService).Watch(in, stream)
}

// methodPermissions maps full method names to the permission they need.
var methodPermissions = map[string]auth.Permission{
	methodName("Get"):   auth.PermRead,
	methodName("List"):  auth.PermRead,
	methodName("Watch"): auth.PermRead,
	methodName("Set"):   auth.PermWrite,
}
