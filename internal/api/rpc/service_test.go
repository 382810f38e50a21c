package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/KevinKickass/OpenWaterCore/internal/events"
	"github.com/KevinKickass/OpenWaterCore/internal/judo"
	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeRegisters struct {
	mu     sync.Mutex
	values map[string]judo.LiveValue
}

func (f *fakeRegisters) Snapshot() []judo.LiveValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]judo.LiveValue, 0, len(f.values))
	for _, lv := range f.values {
		out = append(out, lv)
	}
	return out
}

func (f *fakeRegisters) Value(key string) (judo.LiveValue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lv, ok := f.values[key]
	return lv, ok
}

func (f *fakeRegisters) Set(ctx context.Context, key string, value any) error {
	switch key {
	case "total_water":
		return fmt.Errorf("%w: %s", types.ErrReadOnly, key)
	case "nope":
		return fmt.Errorf("%w: %s", types.ErrUnknownRegister, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = judo.LiveValue{Key: key, Value: value, Valid: true, UpdatedAt: time.Now()}
	return nil
}

type fakeTokens map[string][]auth.Permission

func (f fakeTokens) ValidateToken(token string) ([]auth.Permission, error) {
	perms, ok := f[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return perms, nil
}

func startServer(t *testing.T) (*grpc.ClientConn, *fakeRegisters, *events.Streamer) {
	t.Helper()

	registers := &fakeRegisters{values: map[string]judo.LiveValue{
		"commissioning_date": {Key: "commissioning_date", Value: time.Unix(1600000000, 0).UTC(), Valid: true},
		"water_hardness":     {Key: "water_hardness", Value: 15.0, Valid: true},
	}}
	streamer := events.NewStreamer()
	tokens := fakeTokens{
		"rw": {auth.PermRead, auth.PermWrite},
		"ro": {auth.PermRead},
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(ServerOptions(tokens, zap.NewNop())...)
	NewRegisterService(registers, streamer, zap.NewNop()).Register(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, registers, streamer
}

func withToken(token string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token), cancel
}

func TestGetAndList(t *testing.T) {
	conn, _, _ := startServer(t)
	ctx, cancel := withToken("ro")
	defer cancel()

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, methodName("Get"), wrapperspb.String("water_hardness"), out))
	assert.Equal(t, 15.0, out.Fields["value"].GetNumberValue())
	assert.True(t, out.Fields["valid"].GetBoolValue())

	require.NoError(t, conn.Invoke(ctx, methodName("Get"), wrapperspb.String("commissioning_date"), out))
	assert.Equal(t, "2020-09-13T12:26:40Z", out.Fields["value"].GetStringValue())

	err := conn.Invoke(ctx, methodName("Get"), wrapperspb.String("salt_storage_days"), out)
	assert.Equal(t, codes.NotFound, status.Code(err))

	list := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, methodName("List"), &emptypb.Empty{}, list))
	assert.Equal(t, 2.0, list.Fields["count"].GetNumberValue())
}

func TestAuthorization(t *testing.T) {
	conn, _, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := conn.Invoke(ctx, methodName("List"), &emptypb.Empty{}, new(structpb.Struct))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx, cancel = withToken("bogus")
	defer cancel()
	err = conn.Invoke(ctx, methodName("List"), &emptypb.Empty{}, new(structpb.Struct))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx, cancel = withToken("ro")
	defer cancel()
	req, err := structpb.NewStruct(map[string]any{"key": "water_hardness", "value": 12})
	require.NoError(t, err)
	err = conn.Invoke(ctx, methodName("Set"), req, new(emptypb.Empty))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestSet(t *testing.T) {
	conn, registers, _ := startServer(t)
	ctx, cancel := withToken("rw")
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{"key": "holiday_mode", "value": "mode_1"})
	require.NoError(t, err)
	require.NoError(t, conn.Invoke(ctx, methodName("Set"), req, new(emptypb.Empty)))

	lv, ok := registers.Value("holiday_mode")
	require.True(t, ok)
	assert.Equal(t, "mode_1", lv.Value)

	cases := []struct {
		key  string
		code codes.Code
	}{
		{"", codes.InvalidArgument},
		{"total_water", codes.FailedPrecondition},
		{"nope", codes.NotFound},
	}
	for _, tc := range cases {
		req, err := structpb.NewStruct(map[string]any{"key": tc.key, "value": 1})
		require.NoError(t, err)
		err = conn.Invoke(ctx, methodName("Set"), req, new(emptypb.Empty))
		assert.Equal(t, tc.code, status.Code(err), tc.key)
	}
}

func TestWatch(t *testing.T) {
	conn, _, streamer := startServer(t)
	ctx, cancel := withToken("ro")
	defer cancel()

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodName("Watch"))
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&emptypb.Empty{}))
	require.NoError(t, stream.CloseSend())

	require.Eventually(t, func() bool { return streamer.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)
	streamer.Broadcast(events.Update{Key: "water_flow_rate", Value: 10.0, Valid: true, UpdatedAt: time.Now()})

	out := new(structpb.Struct)
	require.NoError(t, stream.RecvMsg(out))
	assert.Equal(t, "water_flow_rate", out.Fields["key"].GetStringValue())
	assert.Equal(t, 10.0, out.Fields["value"].GetNumberValue())
}
