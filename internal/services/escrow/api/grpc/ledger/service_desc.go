package ledger

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "taskescrow.ledger.v1.LedgerService"

// Full method names.
const (
	SubmitTransactionMethod = "/" + ServiceName + "/SubmitTransaction"
	GetAccountMethod        = "/" + ServiceName + "/GetAccount"
	AirdropMethod           = "/" + ServiceName + "/Airdrop"
)

// LedgerServiceServer is the server API for LedgerService.
type LedgerServiceServer interface {
	// SubmitTransaction takes an encoded signed transaction and returns its receipt.
	SubmitTransaction(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	// GetAccount takes a 32-byte address and returns the account it holds.
	GetAccount(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	// Airdrop credits a system wallet: {"to": address, "lamports": decimal}.
	Airdrop(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedLedgerServiceServer can be embedded for forward compatibility.
type UnimplementedLedgerServiceServer struct{}

func (UnimplementedLedgerServiceServer) SubmitTransaction(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitTransaction not implemented")
}

func (UnimplementedLedgerServiceServer) GetAccount(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetAccount not implemented")
}

func (UnimplementedLedgerServiceServer) Airdrop(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Airdrop not implemented")
}

// RegisterLedgerServiceServer registers srv on s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func submitTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).SubmitTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitTransactionMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).SubmitTransaction(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getAccountHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).GetAccount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetAccountMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).GetAccount(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func airdropHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LedgerServiceServer).Airdrop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AirdropMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LedgerServiceServer).Airdrop(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// LedgerServiceDesc describes LedgerService for grpc.Server.RegisterService.
// Messages are well-known protobuf types, so no generated code is needed.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTransaction", Handler: submitTransactionHandler},
		{MethodName: "GetAccount", Handler: getAccountHandler},
		{MethodName: "Airdrop", Handler: airdropHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "taskescrow/ledger/v1/ledger.proto",
}
