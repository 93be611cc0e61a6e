package framegrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/blockberries/frame/types"
)

const serviceName = "github.com/blockberries/frame.v1.RuntimeService"

// RuntimeServiceServer is the server-side interface for the runtime
// gRPC service.
type RuntimeServiceServer interface {
	Version(context.Context, *VersionRequest) (*types.RuntimeVersion, error)
	Handshake(context.Context, *types.HandshakeRequest) (*types.HandshakeResponse, error)
	InitializeBlock(context.Context, *InitializeBlockRequest) (*InitializeBlockResponse, error)
	ApplyExtrinsic(context.Context, *ExtrinsicRequest) (*ApplyResponse, error)
	FinalizeBlock(context.Context, *FinalizeBlockRequest) (*FinalizeBlockResponse, error)
	ExecuteBlock(context.Context, *types.Block) (*ExecuteBlockResponse, error)
	Commit(context.Context, *CommitRequest) (*CommitResponse, error)
	Abort(context.Context, *AbortRequest) (*AbortResponse, error)
	ValidateTransaction(context.Context, *ValidateTransactionRequest) (*ValidateTransactionResponse, error)
	Query(context.Context, *types.StateQuery) (*types.StateQueryResult, error)
	CurrentAuthorities(context.Context, *AuthoritiesRequest) (*types.AuthoritySet, error)
	NextAuthorities(context.Context, *AuthoritiesRequest) (*types.AuthoritySet, error)
	ReportOffence(context.Context, *types.OffenceReport) (*ExtrinsicsResponse, error)
	OffchainWorker(context.Context, *OffchainWorkerRequest) (*ExtrinsicsResponse, error)
	Simulate(context.Context, *ExtrinsicRequest) (*ApplyResponse, error)
}

// RegisterRuntimeServiceServer registers the RuntimeServiceServer on a
// gRPC server.
func RegisterRuntimeServiceServer(s *grpc.Server, srv RuntimeServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// unary builds the descriptor for a service method. The handler runs
// it through the server's interceptor chain when one is installed.
func unary[Req, Resp any](method string, call func(RuntimeServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	handler := func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(RuntimeServiceServer)
		if interceptor == nil {
			return call(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
	return grpc.MethodDesc{MethodName: method, Handler: handler}
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor for the runtime.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RuntimeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Version", RuntimeServiceServer.Version),
		unary("Handshake", RuntimeServiceServer.Handshake),
		unary("InitializeBlock", RuntimeServiceServer.InitializeBlock),
		unary("ApplyExtrinsic", RuntimeServiceServer.ApplyExtrinsic),
		unary("FinalizeBlock", RuntimeServiceServer.FinalizeBlock),
		unary("ExecuteBlock", RuntimeServiceServer.ExecuteBlock),
		unary("Commit", RuntimeServiceServer.Commit),
		unary("Abort", RuntimeServiceServer.Abort),
		unary("ValidateTransaction", RuntimeServiceServer.ValidateTransaction),
		unary("Query", RuntimeServiceServer.Query),
		unary("CurrentAuthorities", RuntimeServiceServer.CurrentAuthorities),
		unary("NextAuthorities", RuntimeServiceServer.NextAuthorities),
		unary("ReportOffence", RuntimeServiceServer.ReportOffence),
		unary("OffchainWorker", RuntimeServiceServer.OffchainWorker),
		unary("Simulate", RuntimeServiceServer.Simulate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "github.com/blockberries/frame/v1/service.cram",
}
