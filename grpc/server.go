package framegrpc

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/server"
	"github.com/blockberries/frame/types"
)

// Compile-time interface check.
var _ RuntimeServiceServer = (*GRPCServer)(nil)

// GRPCServer wraps a runtime as a gRPC server. Domain types are
// serialized directly via cramberry.
//
// Lifecycle misuse by the remote host (a call out of order) is reported
// as codes.FailedPrecondition instead of crashing the process.
type GRPCServer struct {
	srv    *server.Server
	logger logrus.FieldLogger
}

// NewGRPCServer creates a gRPC server wrapping the given runtime.
func NewGRPCServer(rt frame.Runtime, opts ...server.Option) *GRPCServer {
	return &GRPCServer{
		srv:    server.New(rt, opts...),
		logger: logrus.WithField("component", "framegrpc"),
	}
}

// Register adds the runtime service to a gRPC server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	RegisterRuntimeServiceServer(gs, s)
}

// Serve starts the gRPC server on the given listener.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop(gs *grpc.Server) {
	gs.GracefulStop()
}

// Server returns the underlying server for advanced use.
func (s *GRPCServer) Server() *server.Server {
	return s.srv
}

// recoverMisuse turns a lifecycle guard panic into a status error.
func (s *GRPCServer) recoverMisuse(method string, err *error) {
	if rec := recover(); rec != nil {
		s.logger.WithFields(logrus.Fields{"method": method, "state": s.srv.State()}).Warn(rec)
		*err = status.Errorf(codes.FailedPrecondition, "%v", rec)
	}
}

// statusOf maps a non-typed error onto a gRPC status.
func statusOf(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, server.ErrIncompatibleRuntime):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, server.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// --- Core RPCs ---

func (s *GRPCServer) Version(context.Context, *VersionRequest) (*types.RuntimeVersion, error) {
	v := s.srv.Version()
	return &v, nil
}

func (s *GRPCServer) Handshake(ctx context.Context, req *types.HandshakeRequest) (_ *types.HandshakeResponse, err error) {
	defer s.recoverMisuse("Handshake", &err)
	resp, err := s.srv.Handshake(ctx, *req)
	if err != nil {
		return nil, statusOf(err)
	}
	return &resp, nil
}

func (s *GRPCServer) InitializeBlock(ctx context.Context, req *InitializeBlockRequest) (_ *InitializeBlockResponse, err error) {
	defer s.recoverMisuse("InitializeBlock", &err)
	failure, err := failureOf(s.srv.InitializeBlock(ctx, req.Header))
	if err != nil {
		return nil, statusOf(err)
	}
	return &InitializeBlockResponse{Failure: failure}, nil
}

func (s *GRPCServer) ApplyExtrinsic(ctx context.Context, req *ExtrinsicRequest) (_ *ApplyResponse, err error) {
	defer s.recoverMisuse("ApplyExtrinsic", &err)
	out, err := s.srv.ApplyExtrinsic(ctx, req.Extrinsic)
	failure, err := failureOf(err)
	if err != nil {
		return nil, statusOf(err)
	}
	return &ApplyResponse{Outcome: out, Failure: failure}, nil
}

func (s *GRPCServer) FinalizeBlock(ctx context.Context, _ *FinalizeBlockRequest) (_ *FinalizeBlockResponse, err error) {
	defer s.recoverMisuse("FinalizeBlock", &err)
	header, err := s.srv.FinalizeBlock(ctx)
	failure, err := failureOf(err)
	if err != nil {
		return nil, statusOf(err)
	}
	return &FinalizeBlockResponse{Header: header, Failure: failure}, nil
}

func (s *GRPCServer) ExecuteBlock(ctx context.Context, block *types.Block) (_ *ExecuteBlockResponse, err error) {
	defer s.recoverMisuse("ExecuteBlock", &err)
	outcome, err := s.srv.ExecuteBlock(ctx, *block)
	failure, err := failureOf(err)
	if err != nil {
		return nil, statusOf(err)
	}
	return &ExecuteBlockResponse{Outcome: outcome, Failure: failure}, nil
}

func (s *GRPCServer) Commit(ctx context.Context, _ *CommitRequest) (_ *CommitResponse, err error) {
	defer s.recoverMisuse("Commit", &err)
	result, err := s.srv.Commit(ctx)
	failure, err := failureOf(err)
	if err != nil {
		return nil, statusOf(err)
	}
	return &CommitResponse{Result: result, Failure: failure}, nil
}

func (s *GRPCServer) Abort(context.Context, *AbortRequest) (_ *AbortResponse, err error) {
	defer s.recoverMisuse("Abort", &err)
	if err := s.srv.Abort(); err != nil {
		return nil, statusOf(err)
	}
	return &AbortResponse{}, nil
}

func (s *GRPCServer) ValidateTransaction(ctx context.Context, req *ValidateTransactionRequest) (_ *ValidateTransactionResponse, err error) {
	defer s.recoverMisuse("ValidateTransaction", &err)
	valid, err := s.srv.ValidateTransaction(ctx, req.Source, req.Extrinsic)
	failure, err := failureOf(err)
	if err != nil {
		return nil, statusOf(err)
	}
	return &ValidateTransactionResponse{Valid: valid, Failure: failure}, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *types.StateQuery) (_ *types.StateQueryResult, err error) {
	defer s.recoverMisuse("Query", &err)
	result, err := s.srv.Query(ctx, *req)
	if err != nil {
		return nil, statusOf(err)
	}
	return &result, nil
}

// --- AuthorityAPI RPCs ---

func (s *GRPCServer) CurrentAuthorities(ctx context.Context, _ *AuthoritiesRequest) (_ *types.AuthoritySet, err error) {
	defer s.recoverMisuse("CurrentAuthorities", &err)
	set, err := s.srv.CurrentAuthorities(ctx)
	if err != nil {
		return nil, statusOf(err)
	}
	return &set, nil
}

func (s *GRPCServer) NextAuthorities(ctx context.Context, _ *AuthoritiesRequest) (_ *types.AuthoritySet, err error) {
	defer s.recoverMisuse("NextAuthorities", &err)
	set, err := s.srv.NextAuthorities(ctx)
	if err != nil {
		return nil, statusOf(err)
	}
	return &set, nil
}

func (s *GRPCServer) ReportOffence(ctx context.Context, report *types.OffenceReport) (_ *ExtrinsicsResponse, err error) {
	defer s.recoverMisuse("ReportOffence", &err)
	raw, err := s.srv.ReportOffence(ctx, *report)
	if err != nil {
		return nil, statusOf(err)
	}
	return &ExtrinsicsResponse{Extrinsics: [][]byte{raw}}, nil
}

// --- OffchainWorkerAPI RPC ---

func (s *GRPCServer) OffchainWorker(ctx context.Context, req *OffchainWorkerRequest) (_ *ExtrinsicsResponse, err error) {
	defer s.recoverMisuse("OffchainWorker", &err)
	raws, err := s.srv.OffchainWorker(ctx, req.Header)
	if err != nil {
		return nil, statusOf(err)
	}
	return &ExtrinsicsResponse{Extrinsics: raws}, nil
}

// --- Simulator RPC ---

func (s *GRPCServer) Simulate(ctx context.Context, req *ExtrinsicRequest) (_ *ApplyResponse, err error) {
	defer s.recoverMisuse("Simulate", &err)
	out, err := s.srv.Simulate(ctx, req.Extrinsic)
	failure, err := failureOf(err)
	if err != nil {
		return nil, statusOf(err)
	}
	return &ApplyResponse{Outcome: out, Failure: failure}, nil
}
