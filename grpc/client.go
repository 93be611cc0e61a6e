package framegrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/server"
	"github.com/blockberries/frame/types"
)

// Compile-time interface check.
var _ frame.Connection = (*Client)(nil)

// versionTimeout bounds the Version RPC, which has no caller context.
const versionTimeout = 5 * time.Second

// Client implements frame.Connection for remote runtimes over gRPC
// using cramberry serialization. Fatal and validity errors are rebuilt
// as *frame.FatalError and *types.TransactionValidityError.
//
// The client runs its own lifecycle guard, so misuse panics locally
// before anything is sent.
type Client struct {
	cc    *grpc.ClientConn
	caps  types.Capabilities
	guard *server.LifecycleGuard

	mu      sync.Mutex
	version *types.RuntimeVersion
}

// Dial connects to a remote runtime.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(CramberryCodec{}),
	))
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("frame client: dial %s: %w", addr, err)
	}
	return &Client{
		cc:    cc,
		guard: server.NewLifecycleGuard(),
	}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.cc.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return fmt.Errorf("frame client: %s: %w", method, err)
	}
	return nil
}

// --- Runtime ---

// Version returns the remote runtime's version. It is fetched once and
// cached; a failed fetch returns the zero descriptor.
func (c *Client) Version() types.RuntimeVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != nil {
		return *c.version
	}
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	v := new(types.RuntimeVersion)
	if err := c.invoke(ctx, "Version", &VersionRequest{}, v); err != nil {
		return types.RuntimeVersion{}
	}
	c.version = v
	return *v
}

func (c *Client) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	c.guard.AcquireHandshake()

	resp := new(types.HandshakeResponse)
	if err := c.invoke(ctx, "Handshake", &req, resp); err != nil {
		c.guard.FailHandshake()
		return types.HandshakeResponse{}, err
	}

	c.mu.Lock()
	c.version = &resp.Version
	c.mu.Unlock()
	c.caps = resp.Capabilities
	c.guard.CompleteHandshake()
	return *resp, nil
}

func (c *Client) InitializeBlock(ctx context.Context, header types.Header) error {
	c.guard.AcquireInitialize()

	resp := new(InitializeBlockResponse)
	err := c.invoke(ctx, "InitializeBlock", &InitializeBlockRequest{Header: header}, resp)
	if err == nil {
		err = resp.Failure.Err()
	}
	if err != nil {
		c.guard.FailBlock()
		return err
	}
	c.guard.CompleteApply()
	return nil
}

func (c *Client) ApplyExtrinsic(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	c.guard.AcquireApply()

	resp := new(ApplyResponse)
	err := c.invoke(ctx, "ApplyExtrinsic", &ExtrinsicRequest{Extrinsic: raw}, resp)
	if err == nil {
		err = resp.Failure.Err()
	}
	if _, fatal := frame.IsFatal(err); fatal {
		c.guard.FailBlock()
		return types.ApplyOutcome{}, err
	}
	c.guard.CompleteApply()
	if err != nil {
		return types.ApplyOutcome{}, err
	}
	return resp.Outcome, nil
}

func (c *Client) FinalizeBlock(ctx context.Context) (types.Header, error) {
	c.guard.AcquireFinalize()

	resp := new(FinalizeBlockResponse)
	err := c.invoke(ctx, "FinalizeBlock", &FinalizeBlockRequest{}, resp)
	if err == nil {
		err = resp.Failure.Err()
	}
	if err != nil {
		c.guard.FailBlock()
		return types.Header{}, err
	}
	c.guard.CompleteSeal()
	return resp.Header, nil
}

func (c *Client) ExecuteBlock(ctx context.Context, block types.Block) (types.BlockOutcome, error) {
	c.guard.AcquireExecute()

	resp := new(ExecuteBlockResponse)
	err := c.invoke(ctx, "ExecuteBlock", &block, resp)
	if err == nil {
		err = resp.Failure.Err()
	}
	if err != nil {
		c.guard.FailBlock()
		return types.BlockOutcome{}, err
	}
	c.guard.CompleteSeal()
	return resp.Outcome, nil
}

func (c *Client) Commit(ctx context.Context) (types.CommitResult, error) {
	c.guard.AcquireCommit()

	resp := new(CommitResponse)
	err := c.invoke(ctx, "Commit", &CommitRequest{}, resp)
	if err == nil {
		err = resp.Failure.Err()
	}
	if err != nil {
		c.guard.FailCommit()
		return types.CommitResult{}, err
	}
	c.guard.CompleteCommit()
	return resp.Result, nil
}

// Abort abandons the block being built or sealed on the remote runtime.
func (c *Client) Abort(ctx context.Context) error {
	c.guard.AcquireAbort()
	defer c.guard.FailBlock()
	return c.invoke(ctx, "Abort", &AbortRequest{}, &AbortResponse{})
}

func (c *Client) ValidateTransaction(ctx context.Context, source types.TransactionSource, raw []byte) (types.ValidTransaction, error) {
	c.guard.CheckConcurrent()

	req := &ValidateTransactionRequest{Source: source, Extrinsic: raw}
	resp := new(ValidateTransactionResponse)
	if err := c.invoke(ctx, "ValidateTransaction", req, resp); err != nil {
		return types.ValidTransaction{}, err
	}
	if err := resp.Failure.Err(); err != nil {
		return types.ValidTransaction{}, err
	}
	return resp.Valid, nil
}

func (c *Client) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	c.guard.CheckConcurrent()

	resp := new(types.StateQueryResult)
	if err := c.invoke(ctx, "Query", &req, resp); err != nil {
		return types.StateQueryResult{}, err
	}
	return *resp, nil
}

// --- Capability Accessors ---

func (c *Client) Capabilities() types.Capabilities { return c.caps }

func (c *Client) AsAuthorityAPI() frame.AuthorityAPI {
	if c.caps.Has(types.CapAuthorities) {
		return &clientAuthorities{c}
	}
	return nil
}

func (c *Client) AsOffchainWorker() frame.OffchainWorkerAPI {
	if c.caps.Has(types.CapOffchainWorker) {
		return &clientOffchainWorker{c}
	}
	return nil
}

func (c *Client) AsSimulator() frame.Simulator {
	if c.caps.Has(types.CapSimulation) {
		return &clientSimulator{c}
	}
	return nil
}

// --- AuthorityAPI wrapper ---

type clientAuthorities struct{ c *Client }

func (w *clientAuthorities) CurrentAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	resp := new(types.AuthoritySet)
	if err := w.c.invoke(ctx, "CurrentAuthorities", &AuthoritiesRequest{}, resp); err != nil {
		return types.AuthoritySet{}, err
	}
	return *resp, nil
}

func (w *clientAuthorities) NextAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	resp := new(types.AuthoritySet)
	if err := w.c.invoke(ctx, "NextAuthorities", &AuthoritiesRequest{}, resp); err != nil {
		return types.AuthoritySet{}, err
	}
	return *resp, nil
}

func (w *clientAuthorities) ReportOffence(ctx context.Context, report types.OffenceReport) ([]byte, error) {
	resp := new(ExtrinsicsResponse)
	if err := w.c.invoke(ctx, "ReportOffence", &report, resp); err != nil {
		return nil, err
	}
	if len(resp.Extrinsics) != 1 {
		return nil, fmt.Errorf("frame client: ReportOffence: got %d extrinsics", len(resp.Extrinsics))
	}
	return resp.Extrinsics[0], nil
}

// --- OffchainWorkerAPI wrapper ---

type clientOffchainWorker struct{ c *Client }

func (w *clientOffchainWorker) OffchainWorker(ctx context.Context, header types.Header) ([][]byte, error) {
	resp := new(ExtrinsicsResponse)
	if err := w.c.invoke(ctx, "OffchainWorker", &OffchainWorkerRequest{Header: header}, resp); err != nil {
		return nil, err
	}
	return resp.Extrinsics, nil
}

// --- Simulator wrapper ---

type clientSimulator struct{ c *Client }

func (w *clientSimulator) Simulate(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	resp := new(ApplyResponse)
	if err := w.c.invoke(ctx, "Simulate", &ExtrinsicRequest{Extrinsic: raw}, resp); err != nil {
		return types.ApplyOutcome{}, err
	}
	if err := resp.Failure.Err(); err != nil {
		return types.ApplyOutcome{}, err
	}
	return resp.Outcome, nil
}
