// Package local provides a zero-copy, in-process runtime connection.
//
// For runtimes compiled into the same binary as the host node, this
// adapter wraps the runtime with lifecycle state machine enforcement
// and capability discovery, with no serialization overhead.
package local

import (
	"context"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/server"
	"github.com/blockberries/frame/types"
)

// Compile-time interface check.
var _ frame.Connection = (*Connection)(nil)

// Connection wraps a local Runtime implementation with lifecycle
// enforcement and capability discovery.
type Connection struct {
	srv *server.Server
}

// NewConnection creates an in-process connection wrapping the given
// runtime.
func NewConnection(rt frame.Runtime, opts ...server.Option) *Connection {
	return &Connection{srv: server.New(rt, opts...)}
}

func (c *Connection) Version() types.RuntimeVersion { return c.srv.Version() }

func (c *Connection) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	return c.srv.Handshake(ctx, req)
}

func (c *Connection) InitializeBlock(ctx context.Context, header types.Header) error {
	return c.srv.InitializeBlock(ctx, header)
}

func (c *Connection) ApplyExtrinsic(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	return c.srv.ApplyExtrinsic(ctx, raw)
}

func (c *Connection) FinalizeBlock(ctx context.Context) (types.Header, error) {
	return c.srv.FinalizeBlock(ctx)
}

func (c *Connection) ExecuteBlock(ctx context.Context, block types.Block) (types.BlockOutcome, error) {
	return c.srv.ExecuteBlock(ctx, block)
}

func (c *Connection) Commit(ctx context.Context) (types.CommitResult, error) {
	return c.srv.Commit(ctx)
}

func (c *Connection) ValidateTransaction(ctx context.Context, source types.TransactionSource, raw []byte) (types.ValidTransaction, error) {
	return c.srv.ValidateTransaction(ctx, source, raw)
}

func (c *Connection) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	return c.srv.Query(ctx, req)
}

func (c *Connection) Capabilities() types.Capabilities {
	return c.srv.Capabilities()
}

func (c *Connection) AsAuthorityAPI() frame.AuthorityAPI {
	return c.srv.AsAuthorityAPI()
}

func (c *Connection) AsOffchainWorker() frame.OffchainWorkerAPI {
	return c.srv.AsOffchainWorker()
}

func (c *Connection) AsSimulator() frame.Simulator {
	return c.srv.AsSimulator()
}

// Close releases the runtime's resources if it holds any.
func (c *Connection) Close() error { return c.srv.Close() }

// Server returns the underlying server for advanced use cases.
func (c *Connection) Server() *server.Server {
	return c.srv
}
