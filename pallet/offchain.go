package pallet

import (
	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// OffchainContext is handed to offchain workers. It reads committed
// state and collects unsigned calls to submit.
type OffchainContext struct {
	store     storage.Reader
	block     types.Header
	module    string
	logger    logrus.FieldLogger
	submitted *[]types.Call
}

// NewOffchainContext creates a context over committed state for header.
// Calls submitted through any copy are appended to out.
func NewOffchainContext(r storage.Reader, header types.Header, logger logrus.FieldLogger, out *[]types.Call) *OffchainContext {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OffchainContext{store: r, block: header, logger: logger, submitted: out}
}

// For returns a copy tagged with module.
func (o *OffchainContext) For(module string) *OffchainContext {
	cp := *o
	cp.module = module
	return &cp
}

// Store returns read-only access to committed state.
func (o *OffchainContext) Store() storage.Reader { return o.store }

// Header returns the header of the imported block.
func (o *OffchainContext) Header() types.Header { return o.block }

// Submit queues an unsigned call. It is validated like any other
// unsigned transaction when the host submits it.
func (o *OffchainContext) Submit(call types.Call) {
	*o.submitted = append(*o.submitted, call)
}

func (o *OffchainContext) Logger() logrus.FieldLogger {
	return o.logger.WithFields(logrus.Fields{"pallet": o.module, "offchain": true, "block": o.block.Number})
}
