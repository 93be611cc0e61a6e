package frametest

import (
	"context"
	"sync"
	"testing"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/types"
)

// RunComplianceSuite runs a standard compliance test suite against
// a runtime to verify correct lifecycle behavior.
//
// The factory function should return a fresh runtime with empty state
// for each call. genesis is used for every genesis handshake.
func RunComplianceSuite(t *testing.T, factory func() frame.Runtime, genesis types.GenesisConfig) {
	t.Helper()

	start := func(t *testing.T) *Harness {
		h := NewHarness(t, factory())
		h.Genesis(genesis)
		return h
	}

	t.Run("genesis_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		resp := h.Genesis(genesis)
		if resp.LastBlock == nil || resp.LastBlock.Number != 0 {
			t.Fatalf("genesis handshake should return block 0, got %v", resp.LastBlock)
		}
		if resp.StateRoot == nil || resp.LastHeader == nil {
			t.Fatal("genesis handshake should return the state root and header")
		}
		if *resp.StateRoot != resp.LastHeader.StateRoot {
			t.Error("state root does not match the genesis header")
		}
	})

	t.Run("genesis_deterministic", func(t *testing.T) {
		r1 := start(t).Head()
		r2 := start(t).Head()
		if r1.Hash() != r2.Hash() {
			t.Errorf("genesis differs: %s != %s", r1.Hash(), r2.Hash())
		}
	})

	t.Run("version_reported", func(t *testing.T) {
		rt := factory()
		h := NewHarness(t, rt)
		resp := h.Genesis(genesis)
		if resp.Version.String() != rt.Version().String() {
			t.Errorf("handshake version %s, runtime version %s", resp.Version, rt.Version())
		}
	})

	t.Run("build_commit_cycle", func(t *testing.T) {
		h := start(t)
		for i := uint64(1); i <= 5; i++ {
			block, _ := h.BuildAndCommit()
			if block.Header.Number != i {
				t.Fatalf("block %d: built number %d", i, block.Header.Number)
			}
			if h.Head().Hash() != block.Header.Hash() {
				t.Fatalf("block %d: head not advanced", i)
			}
			if block.Header.StateRoot.IsZero() {
				t.Errorf("block %d: zero state root", i)
			}
		}
	})

	t.Run("built_blocks_import", func(t *testing.T) {
		// Blocks built on one instance import on another with
		// identical roots.
		h1 := start(t)
		h2 := start(t)
		for i := uint64(1); i <= 3; i++ {
			block, _ := h1.BuildAndCommit()
			out := h2.ExecuteAndCommit(block)
			if out.Header.StateRoot != block.Header.StateRoot {
				t.Errorf("block %d: non-deterministic: %s != %s",
					i, out.Header.StateRoot, block.Header.StateRoot)
			}
		}
		if h1.Head().Hash() != h2.Head().Hash() {
			t.Error("heads diverged")
		}
	})

	t.Run("import_rejects_bad_parent", func(t *testing.T) {
		h := start(t)
		fe := h.ExecuteBlockErr(MakeBlock(1, types.Hash{0xff}))
		if fe.Kind != types.FatalBadBlock {
			t.Errorf("expected %s, got %s", types.FatalBadBlock, fe.Kind)
		}
	})

	t.Run("import_rejects_state_root", func(t *testing.T) {
		h1 := start(t)
		h2 := start(t)
		block, _ := h1.BuildAndCommit()

		bad := block
		bad.Header.StateRoot = types.Hash{0x01}
		fe := h2.ExecuteBlockErr(bad)
		if fe.Kind != types.FatalStateRootMismatch {
			t.Errorf("expected %s, got %s", types.FatalStateRootMismatch, fe.Kind)
		}

		// The rejected block left nothing behind.
		h2.ExecuteAndCommit(block)
		if h2.Head().Hash() != block.Header.Hash() {
			t.Error("valid block not imported after a rejected one")
		}
	})

	t.Run("import_rejects_extrinsics_root", func(t *testing.T) {
		h1 := start(t)
		h2 := start(t)
		block, _ := h1.BuildAndCommit()

		bad := block
		bad.Extrinsics = [][]byte{{0x00}}
		fe := h2.ExecuteBlockErr(bad)
		if fe.Kind != types.FatalExtrinsicsRootMismatch {
			t.Errorf("expected %s, got %s", types.FatalExtrinsicsRootMismatch, fe.Kind)
		}
	})

	t.Run("undecodable_extrinsic_invalid", func(t *testing.T) {
		h := start(t)
		verr := h.MustRejectTx([]byte{0xde, 0xad, 0xbe, 0xef})
		if verr.Kind != types.ValidityInvalid {
			t.Errorf("expected Invalid, got %v", verr)
		}
	})

	t.Run("concurrent_validate_after_handshake", func(t *testing.T) {
		h := start(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.Server().ValidateTransaction(context.Background(), types.SourceExternal, []byte{0x01, 0x02})
				if _, ok := frame.IsInvalid(err); !ok {
					t.Errorf("concurrent ValidateTransaction: expected validity error, got %v", err)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("concurrent_query_after_handshake", func(t *testing.T) {
		h := start(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.Server().Query(context.Background(), types.StateQuery{
					Path: "/version",
				})
				if err != nil {
					t.Errorf("concurrent Query failed: %v", err)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("query_returns_number", func(t *testing.T) {
		h := start(t)
		h.BuildAndCommit()
		h.BuildAndCommit()

		result := h.Query("/version", nil)
		if result.Number != 2 {
			t.Errorf("query number should be 2 after two commits, got %d", result.Number)
		}
	})

	t.Run("unknown_query_path", func(t *testing.T) {
		h := start(t)
		result := h.Query("/no/such/path", nil)
		if result.Code != types.QueryUnknownPath {
			t.Errorf("expected QueryUnknownPath, got code %d", result.Code)
		}
	})
}
