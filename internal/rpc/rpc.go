// Package rpc serves the liveness/debug JSON-RPC surface (spec §6):
// a single method, get_nvme_controllers, returning a snapshot of each
// active queue pair's command log tail. Never consulted by submit or
// ioworker — this is an observability side-channel only, grounded on
// the same net/rpc/jsonrpc plumbing used by other Go daemons exposing
// a minimal debug API (no third-party RPC framework appears anywhere
// in the example pack, so this concern stays on the standard library;
// see DESIGN.md).
package rpc

import (
	"encoding/json"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/nvmeqd/nvmeqd/internal/cmdlog"
	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/interfaces"
)

// ControllerSnapshot is the Go-idiomatic per-qpair reshaping of spec
// §6's flat "alternating (tail_index, [last 4 opcodes])" wire array:
// one struct per active queue pair instead of a flat alternating list.
type ControllerSnapshot struct {
	QpairID     int
	Tail        int
	LastOpcodes [4]byte
}

// MarshalJSON encodes one snapshot as a two-element JSON array, the
// tail index followed by the 4-element opcode array, rather than
// emitting the Go-shaped struct fields by name. A reply of several
// snapshots is therefore an array of such pairs, not one flat array.
func (s ControllerSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Tail, s.LastOpcodes})
}

// Service implements the JSON-RPC surface over a shared command log
// table. GetNVMEControllers walks every active queue pair, per spec §6.
type Service struct {
	Log      *cmdlog.Table
	NumQpair int
}

// GetNVMEControllers returns one ControllerSnapshot per active queue
// pair (one whose cmdlog ring is not cleared). Liveness/debug only.
func (s *Service) GetNVMEControllers(args struct{}, reply *[]ControllerSnapshot) error {
	out := make([]ControllerSnapshot, 0, s.NumQpair)
	for qid := 0; qid < s.NumQpair; qid++ {
		tail, err := s.Log.TailIndex(qid)
		if err != nil || tail == uint32(constants.CmdLogDepth) {
			continue // not in use
		}

		entries, err := s.Log.Dump(qid, 4)
		if err != nil {
			continue
		}
		var last [4]byte
		for i, e := range entries {
			if i >= 4 {
				break
			}
			last[i] = e.Cmd.Opcode
		}
		out = append(out, ControllerSnapshot{QpairID: qid, Tail: int(tail), LastOpcodes: last})
	}
	*reply = out
	return nil
}

// Serve registers svc and accepts JSON-RPC connections on listener
// until it is closed, running an accept-then-sleep(100ms) loop
// indefinitely (spec §5: "the driver-init RPC server runs in a
// background thread doing accept + sleep(100 ms) indefinitely").
func Serve(listener net.Listener, svc *Service, logger interfaces.Logger) {
	server := rpc.NewServer()
	if err := server.RegisterName("Service", svc); err != nil {
		if logger != nil {
			logger.Printf("rpc: register service: %v", err)
		}
		return
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if logger != nil {
				logger.Printf("rpc: accept: %v", err)
			}
			return
		}
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		time.Sleep(100 * time.Millisecond)
	}
}
