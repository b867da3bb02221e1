// Package nvmeqd provides the main API for driving an NVMe qualification
// workload: reserving the shared oracle/command-log/config state, attaching
// queue pairs, and submitting read/write/admin traffic through a Transport.
package nvmeqd

import (
	"context"
	"math/rand"
	"unsafe"

	"github.com/nvmeqd/nvmeqd/internal/cmdlog"
	"github.com/nvmeqd/nvmeqd/internal/constants"
	"github.com/nvmeqd/nvmeqd/internal/cpuaffinity"
	"github.com/nvmeqd/nvmeqd/internal/interfaces"
	"github.com/nvmeqd/nvmeqd/internal/logging"
	"github.com/nvmeqd/nvmeqd/internal/oracle"
	"github.com/nvmeqd/nvmeqd/internal/shm"
	"github.com/nvmeqd/nvmeqd/internal/submit"
	"github.com/nvmeqd/nvmeqd/internal/transport"
)

// Namespace and Controller are re-exported from internal/submit: they
// must live there to avoid a circular import (submit.Queue references
// them directly), but they are part of this package's public API.
type (
	Namespace  = submit.Namespace
	Controller = submit.Controller
)

// Role identifies whether this process reserves shared state (Primary)
// or attaches to state reserved by another process (Secondary).
type Role = shm.Role

const (
	RolePrimary   = shm.RolePrimary
	RoleSecondary = shm.RoleSecondary
)

// DriverParams contains parameters for initializing a Driver. This is
// instead of
// kernel device attributes, it carries the shared-memory topology a
// qualification run needs to agree on between its primary and any
// secondary processes.
type DriverParams struct {
	// Role determines whether Init reserves shared regions (Primary)
	// or looks up regions reserved by another process (Secondary).
	Role Role

	// Prefix namespaces this driver instance's /dev/shm region names,
	// so multiple instances on one host don't collide.
	Prefix string

	// TotalSectors sizes the checksum oracle's CRC table (4 bytes per
	// sector). Only consulted by the primary.
	TotalSectors uint64

	// Transport is the backing command executor. If nil, Init creates
	// a LoopbackTransport (in-memory, synchronous).
	Transport transport.Transport
}

// Options contains additional options for driver creation.
type Options struct {
	// Logger receives debug/info messages. If nil, logging.Default() is used.
	Logger interfaces.Logger

	// Observer receives metrics events. If nil, Init installs a
	// MetricsObserver backed by a fresh Metrics instance.
	Observer interfaces.Observer
}

// Driver is a live handle on one qualification driver instance: the
// shared oracle/config state, the command log, the queue pairs
// attached to it, and the transport they submit through. There is no
// kernel device node to track, since every namespace here is simulated.
type Driver struct {
	role Role
	shm  *shm.Manager

	oracle     *oracle.Oracle
	log        *cmdlog.Table
	config     *uint64
	controller *Controller
	transport  transport.Transport

	logger   interfaces.Logger
	metrics  *Metrics
	observer interfaces.Observer

	prng *rand.Rand
}

// Init creates or attaches to a driver instance's shared state,
// depending on params.Role. As primary, it reserves the write-token,
// CRC table, global config, and command-log coordination regions (a
// CRC-table reservation failure degrades to oracle-disabled mode
// rather than failing the whole call). As secondary, it looks up all
// four regions; any single miss is fatal. In both roles it then seeds
// the process-wide PRNG and pins the calling process to a CPU core.
//
// The command log itself (internal/cmdlog.Table) lives in this
// process's heap rather than the reserved shared region: its entries
// carry a caller-supplied `any` payload that cannot be laid out as raw
// bytes, so "driver_cmdlog_table" is reserved purely as a coordination
// token between primary and secondary, not as the ring's actual backing
// store.
func Init(ctx context.Context, params DriverParams, options *Options) (*Driver, error) {
	if options == nil {
		options = &Options{}
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	mgr := shm.New(params.Role, params.Prefix, loggerFor(logger))

	d := &Driver{
		role:   params.Role,
		shm:    mgr,
		logger: logger,
		log:    cmdlog.New(),
	}

	var err error
	if params.Role == RolePrimary {
		err = d.initPrimary(mgr, params)
	} else {
		err = d.initSecondary(mgr)
	}
	if err != nil {
		return nil, err
	}

	d.transport = params.Transport
	if d.transport == nil {
		d.transport = transport.NewLoopbackTransport()
	}

	d.metrics = NewMetrics()
	if options.Observer != nil {
		d.observer = options.Observer
	} else {
		d.observer = NewMetricsObserver(d.metrics)
	}

	d.controller = submit.NewController()
	d.prng = rand.New(rand.NewSource(constants.DefaultSeed))

	cpuaffinity.PinToCore(logger)

	return d, nil
}

func (d *Driver) initPrimary(mgr *shm.Manager, params DriverParams) error {
	tokenRegion, err := mgr.Reserve(constants.RegionWriteToken, 8, 0)
	if err != nil {
		return WrapError("Driver.Init", err)
	}

	var o *oracle.Oracle
	crcRegion, err := mgr.Reserve(constants.RegionCRC32Table, int(4*params.TotalSectors), shm.FlagIOVANonContig)
	if err != nil {
		d.logger.Printf("nvmeqd: CRC table reservation failed, running oracle-disabled: %v", err)
	} else {
		o, err = oracle.New(crcRegion.Bytes, regionUint64(tokenRegion))
		if err != nil {
			return WrapError("Driver.Init", err)
		}
	}

	configRegion, err := mgr.Reserve(constants.RegionGlobalConfig, 8, 0)
	if err != nil {
		return WrapError("Driver.Init", err)
	}

	if _, err := mgr.Reserve(constants.RegionCmdLogTable, 8, 0); err != nil {
		return WrapError("Driver.Init", err)
	}

	d.oracle = o
	d.config = regionUint64(configRegion)
	return nil
}

func (d *Driver) initSecondary(mgr *shm.Manager) error {
	tokenRegion, err := mgr.Lookup(constants.RegionWriteToken)
	if err != nil {
		return WrapError("Driver.Init", err)
	}

	crcRegion, err := mgr.Lookup(constants.RegionCRC32Table)
	if err != nil {
		return WrapError("Driver.Init", err)
	}
	o, err := oracle.New(crcRegion.Bytes, regionUint64(tokenRegion))
	if err != nil {
		return WrapError("Driver.Init", err)
	}

	configRegion, err := mgr.Lookup(constants.RegionGlobalConfig)
	if err != nil {
		return WrapError("Driver.Init", err)
	}

	if _, err := mgr.Lookup(constants.RegionCmdLogTable); err != nil {
		return WrapError("Driver.Init", err)
	}

	d.oracle = o
	d.config = regionUint64(configRegion)
	return nil
}

// QueuePair is one attached submission queue, wrapping internal/submit.Queue.
type QueuePair struct {
	ID    int
	Queue *submit.Queue

	driver *Driver
}

// NewQueuePair attaches a new queue pair with the given id (< MaxQueuePairs)
// to the driver's shared state and transport.
func (d *Driver) NewQueuePair(id int) (*QueuePair, error) {
	if id < 0 || id >= constants.MaxQueuePairs {
		return nil, NewQueuePairError("Driver.NewQueuePair", id, ErrCodeQueuePairLimit, "queue pair id out of range")
	}

	q, err := submit.NewQueue(id, d.transport, d.oracle, d.log, d.config, d.logger, d.observer)
	if err != nil {
		return nil, WrapError("Driver.NewQueuePair", err)
	}

	d.controller.Attach(q)
	return &QueuePair{ID: id, Queue: q, driver: d}, nil
}

// Destroy clears this queue pair's command log ring and detaches it
// from the owning driver's controller.
func (qp *QueuePair) Destroy() error {
	if qp.driver != nil {
		qp.driver.controller.Detach(qp.ID)
	}
	return qp.Queue.Destroy()
}

// ConfigBits reports the current shared global config word.
func (d *Driver) ConfigBits() uint64 {
	if d.config == nil {
		return 0
	}
	return *d.config
}

// Config sets the shared global config word (e.g. submit.ConfigVerifyRead).
func (d *Driver) Config(bits uint64) {
	if d.config != nil {
		*d.config = bits
	}
}

// Controller returns the routing controller used to dispatch admin
// commands (qpair id < 0) to queue pair 0.
func (d *Driver) Controller() *Controller {
	return d.controller
}

// CmdLog returns the shared command log table, for wiring into
// internal/rpc.Service.
func (d *Driver) CmdLog() *cmdlog.Table {
	return d.log
}

// Metrics returns this driver's built-in metrics instance.
func (d *Driver) Metrics() *Metrics {
	return d.metrics
}

// PRNG returns the process-wide pseudo-random source seeded at Init,
// shared across every ioworker scenario run through this driver (spec:
// a single *rand.Rand stream per process, not per worker).
func (d *Driver) PRNG() *rand.Rand {
	return d.prng
}

// Close releases this driver's resources. A primary frees every shared
// region it reserved; a secondary only drops its local handles.
func (d *Driver) Close() error {
	if d.metrics != nil {
		d.metrics.Stop()
	}

	regions := []string{
		constants.RegionWriteToken,
		constants.RegionCRC32Table,
		constants.RegionGlobalConfig,
		constants.RegionCmdLogTable,
	}

	if d.role != RolePrimary {
		for _, name := range regions {
			d.shm.Detach(name)
		}
		return nil
	}

	var firstErr error
	for _, name := range regions {
		if err := d.shm.Free(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return WrapError("Driver.Close", firstErr)
	}
	return nil
}

// regionUint64 reinterprets the first 8 bytes of a shared region as a
// *uint64, since the shared token and config words are fixed-layout
// 8-byte words rather than Go structs.
func regionUint64(r *shm.Region) *uint64 {
	if r == nil || len(r.Bytes) < 8 {
		return nil
	}
	return (*uint64)(unsafe.Pointer(&r.Bytes[0]))
}

func loggerFor(l interfaces.Logger) *logging.Logger {
	if ll, ok := l.(*logging.Logger); ok {
		return ll
	}
	return logging.Default()
}
