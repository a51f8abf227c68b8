// Package engine implements the single-threaded cooperative scheduler
// of spec §4.8: the sole mutator of the neighbor, route, pending-ACK,
// and seen-packet tables, multiplexing radio events, timers,
// application requests, and console commands.
package engine

import (
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/IceNet-01/LNK-22-sub000/internal/mac"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshcrypto"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/neighbor"
	"github.com/IceNet-01/LNK-22-sub000/internal/radio"
	"github.com/IceNet-01/LNK-22-sub000/internal/route"
	"github.com/IceNet-01/LNK-22-sub000/internal/routing"
	"github.com/IceNet-01/LNK-22-sub000/internal/store"
	"github.com/IceNet-01/LNK-22-sub000/internal/timesource"
	"github.com/IceNet-01/LNK-22-sub000/internal/transport"
)

// Error taxonomy surfaced to the application layer (spec §7).
var (
	ErrBackpressure = errors.New("engine: tx window full, try again")
	ErrNoRoute      = errors.New("engine: no route to destination")
	ErrAuthFailed   = errors.New("engine: authentication failed")
	ErrFatalState   = errors.New("engine: fatal persistent-state error, node must be re-keyed")
	ErrPayloadTooLarge = errors.New("engine: payload exceeds MAX_PAYLOAD")
)

// RadioQueueDepth bounds the ISR-to-engine raw frame queue (spec §4.8,
// §5: the ISR only enqueues, never blocks).
const RadioQueueDepth = 32

// RadioDrainPerTick bounds how many queued frames one tick processes,
// so a burst cannot starve timers or application requests (spec §4.8).
const RadioDrainPerTick = 8

// AppRequestQueueDepth bounds pending application send/status requests.
const AppRequestQueueDepth = 16

// ConsoleQueueDepth bounds pending console commands.
const ConsoleQueueDepth = 4

// Periodic timer intervals (spec §4.4, §4.6, §4.1).
const (
	NeighborScavengeInterval = 10 * time.Second
	BeaconInterval           = mac.FrameDuration * mac.SlotsPerFrame
	TopologyBroadcastInterval = neighbor.TopologyBroadcastInterval
	RouteRefreshInterval     = 30 * time.Second
	NoncePersistStrobe       = 30 * time.Second
	PruneAgedRoutesInterval  = 60 * time.Second
	DiscoveryExpireInterval  = routing.DiscoveryBufferTTL
)

// Config configures a new Engine.
type Config struct {
	Self          meshproto.Address
	NetworkID     uint16 // used only when NetworkIDOverride is set; otherwise derived from the crypto key (spec §4.1)
	NetworkIDOverride bool
	Channel       uint8
	EncryptEnabled bool // always true in production; console `encrypt off` is a diagnostic escape hatch (SPEC_FULL §3)
	Logger        zerolog.Logger
	Rand          *rand.Rand

	// BatterySource reports current battery voltage for BEACON/TELEMETRY
	// payloads. Optional; nil reports 0 (e.g. mains-powered or simulated
	// nodes with no battery modeled).
	BatterySource func() uint16
}

// Engine is the mesh protocol's single-threaded scheduler. Start, Tick,
// Status and Shutdown run on the goroutine that drives Tick. The
// ISR/application/console boundary (spec §5) is EnqueueRxFrame, which
// never blocks, and Send, Broadcast, StatusSync and SubmitCommand, which
// queue a request and block until a later Tick answers it, so they must
// be called from a goroutine other than the one calling Tick.
type Engine struct {
	cfg Config
	log zerolog.Logger

	radioDriver radio.Driver
	kv          store.KV

	neighbors *neighbor.Table
	routes    *route.Table
	routingMgr *routing.Manager
	transportMgr *transport.Manager
	crypto    *meshcrypto.Crypto
	macLayer  *mac.MAC
	timeElection *timesource.Election

	timers *timerWheel

	radioQueue  chan radio.RxFrame
	appRequests chan appRequest
	console     chan consoleRequest

	started time.Time

	encryptEnabled bool
	networkIDOverride *uint16

	packetIDCounter uint16
	sequence        uint8

	partitionEventsAtLastStatus uint64
	appDeliveries               chan Delivery

	frameEpoch    time.Time
	frameEpochSet bool
	outbox        map[uint16]outboxEntry
}

// outboxEntry holds a frame deferred by MAC arbitration (backoff or
// waiting for its slot) until a retry timer fires.
type outboxEntry struct {
	frame    []byte
	isBeacon bool
}

// Delivery is a decoded application payload handed up from the engine,
// consumed by whatever sits above it (a CLI, a higher-level daemon).
type Delivery struct {
	Source  meshproto.Address
	Channel uint8
	Payload []byte
}

// New constructs an Engine. kv must already contain (or will be seeded
// with) the network key; radioDriver is the physical-layer collaborator.
// now seeds Status's uptime clock and the route-cache warm-start's
// back-dating (spec §5: the engine never calls time.Now() itself).
func New(cfg Config, radioDriver radio.Driver, kv store.KV, timeCollab timesource.Collaborator, now time.Time) (*Engine, error) {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(int64(cfg.Self) + 1))
	}

	crypto, err := meshcrypto.New(meshcrypto.Node{Address: cfg.Self}, kv)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		log:          cfg.Logger.With().Uint32("node", uint32(cfg.Self)).Logger(),
		radioDriver:  radioDriver,
		kv:           kv,
		neighbors:    neighbor.NewTable(),
		routes:       route.NewTable(),
		crypto:       crypto,
		macLayer:     mac.New(uint32(cfg.Self), cfg.Rand),
		timeElection: timesource.NewElection(timeCollab),
		timers:       newTimerWheel(),
		radioQueue:   make(chan radio.RxFrame, RadioQueueDepth),
		appRequests:  make(chan appRequest, AppRequestQueueDepth),
		console:      make(chan consoleRequest, ConsoleQueueDepth),
		appDeliveries: make(chan Delivery, AppRequestQueueDepth),
		encryptEnabled: cfg.EncryptEnabled,
		outbox:        make(map[uint16]outboxEntry),
		started:       now,
	}
	e.routingMgr = routing.NewManager(cfg.Self, e.neighbors, e.routes)
	e.transportMgr = transport.NewManager(cfg.Rand)

	if cfg.NetworkIDOverride {
		id := cfg.NetworkID
		e.networkIDOverride = &id
	}

	if err := radioDriver.SetParams(radio.DefaultParams()); err != nil {
		return nil, err
	}

	if err := e.warmStartRoutes(now); err != nil {
		e.log.Warn().Err(err).Msg("route cache warm-start failed, starting with an empty route table")
	}

	return e, nil
}

func (e *Engine) warmStartRoutes(now time.Time) error {
	b, ok, err := e.kv.Load(store.KeyRouteCache)
	if err != nil || !ok {
		return err
	}
	entries, err := decodeRouteCache(b, now)
	if err != nil {
		return err
	}
	e.routes.Restore(entries)
	return nil
}

// networkID returns the network ID this node stamps on outgoing frames
// and filters incoming frames against: the crypto key's derived ID,
// unless a console `netid` override is active (SPEC_FULL §3).
func (e *Engine) networkID() uint16 {
	if e.networkIDOverride != nil {
		return *e.networkIDOverride
	}
	return e.crypto.NetworkID()
}

func (e *Engine) nextPacketID() uint16 {
	id := e.packetIDCounter
	e.packetIDCounter++
	return id
}

func (e *Engine) nextSequence() uint8 {
	s := e.sequence
	e.sequence++
	return s
}

// EnqueueRxFrame is the ISR-side entry point (spec §4.8, §5): pushes a
// raw received frame onto the bounded radio queue, dropping it if full
// rather than blocking the caller.
func (e *Engine) EnqueueRxFrame(f radio.RxFrame) {
	select {
	case e.radioQueue <- f:
	default:
	}
}

// Deliveries exposes decoded application payloads for the caller to
// consume (e.g. cmd/meshd prints them, or a higher-level app reads them).
func (e *Engine) Deliveries() <-chan Delivery { return e.appDeliveries }
