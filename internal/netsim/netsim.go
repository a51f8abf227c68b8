// Package netsim is an in-process multi-node mesh simulator: a shared
// radio.Medium, one engine.Engine per simulated node, and a virtual
// clock that steps every node's Tick in lockstep. It serves two
// purposes (SPEC_FULL §1.4): the harness cmd/meshd always runs on for
// local demos, and the substrate internal/engine's end-to-end
// scenario tests (spec §8) drive directly, since no real radio hardware
// or wall-clock timing is available in a test binary.
package netsim

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/IceNet-01/LNK-22-sub000/internal/engine"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshcrypto"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/radio"
	"github.com/IceNet-01/LNK-22-sub000/internal/store"
	"github.com/IceNet-01/LNK-22-sub000/internal/timesource"
)

// Quantum is how far the virtual clock advances per simulated step,
// chosen smaller than mac.SlotDuration so slotted-mode boundary
// crossings land deterministically instead of skipping a slot.
const Quantum = 50 * time.Millisecond

// Node is one simulated mesh node: an Engine plus the collaborators
// netsim constructed for it.
type Node struct {
	Address meshproto.Address
	Engine  *engine.Engine
	Radio   *radio.Simulated
	KV      store.KV
	Time    *timesource.Mock

	deliveries []engine.Delivery
}

// Deliveries returns and clears the application payloads this node has
// received since the last call.
func (n *Node) Deliveries() []engine.Delivery {
	d := n.deliveries
	n.deliveries = nil
	return d
}

// Network is a set of simulated nodes sharing one radio.Medium and one
// virtual clock.
type Network struct {
	medium *radio.Medium
	nodes  map[meshproto.Address]*Node
	order  []meshproto.Address
	now    time.Time
	log    zerolog.Logger
	key    meshcrypto.Key
}

// New builds an empty Network seeded for determinism (same seed, same
// link-loss/jitter draws, same test outcome every run) and starting its
// virtual clock at epoch. A single network key is minted up front and
// shared by every node AddNode creates, matching how a real deployment
// provisions one PSK across its devices (spec §4.1).
func New(seed int64, epoch time.Time) *Network {
	key, err := meshcrypto.DeriveKey(fmt.Sprintf("netsim-seed-%d", seed))
	if err != nil {
		panic(fmt.Sprintf("netsim: derive shared key: %v", err))
	}
	return &Network{
		medium: radio.NewMedium(seed),
		nodes:  make(map[meshproto.Address]*Node),
		now:    epoch,
		log:    zerolog.Nop(),
		key:    key,
	}
}

// SetLogger replaces the Nop default, e.g. to surface engine logs under
// `go test -v`.
func (net *Network) SetLogger(log zerolog.Logger) { net.log = log }

// Now returns the network's current virtual time.
func (net *Network) Now() time.Time { return net.now }

type nodeBuild struct {
	cfg    engine.Config
	ownKey bool
	kv     store.KV
}

// NodeOption customizes a node at AddNode time.
type NodeOption func(*nodeBuild)

// WithKV persists the node under kv instead of the default in-memory
// store, e.g. cmd/meshd backing its operator-facing node with
// store.File so its identity and route cache survive a restart while
// the rest of the simulated network stays ephemeral.
func WithKV(kv store.KV) NodeOption {
	return func(b *nodeBuild) { b.kv = kv }
}

// WithNetworkID pins a node's network ID instead of deriving it from
// its key — used by isolation tests that need two nodes to disagree on
// network ID deliberately, independent of whether they share a key.
func WithNetworkID(id uint16) NodeOption {
	return func(b *nodeBuild) {
		b.cfg.NetworkID = id
		b.cfg.NetworkIDOverride = true
	}
}

// WithEncrypt overrides the default encrypt-on posture, e.g. cmd/meshd
// honoring an operator's MESH_ENCRYPT=false diagnostic override.
func WithEncrypt(enabled bool) NodeOption {
	return func(b *nodeBuild) { b.cfg.EncryptEnabled = enabled }
}

// WithOwnKey gives the node a freshly generated key instead of the
// network's shared provisioning key, so it cannot authenticate traffic
// from the rest of the network (spec §8 replay-rejection / rogue-node
// scenarios).
func WithOwnKey() NodeOption {
	return func(b *nodeBuild) { b.ownKey = true }
}

// AddNode constructs and starts a new simulated node at addr, joined to
// the network's shared medium. Every node is provisioned with the
// network's shared key by default (WithOwnKey overrides this), the way
// a real deployment pre-shares one PSK across its devices (spec §4.1).
func (net *Network) AddNode(addr uint32, opts ...NodeOption) (*Node, error) {
	a := meshproto.Address(addr)
	if _, exists := net.nodes[a]; exists {
		return nil, fmt.Errorf("netsim: node %d already exists", addr)
	}

	build := nodeBuild{
		cfg: engine.Config{
			Self:           a,
			Channel:        0,
			EncryptEnabled: true,
			Logger:         net.log,
			Rand:           rand.New(rand.NewSource(int64(addr) + 1)),
		},
	}
	for _, opt := range opts {
		opt(&build)
	}

	kv := build.kv
	if kv == nil {
		kv = store.NewMemory()
	}
	if !build.ownKey {
		if err := kv.Store(store.KeyNetKey, net.key[:]); err != nil {
			return nil, fmt.Errorf("netsim: provision node %d key: %w", addr, err)
		}
	}

	ts := timesource.NewMock()
	sim := radio.NewSimulated(net.medium, addr)

	e, err := engine.New(build.cfg, sim, kv, ts, net.now)
	if err != nil {
		return nil, fmt.Errorf("netsim: new node %d: %w", addr, err)
	}
	e.Start(net.now)

	n := &Node{Address: a, Engine: e, Radio: sim, KV: kv, Time: ts}
	net.nodes[a] = n
	net.order = append(net.order, a)
	return n, nil
}

// Node looks up a previously-added node by address.
func (net *Network) Node(addr uint32) (*Node, bool) {
	n, ok := net.nodes[meshproto.Address(addr)]
	return n, ok
}

// Link makes a and b able to hear each other (spec §8 scenario setup).
func (net *Network) Link(a, b uint32, link radio.Link) {
	net.medium.SetLink(a, b, link)
}

// GoodLink is a convenience Link with no loss or meaningful latency,
// for tests that only care about reachability.
func GoodLink() radio.Link {
	return radio.Link{RSSI: -60, SNR: 9}
}

// Unlink severs connectivity between a and b (spec §8 scenarios 4/5:
// failover and partition-and-heal).
func (net *Network) Unlink(a, b uint32) {
	net.medium.RemoveLink(a, b)
}

// DropNext discards the next n frames addr transmits on the shared
// medium, a deterministic stand-in for a lost ACK (spec §8 scenario 3).
func (net *Network) DropNext(addr uint32, n int) {
	net.medium.DropNext(addr, n)
}

// LastFrame returns the most recent frame addr transmitted, for tests
// that capture and later replay a genuine frame (spec §8 scenario 6).
func (net *Network) LastFrame(addr uint32) ([]byte, bool) {
	return net.medium.LastFrame(addr)
}

// Advance steps the virtual clock forward by d in Quantum increments,
// pumping each node's simulated radio inbox into its engine and ticking
// every engine once per increment (spec §4.8's cooperative loop, run in
// lockstep across all nodes rather than real goroutines per node, so
// scenario tests stay deterministic). Nodes are pumped in the order they
// were added rather than map order, since Go's map iteration order is
// randomized and scenarios need the same outcome on every run.
func (net *Network) Advance(d time.Duration) {
	deadline := net.now.Add(d)
	for net.now.Before(deadline) {
		net.now = net.now.Add(Quantum)
		for _, a := range net.order {
			net.pump(net.nodes[a])
		}
	}
}

func (net *Network) pump(n *Node) {
	for {
		f, ok := n.Radio.RxPoll()
		if !ok {
			break
		}
		n.Engine.EnqueueRxFrame(f)
	}
	n.Engine.Tick(net.now)
	for {
		select {
		case d := <-n.Engine.Deliveries():
			n.deliveries = append(n.deliveries, d)
		default:
			return
		}
	}
}
