package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IceNet-01/LNK-22-sub000/internal/meshcrypto"
	"github.com/IceNet-01/LNK-22-sub000/internal/meshproto"
	"github.com/IceNet-01/LNK-22-sub000/internal/route"
	"github.com/IceNet-01/LNK-22-sub000/internal/store"
)

// consoleRequest is one line submitted by the operator-facing console
// (SPEC_FULL §3, spec §7): processed on the engine loop like any other
// event source so commands never race the protocol state they inspect
// or mutate.
type consoleRequest struct {
	line  string
	reply chan consoleReply
}

type consoleReply struct {
	output string
	err    error
}

// SubmitCommand enqueues line for execution on the engine loop and
// blocks for its result. Returns ErrBackpressure if the console queue
// is full.
func (e *Engine) SubmitCommand(line string) (string, error) {
	reply := make(chan consoleReply, 1)
	req := consoleRequest{line: line, reply: reply}
	select {
	case e.console <- req:
	default:
		return "", ErrBackpressure
	}
	r := <-reply
	return r.output, r.err
}

func (e *Engine) executeConsoleCommand(req consoleRequest, now time.Time) {
	out, err := e.runCommand(req.line, now)
	req.reply <- consoleReply{output: out, err: err}
}

// runCommand dispatches one console line (SPEC_FULL §3's console
// surface). Unknown commands and wrong argument counts return a usage
// error string rather than panicking on the split.
func (e *Engine) runCommand(line string, now time.Time) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "status":
		return e.cmdStatus(now), nil
	case "neighbors":
		return e.cmdNeighbors(now), nil
	case "routes":
		return e.cmdRoutes(args), nil
	case "send":
		return e.cmdSend(args, now)
	case "broadcast":
		return e.cmdBroadcast(args, now)
	case "beacon":
		e.sendBeacon(now)
		return "beacon sent", nil
	case "channel":
		return e.cmdChannel(args)
	case "psk":
		return e.cmdPSK(args, now)
	case "netid":
		return e.cmdNetID(args)
	case "encrypt":
		return e.cmdEncrypt(args)
	case "name":
		return e.cmdName(args)
	case "time":
		return e.cmdTime(now), nil
	case "mac":
		return e.cmdMAC(), nil
	case "crypto":
		return e.cmdCrypto(), nil
	case "reboot":
		return "reboot requires a process restart; engine state is unaffected", nil
	case "factory_reset":
		return e.cmdFactoryReset()
	case "help":
		return consoleHelp, nil
	default:
		return "", fmt.Errorf("unknown command %q, try `help`", cmd)
	}
}

const consoleHelp = `status | neighbors | routes [dest] | send <addr|name> <text> [ack] | broadcast <text> |
beacon | channel <0-7> | psk show|set <phrase>|import <hex>|export | netid <n>|auto |
encrypt on|off | name set|add <addr> <friendly> | name list | time | mac | crypto | reboot | factory_reset`

func (e *Engine) cmdStatus(now time.Time) string {
	s := e.Status(now)
	return fmt.Sprintf(
		"self=%d net_id=%04x encrypt=%v mac=%s time_stratum=%d synced=%v neighbors=%d routes=%d pending_acks=%d partitions=%d nonce_exhausted=%v",
		s.Self, s.NetworkID, s.EncryptEnabled, s.MACMode, s.TimeStratum, s.TimeSynced,
		s.NeighborCount, s.RouteCount, s.PendingAcks, s.PartitionEvents, s.NonceExhausted,
	)
}

func (e *Engine) cmdNeighbors(now time.Time) string {
	entries := e.neighbors.All()
	if len(entries) == 0 {
		return "no neighbors"
	}
	var b strings.Builder
	for _, n := range entries {
		fmt.Fprintf(&b, "%d quality=%d rssi=%d snr=%.1f last_heard=%s\n",
			n.Address, n.LinkQuality, n.LastRSSI, n.LastSNR, now.Sub(n.LastHeard).Round(time.Second))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) cmdRoutes(args []string) string {
	if len(args) == 1 {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err.Error()
		}
		return formatRoutes(e.routes.AllForDest(addr))
	}
	return formatRoutes(e.routes.All())
}

func formatRoutes(entries []route.Entry) string {
	if len(entries) == 0 {
		return "no routes"
	}
	var b strings.Builder
	for _, r := range entries {
		primary := ""
		if r.IsPrimary {
			primary = " primary"
		}
		fmt.Fprintf(&b, "%d via=%d hops=%d quality=%d score=%d%s\n",
			r.Destination, r.NextHop, r.HopCount, r.Quality, r.Score, primary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) cmdSend(args []string, now time.Time) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: send <addr|name> <text> [ack]")
	}
	dest, err := parseAddress(args[0])
	if err != nil {
		names, lerr := store.LoadNodeNames(e.kv)
		if lerr != nil {
			return "", lerr
		}
		found := false
		for addr, name := range names {
			if name == args[0] {
				dest, found = meshproto.Address(addr), true
				break
			}
		}
		if !found {
			return "", err
		}
	}
	ack := len(args) >= 3 && args[2] == "ack"
	text := args[1]
	if err := e.originateUnicast(dest, []byte(text), ack, 0, now); err != nil {
		return "", err
	}
	return "queued", nil
}

func (e *Engine) cmdBroadcast(args []string, now time.Time) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: broadcast <text>")
	}
	if err := e.originateBroadcast([]byte(args[0]), 0, now); err != nil {
		return "", err
	}
	return "queued", nil
}

func (e *Engine) cmdChannel(args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("channel=%d", e.cfg.Channel), nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n > 7 {
		return "", fmt.Errorf("channel must be 0-7")
	}
	e.cfg.Channel = uint8(n)
	return fmt.Sprintf("channel set to %d", n), nil
}

func (e *Engine) cmdPSK(args []string, now time.Time) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: psk show|set <phrase>|import <hex>|export")
	}
	switch args[0] {
	case "show", "export":
		return e.crypto.CurrentKey().Hex(), nil
	case "set":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: psk set <phrase>")
		}
		key, err := meshcrypto.DeriveKey(args[1])
		if err != nil {
			return "", err
		}
		if err := e.crypto.RotateKey(key, now); err != nil {
			return "", err
		}
		return "key rotated from passphrase", nil
	case "import":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: psk import <hex>")
		}
		key, err := meshcrypto.KeyFromHex(args[1])
		if err != nil {
			return "", err
		}
		if err := e.crypto.RotateKey(key, now); err != nil {
			return "", err
		}
		return "key imported and rotated", nil
	default:
		return "", fmt.Errorf("usage: psk show|set <phrase>|import <hex>|export")
	}
}

func (e *Engine) cmdNetID(args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("net_id=%04x (override=%v)", e.networkID(), e.networkIDOverride != nil), nil
	}
	if args[0] == "auto" {
		e.networkIDOverride = nil
		return "net_id reverted to key-derived value", nil
	}
	n, err := strconv.ParseUint(args[0], 16, 16)
	if err != nil {
		return "", fmt.Errorf("net_id must be `auto` or a 16-bit hex value")
	}
	id := uint16(n)
	e.networkIDOverride = &id
	return fmt.Sprintf("net_id override set to %04x", id), nil
}

func (e *Engine) cmdEncrypt(args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("encrypt=%v", e.encryptEnabled), nil
	}
	switch args[0] {
	case "on":
		e.encryptEnabled = true
	case "off":
		e.encryptEnabled = false
	default:
		return "", fmt.Errorf("usage: encrypt on|off")
	}
	return fmt.Sprintf("encrypt=%v", e.encryptEnabled), nil
}

// cmdName dispatches the `name` console command's exact-keyword
// subcommands (SPEC_FULL §3, spec §6: `name [set|add|list] …`): `list`
// prints every assigned friendly name, `set` assigns one (overwriting
// any existing name for that address), and `add` assigns one only if
// the address has no name yet.
func (e *Engine) cmdName(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: name set <addr> <friendly> | name add <addr> <friendly> | name list")
	}

	switch args[0] {
	case "list":
		return e.cmdNameList()
	case "set":
		return e.cmdNameAssign(args[1:], true)
	case "add":
		return e.cmdNameAssign(args[1:], false)
	default:
		return "", fmt.Errorf("usage: name set <addr> <friendly> | name add <addr> <friendly> | name list")
	}
}

func (e *Engine) cmdNameList() (string, error) {
	names, err := store.LoadNodeNames(e.kv)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "no names assigned", nil
	}
	var b strings.Builder
	for addr, name := range names {
		fmt.Fprintf(&b, "%d=%s\n", addr, name)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Engine) cmdNameAssign(args []string, overwrite bool) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: name %s <addr> <friendly>", map[bool]string{true: "set", false: "add"}[overwrite])
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		return "", err
	}
	names, err := store.LoadNodeNames(e.kv)
	if err != nil {
		return "", err
	}
	if existing, ok := names[uint32(addr)]; ok && !overwrite {
		return "", fmt.Errorf("%d already named %q, use `name set` to overwrite", addr, existing)
	}
	names[uint32(addr)] = args[1]
	if err := store.SaveNodeNames(e.kv, names); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d named %q", addr, args[1]), nil
}

func (e *Engine) cmdTime(now time.Time) string {
	stratum, quality, tag, synced := e.timeElection.Best(now)
	return fmt.Sprintf("stratum=%d quality=%d tag=%d synced=%v", stratum, quality, tag, synced)
}

func (e *Engine) cmdMAC() string {
	return fmt.Sprintf("mode=%s my_slot=%d", e.macLayer.Mode(), e.macLayer.MySlot())
}

func (e *Engine) cmdCrypto() string {
	return fmt.Sprintf("seal_ok=%d seal_fail=%d open_ok=%d open_fail=%d exhausted=%v",
		e.crypto.Stats.SealOK, e.crypto.Stats.SealFail, e.crypto.Stats.OpenOK, e.crypto.Stats.OpenFail, e.crypto.Exhausted())
}

// cmdFactoryReset wipes the persisted key, nonce counter, node names,
// and route cache, forcing New to mint a fresh identity on next start
// (SPEC_FULL §3). It does not reset in-memory state: the operator is
// expected to restart the process afterward, matching `reboot`'s
// contract.
func (e *Engine) cmdFactoryReset() (string, error) {
	// Each key gets its own loader's zero value, not a bare nil blob:
	// LoadNodeNames/decodeRouteCache run json.Unmarshal on whatever is
	// stored and choke on a zero-length byte slice.
	zeroed := map[string][]byte{
		store.KeyNetKey:         nil,
		store.KeyNonceCounter:   nil,
		store.KeyNodeName:       nil,
		store.KeyNodeNamesTable: []byte("{}"),
		store.KeyRouteCache:     []byte("[]"),
	}
	for key, blob := range zeroed {
		if err := e.kv.Store(key, blob); err != nil {
			return "", fmt.Errorf("factory reset: clear %s: %w", key, err)
		}
	}
	return "factory state cleared, restart the process to re-provision", nil
}

// parseAddress accepts decimal or 0x-prefixed hex node addresses.
func parseAddress(s string) (meshproto.Address, error) {
	base := 10
	trimmed := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		trimmed = s[2:]
	}
	n, err := strconv.ParseUint(trimmed, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return meshproto.Address(n), nil
}
