// Package station relays packets between controllers and accessory decoders.
//
// Controllers and accessories each connect to their own server broker.
// Traffic from one side is forwarded verbatim to every peer on the other.
// Definitions sent by controllers are remembered and replayed to every
// accessory that connects later, before it sees any other traffic.
package station

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/dccrelay/internal/broker"
	"github.com/danmuck/dccrelay/internal/observability"
	"github.com/danmuck/dccrelay/internal/protocol/frame"
	"github.com/danmuck/dccrelay/internal/protocol/packet"
	"github.com/danmuck/dccrelay/internal/protocol/schema"
)

const (
	SideController = "controller"
	SideAccessory  = "accessory"
)

var ErrListenAddrRequired = errors.New("station: listen address required")

type Config struct {
	Name    string
	Version string
	// CurrentReading answers read-current queries.
	CurrentReading int
	Limits         frame.Limits
	// ReplayTimeout bounds the whole replay to one accessory. Replay holds
	// the station lock, so a peer that stops reading is dropped after it.
	ReplayTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:          "DCCRELAY",
		Version:       "1.0",
		Limits:        frame.DefaultLimits(),
		ReplayTimeout: 5 * time.Second,
	}
}

type Station struct {
	cfg        Config
	controller *broker.ServerBroker
	accessory  *broker.ServerBroker

	// mu guards defines and power. The accessory broker holds it across
	// replay and peer publication.
	mu      sync.Mutex
	defines map[packet.Family]*defineTable
	power   bool
}

func New(cfg Config, registry *schema.Registry) *Station {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = def.Name
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = def.Version
	}
	if registry == nil {
		registry = schema.Default()
	}
	s := &Station{
		cfg:     cfg,
		defines: make(map[packet.Family]*defineTable),
	}
	for _, f := range packet.Families() {
		s.defines[f] = newDefineTable()
	}
	if cfg.Limits.MaxParamChars <= 0 {
		cfg.Limits = def.Limits
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = def.ReplayTimeout
	}
	s.cfg = cfg
	s.controller = broker.NewServerBroker(SideController, registry,
		broker.WithFrameLimits(cfg.Limits),
	)
	s.accessory = broker.NewServerBroker(SideAccessory, registry,
		broker.WithFrameLimits(cfg.Limits),
		broker.WithAcceptGate(&s.mu),
		broker.WithAcceptHook(s.replay),
	)
	s.controller.AddListener(broker.ListenerFunc(s.fromController))
	s.accessory.AddListener(broker.ListenerFunc(s.fromAccessory))
	return s
}

func (s *Station) Controller() *broker.ServerBroker {
	return s.controller
}

func (s *Station) Accessory() *broker.ServerBroker {
	return s.accessory
}

// ListenAndServe binds both sides and serves until ctx is done.
func (s *Station) ListenAndServe(ctx context.Context, controllerAddr, accessoryAddr string) error {
	if strings.TrimSpace(controllerAddr) == "" || strings.TrimSpace(accessoryAddr) == "" {
		return ErrListenAddrRequired
	}
	cln, err := net.Listen("tcp", controllerAddr)
	if err != nil {
		return err
	}
	aln, err := net.Listen("tcp", accessoryAddr)
	if err != nil {
		_ = cln.Close()
		return err
	}
	return s.Serve(ctx, cln, aln)
}

// Serve runs both brokers on existing listeners. The first failure stops
// both.
func (s *Station) Serve(ctx context.Context, controllerLn, accessoryLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.controller.Serve(gctx, controllerLn) })
	g.Go(func() error { return s.accessory.Serve(gctx, accessoryLn) })
	log.Info().
		Str("controller", controllerLn.Addr().String()).
		Str("accessory", accessoryLn.Addr().String()).
		Str("name", s.cfg.Name).
		Msg("station started")
	err := g.Wait()
	_ = s.Close()
	return err
}

func (s *Station) Close() error {
	return errors.Join(s.controller.Close(), s.accessory.Close())
}

func (s *Station) fromController(ctx context.Context, msg packet.Message, from broker.Broker, local broker.LocalBroker) error {
	if handled, err := s.answerLocal(ctx, msg, from, local); handled {
		return err
	}
	peers := s.accessory.Peers()
	switch m := msg.(type) {
	case packet.Definition:
		s.mu.Lock()
		s.defines[m.Family()].put(m)
		peers = s.accessory.Peers()
		s.mu.Unlock()
		log.Debug().Str("family", m.Family().String()).Int("id", int(m.ID())).Msg("definition remembered")
	case packet.Deletion:
		s.mu.Lock()
		s.defines[m.Family()].remove(m.ID())
		peers = s.accessory.Peers()
		s.mu.Unlock()
	case packet.Power:
		s.mu.Lock()
		s.power = m.On()
		s.mu.Unlock()
	}
	s.relay(ctx, s.accessory, peers, msg, "downstream")
	return nil
}

func (s *Station) fromAccessory(ctx context.Context, msg packet.Message, from broker.Broker, local broker.LocalBroker) error {
	if handled, err := s.answerLocal(ctx, msg, from, local); handled {
		return err
	}
	s.relay(ctx, s.controller, s.controller.Peers(), msg, "upstream")
	return nil
}

// answerLocal replies to queries the station answers itself.
func (s *Station) answerLocal(ctx context.Context, msg packet.Message, from broker.Broker, local broker.LocalBroker) (bool, error) {
	var replies []packet.Message
	switch m := msg.(type) {
	case packet.ReadCurrent:
		if !m.Query() {
			return false, nil
		}
		replies = append(replies, packet.NewReadCurrent(s.cfg.CurrentReading))
	case packet.ReadStationState:
		s.mu.Lock()
		on := s.power
		s.mu.Unlock()
		replies = append(replies, packet.NewPower(on), packet.NewInfo(s.cfg.Name, s.cfg.Version))
	default:
		return false, nil
	}
	for _, r := range replies {
		if err := local.Send(ctx, from, r); err != nil {
			return true, err
		}
	}
	return true, nil
}

// relay forwards msg to every peer. A failed peer is dropped by its broker
// and does not affect the others.
func (s *Station) relay(ctx context.Context, side *broker.ServerBroker, peers []broker.Identity, msg packet.Message, direction string) {
	for _, peer := range peers {
		err := side.Send(ctx, broker.Remote(peer), msg)
		observability.RecordRelay(direction, err == nil)
		if err != nil {
			log.Debug().Str("side", side.Name()).Str("peer", string(peer)).Err(err).Msg("relay to peer failed")
		}
	}
}

// replay writes every remembered definition to a new accessory peer. The
// accessory broker calls it with s.mu held.
func (s *Station) replay(_ context.Context, c *broker.Conn) error {
	if err := c.SetWriteDeadline(time.Now().Add(s.cfg.ReplayTimeout)); err != nil {
		return err
	}
	defer func() { _ = c.SetWriteDeadline(time.Time{}) }()
	for _, f := range packet.Families() {
		for _, d := range s.defines[f].list() {
			if err := c.Write(d); err != nil {
				return err
			}
			observability.RecordReplay(f.String())
		}
	}
	return nil
}

type Snapshot struct {
	Name            string              `json:"name"`
	Version         string              `json:"version"`
	Power           bool                `json:"power"`
	Defines         map[string][]string `json:"defines"`
	ControllerPeers []string            `json:"controller_peers"`
	AccessoryPeers  []string            `json:"accessory_peers"`
}

// Snapshot reports remembered definitions and connected peers.
func (s *Station) Snapshot() Snapshot {
	s.mu.Lock()
	defines := make(map[string][]string, len(s.defines))
	for f, t := range s.defines {
		wire := make([]string, 0, t.len())
		for _, d := range t.list() {
			wire = append(wire, d.Raw().String())
		}
		defines[f.String()] = wire
	}
	power := s.power
	s.mu.Unlock()
	return Snapshot{
		Name:            s.cfg.Name,
		Version:         s.cfg.Version,
		Power:           power,
		Defines:         defines,
		ControllerPeers: identities(s.controller.Peers()),
		AccessoryPeers:  identities(s.accessory.Peers()),
	}
}

func identities(ids []broker.Identity) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
