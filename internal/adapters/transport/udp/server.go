package udp

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

const (
	DefaultListen     = ":5683"
	DefaultAckTimeout = time.Second
	DefaultEventQueue = 256
)

var errReset = errors.New("udp: peer reset")

// Config for the listening side.
type Config struct {
	Listen     string        `yaml:"listen"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
	EventQueue int           `yaml:"event_queue"`
}

func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.EventQueue <= 0 {
		c.EventQueue = DefaultEventQueue
	}
}

type pendingCON struct {
	peer   ports.Endpoint
	token  string
	result chan error
}

// Server is a ports.Transport over one UDP socket. A reader goroutine
// decodes requests into events; Send writes notifications and, for
// confirmable ones, waits up to AckTimeout for the acknowledgement.
type Server struct {
	cfg    Config
	conn   *net.UDPConn
	obs    ports.Observability
	events chan ports.InboundEvent

	mu      sync.Mutex
	nextID  uint16
	pending map[uint16]*pendingCON
	peers   map[ports.Endpoint]*net.UDPAddr

	wg     sync.WaitGroup
	closed atomic.Bool
}

func Listen(cfg Config, obs ports.Observability) (*Server, error) {
	cfg.ApplyDefaults()
	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, errs.WrapInvalid(err, "udp", "Listen", "resolve "+cfg.Listen)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errs.WrapFatal(err, "udp", "Listen", "bind "+cfg.Listen)
	}
	s := &Server{
		cfg:     cfg,
		conn:    conn,
		obs:     obs,
		events:  make(chan ports.InboundEvent, cfg.EventQueue),
		pending: make(map[uint16]*pendingCON),
		peers:   make(map[ports.Endpoint]*net.UDPAddr),
	}
	s.wg.Add(1)
	go s.readLoop()
	obs.LogInfo("udp_listening", ports.Field{Key: "addr", Value: conn.LocalAddr().String()})
	return s, nil
}

// Addr is the bound local address.
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

func (s *Server) PollEvent() (ports.InboundEvent, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	default:
		return ports.InboundEvent{}, false
	}
}

func (s *Server) Send(dest ports.Endpoint, token string, payload []byte, reliable bool) error {
	if s.closed.Load() {
		return errs.WrapTransient(errs.ErrClosed, "udp", "Send", "write")
	}
	addr, err := s.resolve(dest)
	if err != nil {
		return err
	}

	f := Frame{Type: TypeNON, Code: CodeContent, Token: token, Body: payload}
	var p *pendingCON
	s.mu.Lock()
	s.nextID++
	f.MessageID = s.nextID
	if reliable {
		f.Type = TypeCON
		p = &pendingCON{peer: dest, token: token, result: make(chan error, 1)}
		s.pending[f.MessageID] = p
	}
	s.mu.Unlock()

	raw, err := f.Marshal()
	if err == nil {
		_, err = s.conn.WriteToUDP(raw, addr)
	}
	if err != nil {
		s.forget(f.MessageID)
		return errs.WrapTransient(err, "udp", "Send", "write to "+string(dest))
	}
	if p == nil {
		return nil
	}

	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case err := <-p.result:
		if err != nil {
			return errs.WrapTransient(err, "udp", "Send", "confirm to "+string(dest))
		}
		return nil
	case <-timer.C:
		s.forget(f.MessageID)
		return errs.WrapTransient(errs.ErrTimedOut, "udp", "Send", "await ack from "+string(dest))
	}
}

func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.conn.Close()
	s.wg.Wait()

	s.mu.Lock()
	for id, p := range s.pending {
		p.result <- errs.ErrClosed
		delete(s.pending, id)
	}
	s.mu.Unlock()
	return err
}

func (s *Server) resolve(dest ports.Endpoint) (*net.UDPAddr, error) {
	s.mu.Lock()
	addr, ok := s.peers[dest]
	s.mu.Unlock()
	if ok {
		return addr, nil
	}
	addr, err := net.ResolveUDPAddr("udp", string(dest))
	if err != nil {
		return nil, errs.WrapInvalid(err, "udp", "Send", "resolve "+string(dest))
	}
	return addr, nil
}

func (s *Server) forget(id uint16) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, MaxFrameLen)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.obs.LogWarn("udp_read_failed", ports.Field{Key: "error", Value: err.Error()})
			continue
		}
		s.handle(buf[:n], addr)
	}
}

func (s *Server) handle(raw []byte, addr *net.UDPAddr) {
	f, err := Unmarshal(raw)
	if err != nil {
		s.obs.IncCounter(ports.MetricFramesDropped, 1)
		s.obs.LogDebug("udp_frame_dropped",
			ports.Field{Key: "peer", Value: addr.String()},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}
	peer := ports.Endpoint(addr.String())

	switch f.Type {
	case TypeACK:
		s.settle(f.MessageID, peer, nil)
	case TypeRST:
		// A reset answers one of our notifications; the subscriber wants out.
		if p := s.settle(f.MessageID, peer, errReset); p != nil {
			s.emit(ports.InboundEvent{Kind: ports.EventCancel, Peer: peer, Token: p.token})
		}
	case TypeCON, TypeNON:
		s.request(f, addr, peer)
	default:
		s.obs.IncCounter(ports.MetricFramesDropped, 1)
	}
}

func (s *Server) settle(id uint16, peer ports.Endpoint, result error) *pendingCON {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok && p.peer == peer {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok || p.peer != peer {
		return nil
	}
	p.result <- result
	return p
}

func (s *Server) request(f Frame, addr *net.UDPAddr, peer ports.Endpoint) {
	if f.Code != CodeGet {
		s.reply(f, addr, CodeBadRequest)
		return
	}
	get, err := parseGet(f.Body)
	if err != nil {
		s.obs.IncCounter(ports.MetricFramesDropped, 1)
		s.reply(f, addr, CodeBadRequest)
		return
	}
	if !get.Sensor.Valid() {
		s.reply(f, addr, CodeNotFound)
		return
	}

	ev := ports.InboundEvent{
		Peer:      peer,
		Token:     f.Token,
		Sensor:    get.Sensor,
		Frequency: get.Frequency,
		Options:   get.Options,
	}
	switch get.Observe {
	case ObserveRegister:
		ev.Kind = ports.EventSubscribe
	case ObserveDeregister:
		ev.Kind = ports.EventCancel
	default:
		ev.Kind = ports.EventFetch
	}

	s.mu.Lock()
	s.peers[peer] = addr
	s.mu.Unlock()

	if f.Type == TypeCON {
		s.reply(f, addr, CodeEmpty)
	}
	s.emit(ev)
}

// reply acknowledges (or rejects) a request with the same id and token.
func (s *Server) reply(f Frame, addr *net.UDPAddr, code Code) {
	typ := TypeACK
	if f.Type == TypeNON {
		typ = TypeNON
	}
	raw, err := Frame{Type: typ, Code: code, MessageID: f.MessageID, Token: f.Token}.Marshal()
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(raw, addr); err != nil {
		s.obs.LogDebug("udp_reply_failed", ports.Field{Key: "error", Value: err.Error()})
	}
}

func (s *Server) emit(ev ports.InboundEvent) {
	select {
	case s.events <- ev:
	default:
		s.obs.IncCounter(ports.MetricFramesDropped, 1)
		s.obs.LogWarn("udp_event_queue_full", ports.Field{Key: "peer", Value: string(ev.Peer)})
	}
}

var _ ports.Transport = (*Server)(nil)
