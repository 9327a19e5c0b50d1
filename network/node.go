package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler is called for each received message of the type it is registered
// for. Handlers of one peer run sequentially on that peer's read loop.
type Handler func(p *Peer, msg Message)

// DefaultMaxPeers limits simultaneous connections.
const DefaultMaxPeers = 50

// Node accepts and dials peer connections and dispatches their messages.
type Node struct {
	id       string
	addr     string
	tls      *tls.Config // nil → plain TCP
	maxPeers int
	log      *zap.Logger

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]Handler

	ln   net.Listener
	done chan struct{}
	wg   sync.WaitGroup
}

// NewNode creates a Node that will listen on addr.
func NewNode(id, addr string, tlsCfg *tls.Config, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		id:       id,
		addr:     addr,
		tls:      tlsCfg,
		maxPeers: DefaultMaxPeers,
		log:      log.Named("p2p"),
		peers:    make(map[string]*Peer),
		handlers: make(map[MsgType]Handler),
		done:     make(chan struct{}),
	}
}

// ID returns the node id announced to peers.
func (n *Node) ID() string { return n.id }

// Handle registers h for typ. Register before Start.
func (n *Node) Handle(typ MsgType, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start binds the listener and accepts connections in the background.
func (n *Node) Start() error {
	var (
		ln  net.Listener
		err error
	)
	if n.tls != nil {
		ln, err = tls.Listen("tcp", n.addr, n.tls)
	} else {
		ln, err = net.Listen("tcp", n.addr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.addr, err)
	}
	n.ln = ln
	n.wg.Add(1)
	go n.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (n *Node) Addr() net.Addr {
	if n.ln == nil {
		return nil
	}
	return n.ln.Addr()
}

// Stop closes the listener and every peer, then waits for the read loops.
func (n *Node) Stop() {
	select {
	case <-n.done:
		return
	default:
		close(n.done)
	}
	if n.ln != nil {
		_ = n.ln.Close()
	}
	n.mu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.mu.Unlock()
	n.wg.Wait()
}

// Connect dials addr and starts reading from the new peer.
func (n *Node) Connect(ctx context.Context, id, addr string) (*Peer, error) {
	p, err := Dial(ctx, id, addr, n.tls)
	if err != nil {
		return nil, err
	}
	if err := n.register(p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// PeerCount reports the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Connected reports whether a peer with id is connected.
func (n *Node) Connected(id string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.peers[id]
	return ok
}

// Broadcast sends a typ message carrying v to every connected peer.
func (n *Node) Broadcast(typ MsgType, v any) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(typ, v); err != nil {
			n.log.Warn("broadcast failed", zap.String("peer", p.ID), zap.String("type", string(typ)), zap.Error(err))
		}
	}
}

func (n *Node) register(p *Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.done:
		return errors.New("node stopped")
	default:
	}
	if len(n.peers) >= n.maxPeers {
		return fmt.Errorf("max peers (%d) reached", n.maxPeers)
	}
	if _, dup := n.peers[p.ID]; dup {
		return fmt.Errorf("peer %s already connected", p.ID)
	}
	n.peers[p.ID] = p
	n.wg.Add(1)
	go n.readLoop(p)
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			select {
			case <-n.done:
				return
			default:
			}
			n.log.Warn("accept failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		remote := conn.RemoteAddr().String()
		p := newPeer(remote, remote, conn)
		if err := n.register(p); err != nil {
			n.log.Info("rejecting peer", zap.String("addr", remote), zap.Error(err))
			p.Close()
		}
	}
}

func (n *Node) readLoop(p *Peer) {
	defer n.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("peer handler panicked", zap.String("peer", p.ID), zap.Any("panic", r))
		}
		p.Close()
		n.mu.Lock()
		delete(n.peers, p.ID)
		n.mu.Unlock()
		n.log.Debug("peer disconnected", zap.String("peer", p.ID))
	}()
	for {
		msg, err := p.Receive()
		if err != nil {
			return
		}
		n.mu.RLock()
		h, ok := n.handlers[msg.Type]
		n.mu.RUnlock()
		if ok {
			h(p, msg)
		}
	}
}
