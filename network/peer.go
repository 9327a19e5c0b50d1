// Package network replicates the chain from the authority node to replica
// nodes over TCP, optionally with mutual TLS. Messages are JSON documents
// framed by a 4-byte big-endian length.
package network

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MsgType labels a network message.
type MsgType string

const (
	MsgHello     MsgType = "hello"
	MsgTx        MsgType = "tx"
	MsgBlock     MsgType = "block"
	MsgGetBlocks MsgType = "get_blocks"
	MsgBlocks    MsgType = "blocks"
)

const (
	maxFrame     = 16 << 20 // bytes per message
	writeTimeout = 10 * time.Second
)

// Message is the envelope of every frame.
type Message struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Peer is one connection to a remote node.
type Peer struct {
	ID   string
	Addr string

	conn   net.Conn
	mu     sync.Mutex // serialises writes
	closed bool
}

func newPeer(id, addr string, conn net.Conn) *Peer {
	return &Peer{ID: id, Addr: addr, conn: conn}
}

// Dial connects to addr, using TLS when tlsCfg is non-nil.
func Dial(ctx context.Context, id, addr string, tlsCfg *tls.Config) (*Peer, error) {
	d := &net.Dialer{Timeout: 10 * time.Second}
	var (
		conn net.Conn
		err  error
	)
	if tlsCfg != nil {
		conn, err = (&tls.Dialer{NetDialer: d, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newPeer(id, addr, conn), nil
}

// Send encodes v as the payload of a typ message and writes it as one frame.
func (p *Peer) Send(typ MsgType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	data, err := json.Marshal(Message{Type: typ, Payload: payload})
	if err != nil {
		return err
	}
	if len(data) > maxFrame {
		return fmt.Errorf("%s message of %d bytes exceeds frame limit", typ, len(data))
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("peer %s closed", p.ID)
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = p.conn.Write(frame)
	return err
}

// Receive blocks for the next message.
func (p *Peer) Receive() (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(p.conn, header[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrame {
		return Message{}, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.conn, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

// Close terminates the connection. It is safe to call more than once.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		_ = p.conn.Close()
	}
}
