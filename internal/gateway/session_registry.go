package gateway

import (
	"context"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/Duocast/TSOD/internal/forwarder"
	"github.com/Duocast/TSOD/internal/ids"
)

// quicDatagramTx adapts *quic.Conn to forwarder.DatagramTx.
type quicDatagramTx struct {
	conn *quic.Conn
}

func (t quicDatagramTx) SendDatagram(_ context.Context, payload []byte) error {
	return t.conn.SendDatagram(payload)
}

// SessionMap maps an authenticated user to its datagram send handle,
// grounded in original_source/server/gateway/src/state.rs's SessionMap
// (there backed by dashmap; here by a sync.RWMutex-guarded map, matching
// the teacher's own room.go registry idiom).
type SessionMap struct {
	mu  sync.RWMutex
	txs map[ids.UserID]forwarder.DatagramTx
}

func NewSessionMap() *SessionMap {
	return &SessionMap{txs: make(map[ids.UserID]forwarder.DatagramTx)}
}

func (s *SessionMap) Register(user ids.UserID, conn *quic.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[user] = quicDatagramTx{conn: conn}
}

func (s *SessionMap) Unregister(user ids.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, user)
}

func (s *SessionMap) DatagramTx(user ids.UserID) (forwarder.DatagramTx, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[user]
	return tx, ok
}

var _ forwarder.SessionRegistry = (*SessionMap)(nil)
