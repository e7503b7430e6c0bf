package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/wire"
)

const outgoingQueueDepth = 128

// session holds per-connection state from the Hello/Auth handshake through
// to disconnect. The handshake replies (HelloAck, AuthResponse) are written
// directly by handleConn; after that, exactly one goroutine (writeLoop)
// writes to the control stream, matching client.go's single-writer
// discipline, but here expressed as a channel-owning goroutine instead of a
// mutex-guarded direct writer, since both the request/response path (s.out)
// and server push (the push hub's per-user channel) feed that one writer.
type session struct {
	gw        *Gateway
	conn      *quic.Conn
	sessionID string
	identity  Identity
	out       chan wire.ServerToClient
}

// handleConn drives one QUIC connection from ALPN recheck through
// disconnect cleanup, mirroring handle_conn in gateway.rs and handleClient
// in the teacher's client.go.
func (g *Gateway) handleConn(ctx context.Context, conn *quic.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Defense-in-depth ALPN recheck: quic-go/rustls already negotiated it,
	// but a configuration change elsewhere should never silently widen
	// what this listener accepts.
	negotiated := conn.ConnectionState().TLS.NegotiatedProtocol
	if negotiated != g.cfg.ALPN {
		log.Printf("[gateway] alpn mismatch: got %q want %q", negotiated, g.cfg.ALPN)
		_ = conn.CloseWithError(0, "alpn mismatch")
		return
	}

	hsCtx, hsCancel := context.WithTimeout(ctx, controlStreamHandshakeTimeout)
	stream, err := conn.AcceptStream(hsCtx)
	hsCancel()
	if err != nil {
		log.Printf("[gateway] control accept_bi timeout/error: %v", err)
		_ = conn.CloseWithError(0, "control stream timeout")
		return
	}

	s := &session{gw: g, conn: conn, out: make(chan wire.ServerToClient, outgoingQueueDepth)}

	reader := bufio.NewReader(stream)

	if err := s.doHello(reader, stream); err != nil {
		log.Printf("[gateway] hello failed: %v", err)
		_ = conn.CloseWithError(0, "hello failed")
		return
	}
	if err := s.doAuth(reader, stream); err != nil {
		log.Printf("[gateway] auth failed: %v", err)
		_ = conn.CloseWithError(0, "auth failed")
		return
	}
	// Handshake is done; lift the read deadline so requestLoop's steady
	// state reads block on legitimate client idle time, not this bound.
	if err := stream.SetReadDeadline(time.Time{}); err != nil {
		log.Printf("[gateway] clear handshake read deadline: %v", err)
	}

	log.Printf("[gateway] session %s authenticated user=%s server=%s", s.sessionID, s.identity.UserID, s.identity.ServerID)

	pushCh := g.push.Register(s.identity.UserID)
	g.sessions.Register(s.identity.UserID, conn)
	defer func() {
		g.push.Unregister(s.identity.UserID)
		g.sessions.Unregister(s.identity.UserID)
		g.membership.RemoveUser(s.identity.UserID)
		g.forwarder.DropSession(s.identity.UserID)
		_ = conn.CloseWithError(0, "bye")
	}()

	go s.writeLoop(ctx, stream, pushCh)
	go s.readDatagrams(ctx)

	s.requestLoop(ctx, reader)
}

func (s *session) reqCtx() control.RequestContext {
	return control.RequestContext{
		ServerID: s.identity.ServerID,
		UserID:   s.identity.UserID,
		IsAdmin:  s.identity.IsAdmin,
	}
}

func (s *session) doHello(r *bufio.Reader, w *quic.Stream) error {
	if err := w.SetReadDeadline(time.Now().Add(controlStreamHandshakeTimeout)); err != nil {
		return fmt.Errorf("set hello read deadline: %w", err)
	}
	raw, err := wire.ReadVarintFrame(r)
	if err != nil {
		return fmt.Errorf("read hello envelope: %w", err)
	}
	var req wire.ClientToServer
	if err := json.Unmarshal(raw, &req); err != nil || req.Hello == nil {
		return fmt.Errorf("expected Hello as first message")
	}

	s.sessionID = uuid.NewString()
	resp := wire.ServerToClient{
		RequestID: req.RequestID,
		SessionID: s.sessionID,
		SentAtMs:  time.Now().UnixMilli(),
		Type:      "hello_ack",
		HelloAck: &wire.HelloAck{
			SessionID:           s.sessionID,
			MaxMessageSizeBytes: wire.MaxControlFrameBytes,
			MaxUploadSizeBytes:  50 * 1024 * 1024,
			PingIntervalMs:      15000,
		},
	}
	return writeEnvelope(w, resp)
}

func (s *session) doAuth(r *bufio.Reader, w *quic.Stream) error {
	if err := w.SetReadDeadline(time.Now().Add(controlStreamHandshakeTimeout)); err != nil {
		return fmt.Errorf("set auth read deadline: %w", err)
	}
	raw, err := wire.ReadVarintFrame(r)
	if err != nil {
		return fmt.Errorf("read auth envelope: %w", err)
	}
	var req wire.ClientToServer
	if err := json.Unmarshal(raw, &req); err != nil || req.AuthRequest == nil {
		return fmt.Errorf("expected AuthRequest as second message")
	}

	identity, err := s.gw.auth.Authenticate(*req.AuthRequest)
	if err != nil {
		resp := wire.ServerToClient{
			RequestID: req.RequestID,
			SessionID: s.sessionID,
			SentAtMs:  time.Now().UnixMilli(),
			Type:      "auth_response",
			Error:     &wire.ErrorInfo{Code: string(control.KindPermissionDenied), Message: err.Error()},
		}
		_ = writeEnvelope(w, resp)
		return err
	}
	s.identity = identity

	resp := wire.ServerToClient{
		RequestID: req.RequestID,
		SessionID: s.sessionID,
		SentAtMs:  time.Now().UnixMilli(),
		Type:      "auth_response",
		AuthResponse: &wire.AuthResponse{
			UserID:   identity.UserID.String(),
			ServerID: identity.ServerID.String(),
			IsAdmin:  identity.IsAdmin,
		},
	}
	return writeEnvelope(w, resp)
}

// requestLoop reads one envelope per iteration and dispatches it; the
// response (or error) is handed to the writer goroutine via s.out so this
// goroutine never itself touches the stream's send half.
func (s *session) requestLoop(ctx context.Context, r *bufio.Reader) {
	defer close(s.out)
	for {
		raw, err := wire.ReadVarintFrame(r)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[gateway] session %s control read error: %v", s.sessionID, err)
			}
			return
		}
		var req wire.ClientToServer
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("[gateway] session %s control unmarshal error: %v", s.sessionID, err)
			continue
		}
		resp := s.dispatch(ctx, req)
		select {
		case s.out <- resp:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the control stream's sole writer: it multiplexes
// request/response traffic from s.out with asynchronous server pushes from
// pushCh, matching spec.md §4.5's single writer-goroutine requirement.
func (s *session) writeLoop(ctx context.Context, w *quic.Stream, pushCh <-chan wire.ServerToClient) {
	for {
		select {
		case resp, ok := <-s.out:
			if !ok {
				return
			}
			if err := writeEnvelope(w, resp); err != nil {
				return
			}
		case msg, ok := <-pushCh:
			if !ok {
				return
			}
			if err := writeEnvelope(w, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readDatagrams relays this session's incoming voice datagrams into the
// forwarder pipeline, mirroring readDatagrams in the teacher's client.go.
func (s *session) readDatagrams(ctx context.Context) {
	for {
		data, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		s.gw.forwarder.HandleIncoming(ctx, s.identity.UserID, data)
	}
}

func writeEnvelope(w *quic.Stream, msg wire.ServerToClient) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return wire.WriteVarintFrame(w, b)
}
