// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/lattixdb/mongogo/bson"
	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/internal"
	"github.com/lattixdb/mongogo/x/mongo/driver/address"
	"github.com/lattixdb/mongogo/x/mongo/driver/auth"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/wiremessage"
)

// ErrConnectionClosed is returned by read/write once the connection has
// been closed, either explicitly or because it expired out from under the
// pool (spec.md §3, Connection lifecycle).
var ErrConnectionClosed = errors.New("topology: connection is closed")

// connectionConfig collects the dial-time and per-message settings a
// Connection needs; it is filled in from the client's ConnString and TLS
// material by the Server that owns the pool (spec.md §4.1's option set).
type connectionConfig struct {
	connectTimeout time.Duration
	tlsConfig      *tls.Config
	appName        string
	compressors    []wiremessage.CompressorID
	zlibLevel      int
	handshaker     func(ctx context.Context, conn *Connection) (description.Server, error)
}

// Connection wraps one net.Conn dialed to a single server address, framing
// OP_MSG/OP_COMPRESSED traffic for it (spec.md §3: "Connection -- owned by
// a pool, wraps one TCP/TLS socket"). It implements wiremessage.ReadWriter.
type Connection struct {
	addr       address.Address
	nc         net.Conn
	generation uint64
	id         uint64

	desc        description.Server
	compressor  wiremessage.CompressorID
	zlibLevel   int
	readTimeout time.Duration

	closed bool
}

var _ wiremessage.ReadWriter = (*Connection)(nil)

// dialConnection opens a fresh TCP/TLS socket to addr, completes the
// initial hello handshake via cfg.handshaker (when set), and returns a
// ready-to-use Connection tagged with generation.
func dialConnection(ctx context.Context, addr address.Address, generation, id uint64, cfg connectionConfig) (*Connection, error) {
	dialer := &net.Dialer{Timeout: cfg.connectTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", string(addr.Canonicalize()))
	if err != nil {
		return nil, ConnectionError{Address: addr, Wrapped: err}
	}
	if cfg.tlsConfig != nil {
		host, _, _ := net.SplitHostPort(string(addr))
		tlsConf := cfg.tlsConfig.Clone()
		if tlsConf.ServerName == "" {
			tlsConf.ServerName = host
		}
		tlsConn := tls.Client(nc, tlsConf)
		if deadline, ok := ctx.Deadline(); ok {
			_ = tlsConn.SetDeadline(deadline)
		}
		if err := tlsConn.Handshake(); err != nil {
			nc.Close()
			return nil, ConnectionError{Address: addr, Wrapped: err}
		}
		if err := verifyStapledOCSPResponse(tlsConn.ConnectionState()); err != nil {
			nc.Close()
			return nil, ConnectionError{Address: addr, Wrapped: err}
		}
		_ = tlsConn.SetDeadline(time.Time{})
		nc = tlsConn
	}

	conn := &Connection{
		addr:       addr,
		nc:         nc,
		generation: generation,
		id:         id,
		zlibLevel:  cfg.zlibLevel,
	}

	if cfg.handshaker != nil {
		desc, err := cfg.handshaker(ctx, conn)
		if err != nil {
			nc.Close()
			return nil, err
		}
		conn.desc = desc
		conn.compressor = negotiateCompressor(desc.Compression, cfg.compressors)
	}

	return conn, nil
}

// verifyStapledOCSPResponse soft-fail checks a TLS peer's stapled OCSP
// response, when the server happened to staple one: a parse failure,
// missing issuer, or absent response is ignored outright (this repo never
// requires OCSP stapling, only checks it when offered), but an explicitly
// Revoked status always rejects the connection.
func verifyStapledOCSPResponse(state tls.ConnectionState) error {
	if len(state.OCSPResponse) == 0 || len(state.VerifiedChains) == 0 {
		return nil
	}
	chain := state.VerifiedChains[0]
	if len(chain) < 2 {
		return nil
	}
	resp, err := ocsp.ParseResponseForCert(state.OCSPResponse, chain[0], chain[1])
	if err != nil {
		return nil
	}
	if resp.Status == ocsp.Revoked {
		return fmt.Errorf("topology: peer certificate revoked per stapled OCSP response")
	}
	return nil
}

// negotiateCompressor picks the first of the client's preferred
// compressors the server also advertised, per spec.md §4.2's "Compression
// negotiation happens during the handshake."
func negotiateCompressor(serverCompressors []string, preferred []wiremessage.CompressorID) wiremessage.CompressorID {
	for _, p := range preferred {
		for _, s := range serverCompressors {
			if id, ok := wiremessage.CompressorIDFromName(s); ok && id == p {
				return p
			}
		}
	}
	return wiremessage.CompressorNoOp
}

// alive reports whether the connection looks usable without doing I/O
// beyond what net.Conn exposes: closed connections and those with no
// underlying socket are never reused.
func (c *Connection) alive() bool {
	return c != nil && !c.closed && c.nc != nil
}

// expired reports whether the connection belongs to a generation the pool
// has since invalidated (spec.md §3's "retired when... generation is
// bumped").
func (c *Connection) expired(currentGeneration uint64) bool {
	return c.generation != currentGeneration
}

func (c *Connection) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.nc != nil {
		return c.nc.Close()
	}
	return nil
}

// Close implements driver.Connection by checking the connection back in
// to its owning pool rather than tearing down the socket directly; callers
// that truly want the socket gone should go through the pool's Clear.
func (c *Connection) Close() error {
	return c.close()
}

// Description returns the ServerDescription captured at handshake time.
func (c *Connection) Description() description.Server { return c.desc }

// Address returns the address this connection is dialed to.
func (c *Connection) Address() address.Address { return c.addr }

// WriteWireMessage frames wm (an already wiremessage-encoded OP_MSG) onto
// the wire, compressing it first if a compressor was negotiated during the
// handshake (spec.md §4.2).
func (c *Connection) WriteWireMessage(ctx context.Context, wm []byte) error {
	if !c.alive() {
		return ErrConnectionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(deadline)
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
		if ctx.Done() != nil {
			listener := internal.NewCancellationListener()
			go listener.Listen(ctx, func() { c.close() })
			defer listener.StopListening()
		}
	}

	out := wm
	if c.compressor != wiremessage.CompressorNoOp {
		h, _, err := wiremessage.ReadHeader(wm)
		if err != nil {
			return err
		}
		out, err = wiremessage.AppendCompressed(h.RequestID, c.compressor, c.zlibLevel, wm)
		if err != nil {
			return err
		}
	}

	_, err := c.nc.Write(out)
	if err != nil {
		c.close()
		return ConnectionError{Address: c.addr, Wrapped: err}
	}
	return nil
}

// ReadWireMessage reads one full wire message, decompressing OP_COMPRESSED
// frames transparently so callers only ever see the logical OP_MSG/OP_REPLY
// bytes (spec.md §4.2).
func (c *Connection) ReadWireMessage(ctx context.Context) ([]byte, error) {
	if !c.alive() {
		return nil, ErrConnectionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(deadline)
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
		// No deadline on ctx means the socket read below can block
		// indefinitely; a listener aborts the connection if ctx is
		// canceled out from under us (spec.md §5 "Cancellation and
		// timeouts").
		if ctx.Done() != nil {
			listener := internal.NewCancellationListener()
			go listener.Listen(ctx, func() { c.close() })
			defer listener.StopListening()
		}
	}

	var sizeBuf [4]byte
	if _, err := readFull(c.nc, sizeBuf[:]); err != nil {
		c.close()
		return nil, ConnectionError{Address: c.addr, Wrapped: err}
	}
	size := int32(sizeBuf[0]) | int32(sizeBuf[1])<<8 | int32(sizeBuf[2])<<16 | int32(sizeBuf[3])<<24
	if size < 16 {
		c.close()
		return nil, fmt.Errorf("topology: malformed message length %d", size)
	}

	buf := make([]byte, size)
	copy(buf, sizeBuf[:])
	if _, err := readFull(c.nc, buf[4:]); err != nil {
		c.close()
		return nil, ConnectionError{Address: c.addr, Wrapped: err}
	}

	h, _, err := wiremessage.ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.OpCode != wiremessage.OpCompressed {
		return buf, nil
	}

	compressed, err := wiremessage.ReadCompressed(buf)
	if err != nil {
		return nil, err
	}
	return compressed.Decode(h.RequestID, h.ResponseTo)
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := nc.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ConnectionError wraps a network-level failure observed on a specific
// address, giving callers (the server monitor, error-label classification)
// a stable type to match against regardless of the underlying net error.
type ConnectionError struct {
	Address address.Address
	Wrapped error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("connection(%s): %v", e.Address, e.Wrapped)
}

func (e ConnectionError) Unwrap() error { return e.Wrapped }

// unwrapConnectionError returns the *ConnectionError wrapped anywhere in
// err's chain, or nil if err isn't connection-related -- the signal the
// server monitor uses to decide whether to clear the pool (spec.md §4.4/
// §4.7).
func unwrapConnectionError(err error) *ConnectionError {
	var ce ConnectionError
	if errors.As(err, &ce) {
		return &ce
	}
	return nil
}

// sayHello performs the initial/heartbeat hello handshake directly over a
// freshly dialed (pre-pool) Connection, without going through the full
// operation-execution machinery: the handshake happens before a server
// description exists, so it cannot be routed through server selection like
// an ordinary operation (spec.md §4.4 "the handshake establishes the
// server's initial description"). The helloOk flag tells a legacy server
// it may reply to "hello" under its modern name instead of requiring the
// legacy "isMaster" alias.
func sayHello(ctx context.Context, conn *Connection, appName string, compressors []wiremessage.CompressorID, authenticator auth.Authenticator, speculative []byte) (description.Server, error) {
	builder := bsoncore.NewDocumentBuilder().
		AppendInt32("hello", 1).
		AppendBoolean("helloOk", true)
	if appName != "" {
		clientBuilder := bsoncore.NewDocumentBuilder().
			AppendDocument("application", bsoncore.NewDocumentBuilder().AppendString("name", appName).Build())
		builder.AppendDocument("client", clientBuilder.Build())
	}
	if len(compressors) > 0 {
		arr := bsoncore.NewArrayBuilder()
		for _, c := range compressors {
			arr.AppendString(c.String())
		}
		builder.AppendArray("compression", arr.Build())
	}
	if speculative != nil {
		builder.AppendDocument("speculativeAuthenticate", bsoncore.Document(speculative))
	}
	cmd := builder.Build()

	reply, err := runCommand(ctx, conn, "admin", cmd)
	if err != nil {
		return description.Server{}, err
	}

	desc := parseHelloReply(conn.addr, reply)

	if authenticator != nil {
		cfg := &auth.Config{Conn: commandRunner{conn: conn}, SpeculativeReply: speculativeReplyBytes(reply)}
		if err := authenticator.Auth(ctx, cfg); err != nil {
			return desc, err
		}
	}

	return desc, nil
}

func speculativeReplyBytes(reply bsoncore.Document) []byte {
	v, ok := reply.Lookup("speculativeAuthenticate")
	if !ok {
		return nil
	}
	doc, ok := v.DocumentOK()
	if !ok {
		return nil
	}
	return doc
}

// commandRunner adapts a live Connection to auth.SaslRunner so the SCRAM/
// X509/PLAIN authenticators can issue saslStart/saslContinue without
// depending on the full operation-execution package.
type commandRunner struct {
	conn *Connection
}

func (r commandRunner) RunCommand(ctx context.Context, db string, cmd []byte) ([]byte, error) {
	reply, err := runCommand(ctx, r.conn, db, bsoncore.Document(cmd))
	if err != nil {
		return nil, err
	}
	return []byte(reply), nil
}

// runCommand sends one OP_MSG command document and returns the raw reply
// body, implementing just enough of spec.md §4.2's OP_MSG framing to drive
// the handshake and SASL conversation.
func runCommand(ctx context.Context, conn *Connection, db string, cmd bsoncore.Document) (bsoncore.Document, error) {
	full := appendDB(cmd, db)

	reqID := wiremessage.NextRequestID()
	wm := wiremessage.AppendMsg(nil, reqID, 0, full)

	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, err
	}
	raw, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, err
	}
	h, rest, err := wiremessage.ReadHeader(raw)
	if err != nil {
		return nil, err
	}
	if err := wiremessage.Validate(h, reqID); err != nil {
		return nil, err
	}
	return wiremessage.ResultDocument(h, rest)
}

func appendDB(cmd bsoncore.Document, db string) bsoncore.Document {
	if _, ok := cmd.Lookup("$db"); ok {
		return cmd
	}
	raw := []byte(cmd)
	withoutTrailingNull := raw[:len(raw)-1]
	out := make([]byte, 0, len(raw)+len(db)+16)
	out = append(out, withoutTrailingNull...)
	out = appendStringElement(out, "$db", db)
	out = append(out, 0x00)
	setLength(out)
	return bsoncore.Document(out)
}

func appendStringElement(dst []byte, key, val string) []byte {
	return bsoncore.AppendStringElement(dst, key, val)
}

func setLength(doc []byte) {
	l := int32(len(doc))
	doc[0] = byte(l)
	doc[1] = byte(l >> 8)
	doc[2] = byte(l >> 16)
	doc[3] = byte(l >> 24)
}

// parseHelloReply converts a hello/isMaster command reply into an
// immutable description.Server snapshot (spec.md §3).
func parseHelloReply(addr address.Address, reply bsoncore.Document) description.Server {
	desc := description.Server{
		Addr:           addr,
		Kind:           description.Standalone,
		Raw:            bson.Raw(reply),
		LastUpdateTime: time.Now(),
	}

	if v, ok := reply.Lookup("helloOk"); ok {
		desc.HelloOK, _ = v.BooleanOK()
	}

	isReplicaSet := false
	isMongos := false
	if v, ok := reply.Lookup("msg"); ok {
		if s, ok := v.StringValueOK(); ok && s == "isdbgrid" {
			isMongos = true
		}
	}
	if v, ok := reply.Lookup("setName"); ok {
		desc.SetName, _ = v.StringValueOK()
		isReplicaSet = true
	}

	isPrimary, _ := boolField(reply, "ismaster")
	if !isPrimary {
		isPrimary, _ = boolField(reply, "isWritablePrimary")
	}
	isSecondary, _ := boolField(reply, "secondary")
	isArbiter, _ := boolField(reply, "arbiterOnly")
	isHidden, _ := boolField(reply, "hidden")

	switch {
	case isMongos:
		desc.Kind = description.Mongos
	case isReplicaSet && isPrimary:
		desc.Kind = description.RSPrimary
	case isReplicaSet && isSecondary:
		desc.Kind = description.RSSecondary
	case isReplicaSet && isArbiter:
		desc.Kind = description.RSArbiter
	case isReplicaSet && isHidden:
		desc.Kind = description.RSOther
	case isReplicaSet:
		desc.Kind = description.RSGhost
	default:
		desc.Kind = description.Standalone
	}

	if v, ok := reply.Lookup("me"); ok {
		if s, ok := v.StringValueOK(); ok {
			desc.Me = address.Address(s).Canonicalize()
		}
	}
	if v, ok := reply.Lookup("primary"); ok {
		if s, ok := v.StringValueOK(); ok {
			desc.Primary = address.Address(s).Canonicalize()
		}
	}
	desc.Hosts = stringArrayField(reply, "hosts")
	desc.Passives = stringArrayField(reply, "passives")
	desc.Arbiters = stringArrayField(reply, "arbiters")

	if v, ok := reply.Lookup("tags"); ok {
		if doc, ok := v.DocumentOK(); ok {
			desc.Tags = map[string]string{}
			elems, _ := doc.Elements()
			for _, e := range elems {
				if s, ok := e.Value().StringValueOK(); ok {
					desc.Tags[e.Key()] = s
				}
			}
		}
	}

	if v, ok := reply.Lookup("setVersion"); ok {
		if i, ok := v.Int32OK(); ok {
			desc.SetVersion = uint32(i)
			desc.HasSetVers = true
		}
	}
	if v, ok := reply.Lookup("electionId"); ok {
		if oid, ok := v.ObjectIDOK(); ok {
			desc.ElectionID = bson.Raw(append([]byte(nil), oid[:]...))
		}
	}

	if v, ok := reply.Lookup("maxWireVersion"); ok {
		maxWV, _ := v.Int32OK()
		minWV := int32(0)
		if mv, ok := reply.Lookup("minWireVersion"); ok {
			minWV, _ = mv.Int32OK()
		}
		desc.WireVersion = &description.VersionRange{Min: minWV, Max: maxWV}
	}
	if v, ok := reply.Lookup("maxBsonObjectSize"); ok {
		desc.MaxBsonObjectSize, _ = v.AsInt64()
	}
	if v, ok := reply.Lookup("maxMessageSizeBytes"); ok {
		desc.MaxMessageSizeBytes, _ = v.AsInt64()
	}
	if v, ok := reply.Lookup("maxWriteBatchSize"); ok {
		desc.MaxWriteBatchSize, _ = v.AsInt64()
	}
	if v, ok := reply.Lookup("logicalSessionTimeoutMinutes"); ok {
		if i, ok := v.AsInt64(); ok {
			desc.LogicalSessionTimeoutMinutes = &i
			desc.SessionTimeoutMinutes = &i
		}
	}
	if v, ok := reply.Lookup("compression"); ok {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, cv := range vals {
				if s, ok := cv.StringValueOK(); ok {
					desc.Compression = append(desc.Compression, s)
				}
			}
		}
	}

	return desc
}

func boolField(doc bsoncore.Document, key string) (bool, bool) {
	v, ok := doc.Lookup(key)
	if !ok {
		return false, false
	}
	return v.BooleanOK()
}

func stringArrayField(doc bsoncore.Document, key string) []string {
	v, ok := doc.Lookup(key)
	if !ok {
		return nil
	}
	arr, ok := v.ArrayOK()
	if !ok {
		return nil
	}
	vals, err := arr.Values()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, val := range vals {
		if s, ok := val.StringValueOK(); ok {
			out = append(out, s)
		}
	}
	return out
}
