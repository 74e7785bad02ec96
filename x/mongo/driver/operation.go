// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver implements operation dispatch: turning a logical command
// (insert/update/find/...) into wire messages sent against a selected
// server, with the retry, session, and cluster-time plumbing spec.md §4.7
// requires every command to go through (grounded on the teacher's
// x/mongo/driverx package, generalized from its fixed Client/Server
// interfaces to this repo's topology and session types).
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/bson/primitive"
	"github.com/lattixdb/mongogo/event"
	"github.com/lattixdb/mongogo/mongo/readconcern"
	"github.com/lattixdb/mongogo/mongo/readpref"
	"github.com/lattixdb/mongogo/mongo/writeconcern"
	"github.com/lattixdb/mongogo/x/mongo/driver/description"
	"github.com/lattixdb/mongogo/x/mongo/driver/session"
	"github.com/lattixdb/mongogo/x/mongo/driver/wiremessage"
)

// reservedCommandBufferBytes is the slack a batch split leaves for command
// overhead (lsid, txnNumber, $clusterTime, ...) that isn't part of the
// document array itself (spec.md §4.12).
const reservedCommandBufferBytes = 16 * 1000

// ErrDocumentTooLarge is returned by SplitBatches when a single document
// exceeds the server's maxBsonObjectSize/targetBatchSize on its own.
var ErrDocumentTooLarge = errors.New("driver: a single document exceeds the maximum message size")

// Deployment is implemented by the topology manager: anything an Operation
// can select a server from.
type Deployment interface {
	SelectServer(context.Context, description.ServerSelector) (Server, error)
	Description() description.Topology
}

// Server is implemented by topology.Server: anything an Operation can
// check a Connection out of.
type Server interface {
	Connection(context.Context) (Connection, error)

	// ProcessError feeds a command-level error from a completed round trip
	// back into SDAM: the server is marked Unknown and the topology is
	// prompted to re-probe immediately (spec.md §4.6 step 6, §4.7).
	ProcessError(err error)
}

// Connection is implemented by topology.Connection: the minimal
// round-trip surface an Operation needs, kept as an interface so
// operation.go never imports the topology package directly (spec.md §2's
// bottom-up dependency order: operation dispatch sits above topology).
type Connection interface {
	WriteWireMessage(context.Context, []byte) error
	ReadWireMessage(context.Context) ([]byte, error)
	Description() description.Server
	Close() error
}

// CommandFn builds a complete command document (everything but
// $db/lsid/txnNumber/$clusterTime/readConcern/writeConcern, which
// Operation splices in uniformly) given the server it ended up selecting.
type CommandFn func(desc description.SelectedServer) (bsoncore.Document, error)

// Operation is one logical command dispatch: select a server, open or
// reuse a connection, attach session/cluster-time/concern plumbing, send,
// decode, and retry according to RetryMode (spec.md §4.7).
type Operation struct {
	CommandName string
	Database    string
	Command     CommandFn
	Deployment  Deployment
	Selector    description.ServerSelector
	ReadPref    *readpref.ReadPref
	ReadConcern *readconcern.ReadConcern
	WriteConcern *writeconcern.WriteConcern
	Session     *session.ClientSession
	Clock       *session.ClusterClock
	Retry       RetryMode
	MinimumWireVersion int32

	// CommandMonitor, when set, receives Started/Succeeded/Failed events
	// for every attempt this Operation makes (spec.md §11: "connection
	// pool events are logged through this package").
	CommandMonitor *event.CommandMonitor

	// ProcessResponseFn, when set, is called with the decoded reply and the
	// server it came from right before a successful Execute returns -- the
	// hook a cursor-returning command (find, aggregate, listCollections)
	// uses to bind the BatchCursor it builds to the same server that owns
	// the cursor id, since subsequent getMores must target it directly
	// rather than going through server selection again (spec.md §4.11).
	ProcessResponseFn func(res bsoncore.Document, srv Server) error
}

// RetryMode controls whether/how an Operation retries (spec.md §4.7).
type RetryMode uint

const (
	// RetryNone disables retrying entirely.
	RetryNone RetryMode = iota
	// RetryOnce retries the whole operation exactly once.
	RetryOnce
	// RetryContext marks a retryable read: Execute retries it once, as with
	// RetryOnce, but does not increment the session's txnNumber for it.
	RetryContext
)

// Enabled reports whether this mode retries at all.
func (rm RetryMode) Enabled() bool { return rm == RetryOnce || rm == RetryContext }

// Execute selects a server, builds and sends the command, and returns the
// decoded result document. It implements the retry loop of spec.md §4.7:
// a retryable operation gets one additional attempt on a fresh server
// after a retryable error, exactly once regardless of RetryMode (a second
// failure is always surfaced).
func (op Operation) Execute(ctx context.Context) (bsoncore.Document, error) {
	// A retryable write's txnNumber is incremented exactly once per logical
	// operation, then attached to every attempt (spec.md §4.7 and §8: "both
	// attempts carry the same txnNumber"). Retryable reads (RetryContext)
	// and ops already inside a transaction (which incremented their
	// txnNumber in StartTransaction) don't go through this path.
	if op.Retry == RetryOnce && op.Session != nil && !op.Session.InActiveTransaction() {
		op.Session.Server.IncrementTxnNumber()
	}
	res, err := op.execute(ctx)
	if err == nil || !op.Retry.Enabled() {
		return res, err
	}
	if le, ok := err.(interface{ Retryable() bool }); !ok || !le.Retryable() {
		return res, err
	}
	return op.execute(ctx)
}

func (op Operation) execute(ctx context.Context) (bsoncore.Document, error) {
	srv, err := op.Deployment.SelectServer(ctx, op.selector())
	if err != nil {
		return nil, err
	}
	conn, err := srv.Connection(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	desc := description.SelectedServer{
		Server:       conn.Description(),
		TopologyKind: op.Deployment.Description().Kind,
	}

	cmdDoc, wm, err := op.createWireMessage(desc)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if op.CommandMonitor != nil && op.CommandMonitor.Started != nil {
		op.CommandMonitor.Started(event.CommandStartedEvent{
			Command:      cmdDoc,
			DatabaseName: op.Database,
			CommandName:  op.CommandName,
		})
	}
	res, err := roundTripDecode(ctx, conn, wm)
	op.reportOutcome(start, res, err)
	if err != nil {
		if le, ok := err.(interface{ Retryable() bool }); ok && le.Retryable() {
			srv.ProcessError(err)
		}
		return res, err
	}
	if updErr := updateClusterTimes(op.Session, op.Clock, res); updErr != nil {
		return res, updErr
	}
	_ = updateOperationTime(op.Session, res)
	if op.ProcessResponseFn != nil {
		if procErr := op.ProcessResponseFn(res, srv); procErr != nil {
			return res, procErr
		}
	}
	return res, nil
}

func (op Operation) selector() description.ServerSelector {
	if op.Session != nil {
		if addr, ok := op.Session.PinnedServer(); ok {
			return description.PinnedSelector(addr)
		}
	}
	if op.Selector != nil {
		return op.Selector
	}
	rp := op.ReadPref
	if rp == nil {
		rp = readpref.Primary()
	}
	return &description.CompositeSelector{Selectors: []description.ServerSelector{
		description.ReadPrefSelector(rp),
		description.LatencySelector(15 * time.Millisecond),
	}}
}

// createWireMessage assembles the final command document by splicing
// additional elements onto the CommandFn's output: every command document
// here is a complete, length-prefixed, NUL-terminated bsoncore.Document,
// so appending a field means opening it back up (stripping the trailing
// NUL), appending the new element's raw bytes, and re-closing it -- the
// same technique topology.appendDB uses for the handshake's $db field.
func (op Operation) createWireMessage(desc description.SelectedServer) (bsoncore.Document, []byte, error) {
	cmd, err := op.Command(desc)
	if err != nil {
		return nil, nil, err
	}
	raw := openDoc(cmd)

	raw = bsoncore.AppendStringElement(raw, "$db", op.Database)

	if op.ReadConcern != nil {
		b := bsoncore.NewDocumentBuilder()
		op.ReadConcern.AppendElement(b)
		raw = append(raw, openDoc(b.Build())[4:]...)
	}
	if op.WriteConcern != nil && op.WriteConcern.Acknowledged() {
		b := bsoncore.NewDocumentBuilder()
		op.WriteConcern.AppendElement(b)
		raw = append(raw, openDoc(b.Build())[4:]...)
	}
	if op.Session != nil {
		raw = addSession(raw, op.Session, desc, op.Retry == RetryOnce)
	}
	raw = addClusterTime(raw, op.Session, op.Clock)

	full := closeDoc(raw)
	return full, wiremessage.AppendMsg(nil, wiremessage.NextRequestID(), 0, full), nil
}

// reportOutcome sends the Succeeded/Failed half of a CommandMonitor's
// event pair for a completed round trip, given the outcome of
// roundTripDecode.
func (op Operation) reportOutcome(start time.Time, res bsoncore.Document, err error) {
	if op.CommandMonitor == nil {
		return
	}
	dur := time.Since(start)
	if err != nil {
		if op.CommandMonitor.Failed != nil {
			op.CommandMonitor.Failed(event.CommandFailedEvent{
				Duration:    dur,
				CommandName: op.CommandName,
				Failure:     err.Error(),
			})
		}
		return
	}
	if op.CommandMonitor.Succeeded != nil {
		op.CommandMonitor.Succeeded(event.CommandSucceededEvent{
			Duration:    dur,
			CommandName: op.CommandName,
			Reply:       res,
		})
	}
}

// openDoc strips a complete document's trailing NUL terminator so more
// elements can be appended to it.
func openDoc(doc bsoncore.Document) []byte {
	raw := []byte(doc)
	return append([]byte(nil), raw[:len(raw)-1]...)
}

// closeDoc re-terminates raw (as produced by openDoc plus any number of
// Append*Element calls) and backpatches the length prefix.
func closeDoc(raw []byte) bsoncore.Document {
	raw = append(raw, 0x00)
	l := int32(len(raw))
	raw[0] = byte(l)
	raw[1] = byte(l >> 8)
	raw[2] = byte(l >> 16)
	raw[3] = byte(l >> 24)
	return bsoncore.Document(raw)
}

// addSession splices lsid (and, where applicable, txnNumber) onto raw.
// txnNumber is attached in two distinct cases: inside an active
// transaction (also carrying startTransaction/autocommit), and for an
// ordinary retryable write outside any transaction, where retryWrite
// (op.Retry == RetryOnce) is the caller's signal that Execute already
// incremented the session's txnNumber for this operation (spec.md §4.7).
func addSession(raw []byte, sess *session.ClientSession, desc description.SelectedServer, retryWrite bool) []byte {
	if sess == nil || desc.SessionTimeoutMinutes == nil {
		return raw
	}
	raw = bsoncore.AppendDocumentElement(raw, "lsid", bsoncore.Document(sess.Server.SessionID))

	switch {
	case sess.InActiveTransaction():
		raw = bsoncore.AppendInt64Element(raw, "txnNumber", sess.Server.TxnNumber)
		if sess.TransactionState == session.TransactionStarting {
			raw = bsoncore.AppendBooleanElement(raw, "startTransaction", true)
		}
		raw = bsoncore.AppendBooleanElement(raw, "autocommit", false)
	case retryWrite:
		raw = bsoncore.AppendInt64Element(raw, "txnNumber", sess.Server.TxnNumber)
	}
	return raw
}

func addClusterTime(raw []byte, sess *session.ClientSession, clock *session.ClusterClock) []byte {
	var ct bsoncore.Document
	if sess != nil {
		ct = sess.ClusterTime()
	} else if clock != nil {
		ct = clock.GetClusterTime()
	}
	if ct == nil {
		return raw
	}
	return bsoncore.AppendDocumentElement(raw, "$clusterTime", ct)
}

func updateClusterTimes(sess *session.ClientSession, clock *session.ClusterClock, res bsoncore.Document) error {
	v, ok := res.Lookup("$clusterTime")
	if !ok {
		return nil
	}
	ct, ok := v.DocumentOK()
	if !ok {
		return nil
	}
	if sess != nil {
		sess.AdvanceClusterTime(ct)
	}
	if clock != nil {
		clock.AdvanceClusterTime(ct)
	}
	return nil
}

func updateOperationTime(sess *session.ClientSession, res bsoncore.Document) error {
	if sess == nil {
		return nil
	}
	v, ok := res.Lookup("operationTime")
	if !ok {
		return nil
	}
	t, i, ok := v.TimestampOK()
	if !ok {
		return nil
	}
	sess.AdvanceOperationTime(&primitive.Timestamp{T: t, I: i})
	return nil
}

// roundTrip writes wm and reads back the server's reply, classifying any
// transport failure as a retryable network error (spec.md §7).
func roundTrip(ctx context.Context, conn Connection, wm []byte) ([]byte, error) {
	if err := conn.WriteWireMessage(ctx, wm); err != nil {
		return nil, Error{Message: err.Error(), Labels: []string{NetworkError, TransientTransactionError}, Wrapped: err}
	}
	res, err := conn.ReadWireMessage(ctx)
	if err != nil {
		return nil, Error{Message: err.Error(), Labels: []string{NetworkError, TransientTransactionError}, Wrapped: err}
	}
	return res, nil
}

func roundTripDecode(ctx context.Context, conn Connection, wm []byte) (bsoncore.Document, error) {
	res, err := roundTrip(ctx, conn, wm)
	if err != nil {
		return nil, err
	}
	return decodeResult(res)
}

// decodeResult reads an OP_MSG reply's body section and classifies it as
// a success or a command error (spec.md §4.7 decode step).
func decodeResult(wm []byte) (bsoncore.Document, error) {
	h, rest, err := wiremessage.ReadHeader(wm)
	if err != nil {
		return nil, err
	}
	if h.OpCode != wiremessage.OpMsg {
		return nil, fmt.Errorf("driver: cannot decode result from opcode %s", h.OpCode)
	}
	var flagBuf [4]byte
	copy(flagBuf[:], rest)
	flags := wiremessage.MsgFlag(leUint32(flagBuf[:]))
	msg, err := wiremessage.ReadMsg(flags, rest[4:])
	if err != nil {
		return nil, err
	}
	res := bsoncore.Document(msg.BodyDoc)
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("driver: malformed reply document: %w", err)
	}
	return res, extractError(res)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// extractError inspects a decoded reply for "ok": 0 or a writeErrors /
// writeConcernError array, turning either into the corresponding Error /
// WriteCommandError (spec.md §4.7, §4.12).
func extractError(res bsoncore.Document) error {
	ok := false
	if v, found := res.Lookup("ok"); found {
		if f, isFloat := v.DoubleOK(); isFloat {
			ok = f == 1
		} else if i, isInt := v.Int32OK(); isInt {
			ok = i == 1
		} else if i, isInt := v.Int64OK(); isInt {
			ok = i == 1
		}
	}

	var wcErr WriteCommandError
	if v, found := res.Lookup("writeErrors"); found {
		if arr, isArr := v.ArrayOK(); isArr {
			vals, _ := arr.Values()
			for _, val := range vals {
				doc, isDoc := val.DocumentOK()
				if !isDoc {
					continue
				}
				var we WriteError
				if iv, found := doc.Lookup("index"); found {
					if i, isInt := iv.AsInt64(); isInt {
						we.Index = i
					}
				}
				if cv, found := doc.Lookup("code"); found {
					if c, isInt := cv.AsInt64(); isInt {
						we.Code = c
					}
				}
				if mv, found := doc.Lookup("errmsg"); found {
					if s, isStr := mv.StringValueOK(); isStr {
						we.Message = s
					}
				}
				wcErr.WriteErrors = append(wcErr.WriteErrors, we)
			}
		}
	}
	if v, found := res.Lookup("writeConcernError"); found {
		if doc, isDoc := v.DocumentOK(); isDoc {
			wce := &WriteConcernError{}
			if cv, found := doc.Lookup("code"); found {
				if c, isInt := cv.AsInt64(); isInt {
					wce.Code = c
				}
			}
			if mv, found := doc.Lookup("errmsg"); found {
				if s, isStr := mv.StringValueOK(); isStr {
					wce.Message = s
				}
			}
			wcErr.WriteConcernError = wce
		}
	}
	if v, found := res.Lookup("errorLabels"); found {
		if arr, isArr := v.ArrayOK(); isArr {
			vals, _ := arr.Values()
			for _, val := range vals {
				if s, isStr := val.StringValueOK(); isStr {
					wcErr.ErrorLabels = append(wcErr.ErrorLabels, s)
				}
			}
		}
	}
	if len(wcErr.WriteErrors) > 0 || wcErr.WriteConcernError != nil {
		return wcErr
	}

	if ok {
		return nil
	}

	cmdErr := Error{Message: "command failed"}
	if v, found := res.Lookup("errmsg"); found {
		if s, isStr := v.StringValueOK(); isStr {
			cmdErr.Message = s
		}
	}
	if v, found := res.Lookup("codeName"); found {
		if s, isStr := v.StringValueOK(); isStr {
			cmdErr.Name = s
		}
	}
	if v, found := res.Lookup("code"); found {
		if c, isInt := v.Int32OK(); isInt {
			cmdErr.Code = c
		}
	}
	if v, found := res.Lookup("errorLabels"); found {
		if arr, isArr := v.ArrayOK(); isArr {
			vals, _ := arr.Values()
			for _, val := range vals {
				if s, isStr := val.StringValueOK(); isStr {
					cmdErr.Labels = append(cmdErr.Labels, s)
				}
			}
		}
	}

	// spec.md §4.12 describes the size-error trigger only as "the server
	// returns 'command too large'", without naming a stable error code, so
	// the match is on that message substring; the reported size comes from
	// an errInfo.size subfield when the server supplies one, falling back
	// to the reply's own byte length as the best available estimate
	// otherwise.
	if strings.Contains(strings.ToLower(cmdErr.Message), "too large") {
		reported := len(res)
		if v, found := res.Lookup("errInfo"); found {
			if doc, isDoc := v.DocumentOK(); isDoc {
				if sv, found := doc.Lookup("size"); found {
					if n, isInt := sv.AsInt64(); isInt {
						reported = int(n)
					}
				}
			}
		}
		return &CommandSizeError{ReportedSize: reported}
	}
	return cmdErr
}

// SplitBatches splits docs into a batch that fits under targetBatchSize
// (after reserving room for command overhead) and the remainder, per
// spec.md §4.12's batch-splitting rule.
func SplitBatches(docs []bsoncore.Document, maxCount, targetBatchSize int) ([]bsoncore.Document, []bsoncore.Document, error) {
	if targetBatchSize > reservedCommandBufferBytes {
		targetBatchSize -= reservedCommandBufferBytes
	}
	if maxCount <= 0 {
		maxCount = 1
	}

	splitAfter := 0
	size := 0
	for _, doc := range docs {
		if len(doc) > targetBatchSize {
			return nil, nil, ErrDocumentTooLarge
		}
		if splitAfter >= maxCount || size+len(doc) > targetBatchSize {
			break
		}
		size += len(doc)
		splitAfter++
	}
	if splitAfter == 0 && len(docs) > 0 {
		splitAfter = 1
	}
	return docs[:splitAfter], docs[splitAfter:], nil
}

// CommandSizeError is returned by a batch write command when the server
// rejects the whole batch as too large, reporting the batch's actual wire
// size -- the trigger for SplitOnCommandSizeError's reactive re-split
// (spec.md §4.12).
type CommandSizeError struct {
	// ReportedSize is the server-reported size, in bytes, of the batch that
	// was rejected.
	ReportedSize int
}

func (e *CommandSizeError) Error() string {
	return fmt.Sprintf("driver: command size %d exceeds the server's maximum message size", e.ReportedSize)
}

// SplitOnCommandSizeError reactively re-splits docs (a single batch the
// server just rejected with a CommandSizeError carrying reportedSize) into
// smaller batches sized from the server's own report rather than this
// client's pre-emptive estimate, per spec.md §4.12: with an average
// per-document size of reportedSize/len(docs), batch count is
// max(1, floor(maxWireSize/avgOpSize)), and docs are dealt in order into
// batches of ceil(len(docs)/batchCount) documents, so there are at most
// batchCount batches and never more than len(docs).
func SplitOnCommandSizeError(docs []bsoncore.Document, reportedSize, maxWireSize int) ([][]bsoncore.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if maxWireSize <= 0 {
		return nil, errors.New("driver: maxWireSize must be positive")
	}
	avgOpSize := reportedSize / len(docs)
	if avgOpSize <= 0 {
		avgOpSize = 1
	}

	batchCount := maxWireSize / avgOpSize
	if batchCount < 1 {
		batchCount = 1
	}
	perBatch := (len(docs) + batchCount - 1) / batchCount
	if perBatch < 1 {
		perBatch = 1
	}

	var batches [][]bsoncore.Document
	for start := 0; start < len(docs); start += perBatch {
		end := start + perBatch
		if end > len(docs) {
			end = len(docs)
		}
		batches = append(batches, docs[start:end])
	}
	return batches, nil
}
