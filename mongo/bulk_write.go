// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"sync"

	"github.com/lattixdb/mongogo/bson/bsoncore"
	"github.com/lattixdb/mongogo/mongo/options"
	"github.com/lattixdb/mongogo/x/mongo/driver"
	"github.com/lattixdb/mongogo/x/mongo/driver/operation"
	"golang.org/x/sync/errgroup"
)

// WriteModel is one write in a BulkWrite call: an InsertOneModel,
// UpdateOneModel, UpdateManyModel, ReplaceOneModel, DeleteOneModel, or
// DeleteManyModel (spec.md §4.12).
type WriteModel interface {
	writeModel()
}

// InsertOneModel inserts Document.
type InsertOneModel struct{ Document interface{} }

// UpdateOneModel updates at most one document matching Filter.
type UpdateOneModel struct {
	Filter       interface{}
	Update       interface{}
	Upsert       *bool
	Collation    *options.Collation
	ArrayFilters []interface{}
}

// UpdateManyModel updates every document matching Filter.
type UpdateManyModel struct {
	Filter       interface{}
	Update       interface{}
	Upsert       *bool
	Collation    *options.Collation
	ArrayFilters []interface{}
}

// ReplaceOneModel replaces at most one document matching Filter.
type ReplaceOneModel struct {
	Filter      interface{}
	Replacement interface{}
	Upsert      *bool
	Collation   *options.Collation
}

// DeleteOneModel deletes at most one document matching Filter.
type DeleteOneModel struct {
	Filter    interface{}
	Collation *options.Collation
}

// DeleteManyModel deletes every document matching Filter.
type DeleteManyModel struct {
	Filter    interface{}
	Collation *options.Collation
}

func (InsertOneModel) writeModel()   {}
func (UpdateOneModel) writeModel()   {}
func (UpdateManyModel) writeModel()  {}
func (ReplaceOneModel) writeModel()  {}
func (DeleteOneModel) writeModel()   {}
func (DeleteManyModel) writeModel()  {}

// BulkWriteResult aggregates the outcome of every model in a BulkWrite
// call (spec.md §4.12).
type BulkWriteResult struct {
	InsertedCount int64
	MatchedCount  int64
	ModifiedCount int64
	DeletedCount  int64
	UpsertedCount int64
	InsertedIDs   map[int]interface{}
	UpsertedIDs   map[int]interface{}
}

// BulkWriteException reports the per-model failures a partially
// successful bulk write left behind (spec.md §4.12: "partial failure is
// normal").
type BulkWriteException struct {
	WriteErrors []BulkWriteError
	Result      *BulkWriteResult
}

// BulkWriteError is a WriteError re-indexed against the caller's original
// models slice rather than the sub-batch it was reported against.
type BulkWriteError struct {
	ModelIndex int
	Code       int64
	Message    string
}

func (e *BulkWriteException) Error() string {
	if len(e.WriteErrors) == 0 {
		return "mongo: bulk write failed"
	}
	return e.WriteErrors[0].Message
}

type writeKind int

const (
	kindInsert writeKind = iota
	kindUpdate
	kindDelete
)

func modelKind(m WriteModel) writeKind {
	switch m.(type) {
	case InsertOneModel:
		return kindInsert
	case UpdateOneModel, UpdateManyModel, ReplaceOneModel:
		return kindUpdate
	default:
		return kindDelete
	}
}

// run is a maximal span of consecutive same-kind models, the unit ordered
// bulk write executes one at a time in original order.
type run struct {
	kind    writeKind
	indices []int
	models  []WriteModel
}

// BulkWrite dispatches a mixed sequence of write models in as few round
// trips as the ordering guarantee allows: consecutive runs of the same
// kind become one or more write-command batches. Insert runs are split
// under the same maxWriteBatchDocuments/targetBatchSizeBytes limits as
// InsertMany; update and delete runs are split by document count only. An
// unordered bulk write additionally runs independent runs concurrently
// (spec.md §4.12).
func (c *Collection) BulkWrite(ctx context.Context, models []WriteModel, opts ...*options.BulkWriteOptions) (*BulkWriteResult, error) {
	if len(models) == 0 {
		return nil, ErrEmptySlice
	}

	args := options.BulkWriteArgs{Ordered: boolPtr(true)}
	for _, o := range opts {
		for _, setter := range o.ArgsSetters() {
			if err := setter(&args); err != nil {
				return nil, err
			}
		}
	}
	ordered := args.Ordered == nil || *args.Ordered

	tally := newBulkTally()

	if ordered {
		for _, r := range splitRuns(models) {
			if err := c.runBulkRun(ctx, r, &args, tally); err != nil {
				return tally.result(), err
			}
			if err := tally.asError(); err != nil {
				return tally.result(), err
			}
		}
		return tally.result(), tally.asError()
	}

	grouped := groupByKind(models)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range grouped {
		r := r
		g.Go(func() error {
			local := newBulkTally()
			err := c.runBulkRun(gctx, r, &args, local)
			mu.Lock()
			tally.merge(local)
			mu.Unlock()
			return err
		})
	}
	if firstErr := g.Wait(); firstErr != nil {
		return tally.result(), firstErr
	}
	return tally.result(), tally.asError()
}

func splitRuns(models []WriteModel) []run {
	var runs []run
	for i, m := range models {
		k := modelKind(m)
		if len(runs) > 0 && runs[len(runs)-1].kind == k {
			last := &runs[len(runs)-1]
			last.indices = append(last.indices, i)
			last.models = append(last.models, m)
			continue
		}
		runs = append(runs, run{kind: k, indices: []int{i}, models: []WriteModel{m}})
	}
	return runs
}

func groupByKind(models []WriteModel) []run {
	byKind := map[writeKind]*run{}
	var order []writeKind
	for i, m := range models {
		k := modelKind(m)
		r, ok := byKind[k]
		if !ok {
			r = &run{kind: k}
			byKind[k] = r
			order = append(order, k)
		}
		r.indices = append(r.indices, i)
		r.models = append(r.models, m)
	}
	runs := make([]run, 0, len(order))
	for _, k := range order {
		runs = append(runs, *byKind[k])
	}
	return runs
}

func (c *Collection) runBulkRun(ctx context.Context, r run, args *options.BulkWriteArgs, tally *bulkTally) error {
	switch r.kind {
	case kindInsert:
		return c.runInsertRun(ctx, r, args, tally)
	case kindUpdate:
		return c.runUpdateRun(ctx, r, args, tally)
	default:
		return c.runDeleteRun(ctx, r, args, tally)
	}
}

func (c *Collection) runInsertRun(ctx context.Context, r run, args *options.BulkWriteArgs, tally *bulkTally) error {
	docs := make([]bsoncore.Document, len(r.models))
	ids := make([]interface{}, len(r.models))
	for i, m := range r.models {
		doc, id, err := ensureID(m.(InsertOneModel).Document)
		if err != nil {
			return err
		}
		docs[i] = doc
		ids[i] = id
	}

	offset := 0
	for offset < len(docs) {
		batch, remaining, err := driver.SplitBatches(docs[offset:], maxWriteBatchDocuments, targetBatchSizeBytes)
		if err != nil {
			return err
		}
		n := len(batch)
		batchIndices := r.indices[offset : offset+n]
		batchIDs := ids[offset : offset+n]
		if err := c.sendInsertBatch(ctx, batch, batchIDs, batchIndices, args, tally); err != nil {
			return err
		}
		offset += n
		_ = remaining
	}
	return nil
}

// sendInsertBatch sends one insert batch and, on a CommandSizeError, re-
// splits that batch using the server's reported size and resends the
// smaller sub-batches recursively -- the reactive half of spec.md §4.12's
// batch-splitting rule, complementing runInsertRun's pre-emptive
// driver.SplitBatches call above.
func (c *Collection) sendInsertBatch(ctx context.Context, batch []bsoncore.Document, ids []interface{}, batchIndices []int, args *options.BulkWriteArgs, tally *bulkTally) error {
	n := len(batch)
	op := operation.NewInsert(batch...).
		Collection(c.name).
		Database(c.db.name).
		Deployment(c.deployment()).
		WriteConcern(c.writeConcern).
		ClusterClock(c.db.client.clusterClock).
		CommandMonitor(c.db.client.monitor).
		Ordered(bulkOrdered(args))
	if args.BypassDocumentValidation != nil {
		op.BypassDocumentValidation(*args.BypassDocumentValidation)
	}
	if c.db.client.retryWrites && n == 1 {
		op.Retry(driver.RetryOnce)
	}

	err := op.Execute(ctx)

	var sizeErr *driver.CommandSizeError
	if errors.As(err, &sizeErr) && n > 1 {
		subBatches, splitErr := driver.SplitOnCommandSizeError(batch, sizeErr.ReportedSize, targetBatchSizeBytes)
		if splitErr == nil && len(subBatches) > 1 {
			subOffset := 0
			for _, sub := range subBatches {
				m := len(sub)
				if err := c.sendInsertBatch(ctx, sub, ids[subOffset:subOffset+m], batchIndices[subOffset:subOffset+m], args, tally); err != nil {
					return err
				}
				subOffset += m
			}
			return nil
		}
	}

	var wce driver.WriteCommandError
	switch {
	case err == nil:
		tally.addInserted(batchIndices, ids)
	case errors.As(err, &wce):
		failed := make(map[int64]bool, len(wce.WriteErrors))
		for _, we := range wce.WriteErrors {
			failed[we.Index] = true
		}
		okIdx := make([]int, 0, n)
		okIDs := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			if !failed[int64(i)] {
				okIdx = append(okIdx, batchIndices[i])
				okIDs = append(okIDs, ids[i])
			}
		}
		tally.addInserted(okIdx, okIDs)
		tally.absorb(err, batchIndices)
	default:
		return err
	}
	return nil
}

const bulkRunBatchCount = maxWriteBatchDocuments

func bulkOrdered(args *options.BulkWriteArgs) bool {
	return args.Ordered == nil || *args.Ordered
}

func (c *Collection) runUpdateRun(ctx context.Context, r run, args *options.BulkWriteArgs, tally *bulkTally) error {
	for start := 0; start < len(r.models); start += bulkRunBatchCount {
		end := start + bulkRunBatchCount
		if end > len(r.models) {
			end = len(r.models)
		}
		docs := make([]operation.UpdateDoc, end-start)
		for i, m := range r.models[start:end] {
			ud, err := toUpdateDoc(m)
			if err != nil {
				return err
			}
			docs[i] = ud
		}

		op := operation.NewUpdate(docs...).
			Collection(c.name).
			Database(c.db.name).
			Deployment(c.deployment()).
			WriteConcern(c.writeConcern).
			ClusterClock(c.db.client.clusterClock).
			CommandMonitor(c.db.client.monitor).
			Ordered(bulkOrdered(args))
		if c.db.client.retryWrites {
			op.Retry(driver.RetryOnce)
		}

		err := op.Execute(ctx)
		if res := op.Result(); res != nil {
			tally.addUpdateResult(res, r.indices[start:end])
		}
		if !tally.absorb(err, r.indices[start:end]) {
			return err
		}
	}
	return nil
}

func (c *Collection) runDeleteRun(ctx context.Context, r run, args *options.BulkWriteArgs, tally *bulkTally) error {
	for start := 0; start < len(r.models); start += bulkRunBatchCount {
		end := start + bulkRunBatchCount
		if end > len(r.models) {
			end = len(r.models)
		}
		docs := make([]operation.DeleteDoc, end-start)
		for i, m := range r.models[start:end] {
			docs[i] = toDeleteDoc(m)
		}

		op := operation.NewDelete(docs...).
			Collection(c.name).
			Database(c.db.name).
			Deployment(c.deployment()).
			WriteConcern(c.writeConcern).
			ClusterClock(c.db.client.clusterClock).
			CommandMonitor(c.db.client.monitor).
			Ordered(bulkOrdered(args))
		if c.db.client.retryWrites {
			op.Retry(driver.RetryOnce)
		}

		err := op.Execute(ctx)
		if res := op.Result(); res != nil {
			if n, ok := res.Lookup("n"); ok {
				if v, ok := n.AsInt64(); ok {
					tally.mu.Lock()
					tally.deletedCount += v
					tally.mu.Unlock()
				}
			}
		}
		if !tally.absorb(err, r.indices[start:end]) {
			return err
		}
	}
	return nil
}

func toUpdateDoc(m WriteModel) (operation.UpdateDoc, error) {
	switch v := m.(type) {
	case UpdateOneModel:
		update, isArray, err := encodeUpdate(v.Update)
		if err != nil {
			return operation.UpdateDoc{}, err
		}
		return operation.UpdateDoc{
			Filter:        mustEncode(v.Filter),
			Update:        update,
			UpdateIsArray: isArray,
			Multi:         boolPtr(false),
			Upsert:        v.Upsert,
			Collation:     collationDoc(v.Collation),
			ArrayFilters:  arrayFiltersArray(v.ArrayFilters),
		}, nil
	case UpdateManyModel:
		update, isArray, err := encodeUpdate(v.Update)
		if err != nil {
			return operation.UpdateDoc{}, err
		}
		return operation.UpdateDoc{
			Filter:        mustEncode(v.Filter),
			Update:        update,
			UpdateIsArray: isArray,
			Multi:         boolPtr(true),
			Upsert:        v.Upsert,
			Collation:     collationDoc(v.Collation),
			ArrayFilters:  arrayFiltersArray(v.ArrayFilters),
		}, nil
	case ReplaceOneModel:
		return operation.UpdateDoc{
			Filter:    mustEncode(v.Filter),
			Update:    mustEncode(v.Replacement),
			Multi:     boolPtr(false),
			Upsert:    v.Upsert,
			Collation: collationDoc(v.Collation),
		}, nil
	default:
		return operation.UpdateDoc{}, errors.New("mongo: not an update model")
	}
}

func toDeleteDoc(m WriteModel) operation.DeleteDoc {
	switch v := m.(type) {
	case DeleteOneModel:
		return operation.DeleteDoc{Filter: mustEncode(v.Filter), Limit: 1, Collation: collationDoc(v.Collation)}
	case DeleteManyModel:
		return operation.DeleteDoc{Filter: mustEncode(v.Filter), Limit: 0, Collation: collationDoc(v.Collation)}
	default:
		panic("mongo: not a delete model")
	}
}

func collationDoc(c *options.Collation) bsoncore.Document {
	if c == nil {
		return nil
	}
	return mustEncode(c)
}

func arrayFiltersArray(filters []interface{}) bsoncore.Array {
	if len(filters) == 0 {
		return nil
	}
	arr, _ := encodePipeline(filters)
	return arr
}

// bulkTally accumulates a BulkWriteResult plus re-indexed write errors
// across however many sub-batches and concurrent runs a BulkWrite call
// dispatches.
type bulkTally struct {
	mu            sync.Mutex
	matchedCount  int64
	modifiedCount int64
	deletedCount  int64
	upsertedCount int64
	insertedIDs   map[int]interface{}
	upsertedIDs   map[int]interface{}
	writeErrors   []BulkWriteError
}

func newBulkTally() *bulkTally {
	return &bulkTally{insertedIDs: map[int]interface{}{}, upsertedIDs: map[int]interface{}{}}
}

func (t *bulkTally) addInserted(indices []int, ids []interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, idx := range indices {
		t.insertedIDs[idx] = ids[i]
	}
}

func (t *bulkTally) addUpdateResult(res bsoncore.Document, indices []int) {
	ur := extractUpdateResult(res)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matchedCount += ur.MatchedCount
	t.modifiedCount += ur.ModifiedCount
	t.upsertedCount += ur.UpsertedCount
	if v, found := res.Lookup("upserted"); found {
		if arr, ok := v.ArrayOK(); ok {
			vals, _ := arr.Values()
			for _, val := range vals {
				doc, ok := val.DocumentOK()
				if !ok {
					continue
				}
				idxV, found := doc.Lookup("index")
				if !found {
					continue
				}
				i, ok := idxV.AsInt64()
				if !ok || int(i) >= len(indices) {
					continue
				}
				if idV, found := doc.Lookup("_id"); found {
					t.upsertedIDs[indices[i]] = idV
				}
			}
		}
	}
}

// absorb folds err into the tally when it is a partial-failure
// WriteCommandError (re-indexing against indices, the batch's original
// model positions) and reports whether the run may continue. Any other
// error is fatal and must stop the run.
func (t *bulkTally) absorb(err error, indices []int) bool {
	if err == nil {
		return true
	}
	var wce driver.WriteCommandError
	if !errors.As(err, &wce) {
		return false
	}
	t.mu.Lock()
	for _, we := range wce.WriteErrors {
		modelIdx := -1
		if int(we.Index) < len(indices) {
			modelIdx = indices[we.Index]
		}
		t.writeErrors = append(t.writeErrors, BulkWriteError{ModelIndex: modelIdx, Code: we.Code, Message: we.Message})
	}
	t.mu.Unlock()
	return true
}

func (t *bulkTally) merge(other *bulkTally) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.matchedCount += other.matchedCount
	t.modifiedCount += other.modifiedCount
	t.deletedCount += other.deletedCount
	t.upsertedCount += other.upsertedCount
	for k, v := range other.insertedIDs {
		t.insertedIDs[k] = v
	}
	for k, v := range other.upsertedIDs {
		t.upsertedIDs[k] = v
	}
	t.writeErrors = append(t.writeErrors, other.writeErrors...)
}

func (t *bulkTally) result() *BulkWriteResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &BulkWriteResult{
		InsertedCount: int64(len(t.insertedIDs)),
		MatchedCount:  t.matchedCount,
		ModifiedCount: t.modifiedCount,
		DeletedCount:  t.deletedCount,
		UpsertedCount: t.upsertedCount,
		InsertedIDs:   t.insertedIDs,
		UpsertedIDs:   t.upsertedIDs,
	}
}

func (t *bulkTally) asError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.writeErrors) == 0 {
		return nil
	}
	return &BulkWriteException{WriteErrors: t.writeErrors, Result: t.result()}
}
