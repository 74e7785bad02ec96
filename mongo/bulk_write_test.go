// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"errors"
	"testing"

	"github.com/lattixdb/mongogo/x/mongo/driver"
)

func TestSplitRunsGroupsConsecutiveSameKindModels(t *testing.T) {
	t.Parallel()

	models := []WriteModel{
		InsertOneModel{Document: struct{}{}},
		InsertOneModel{Document: struct{}{}},
		DeleteOneModel{},
		UpdateOneModel{},
		UpdateManyModel{},
		InsertOneModel{Document: struct{}{}},
	}

	runs := splitRuns(models)
	if len(runs) != 4 {
		t.Fatalf("splitRuns() returned %d runs, want 4", len(runs))
	}

	wantKinds := []writeKind{kindInsert, kindDelete, kindUpdate, kindInsert}
	wantIndices := [][]int{{0, 1}, {2}, {3, 4}, {5}}
	for i, r := range runs {
		if r.kind != wantKinds[i] {
			t.Errorf("run %d kind = %v, want %v", i, r.kind, wantKinds[i])
		}
		if len(r.indices) != len(wantIndices[i]) {
			t.Fatalf("run %d indices = %v, want %v", i, r.indices, wantIndices[i])
		}
		for j, idx := range wantIndices[i] {
			if r.indices[j] != idx {
				t.Errorf("run %d indices[%d] = %d, want %d", i, j, r.indices[j], idx)
			}
		}
	}
}

func TestGroupByKindPreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()

	models := []WriteModel{
		DeleteOneModel{},
		InsertOneModel{Document: struct{}{}},
		DeleteManyModel{},
		InsertOneModel{Document: struct{}{}},
	}

	runs := groupByKind(models)
	if len(runs) != 2 {
		t.Fatalf("groupByKind() returned %d runs, want 2 (one per distinct kind)", len(runs))
	}
	if runs[0].kind != kindDelete || runs[1].kind != kindInsert {
		t.Fatalf("groupByKind() kinds = [%v %v], want [delete insert] (order of first appearance)", runs[0].kind, runs[1].kind)
	}
	if len(runs[0].indices) != 2 || len(runs[1].indices) != 2 {
		t.Fatalf("groupByKind() run sizes = [%d %d], want [2 2]", len(runs[0].indices), len(runs[1].indices))
	}
}

// TestOrderedBulkDuplicateKeyMidStream exercises spec.md's ordered-bulk
// scenario: with maxWriteBatchSize = 2, insert {_id:1}, {_id:2}, {_id:2},
// {_id:3} splits into batch1 = [0,1] (ok) and batch2 = [2,3], where the
// server reports a duplicate-key writeError at the in-batch index 0 (the
// second {_id:2}, the caller's model index 2). The tally must re-index
// that error against the original model position, not the batch-local one,
// and must still record the two prior successful inserts.
func TestOrderedBulkDuplicateKeyMidStream(t *testing.T) {
	t.Parallel()

	tally := newBulkTally()

	// batch1: models 0 and 1 succeed.
	tally.addInserted([]int{0, 1}, []interface{}{1, 2})

	// batch2: models 2 and 3 attempted; server rejects model 2 (batch-local
	// index 0) with a duplicate-key error and model 3 (batch-local index 1)
	// is not re-run because ordered mode stops.
	batch2Indices := []int{2, 3}
	wce := driver.WriteCommandError{
		WriteErrors: []driver.WriteError{
			{Index: 0, Code: 11000, Message: "E11000 duplicate key error"},
		},
	}
	if continue_ := tally.absorb(wce, batch2Indices); !continue_ {
		t.Fatal("absorb() on a WriteCommandError reported the run must stop, want it to report partial-failure-but-continue")
	}

	result := tally.result()
	if result.InsertedCount != 2 {
		t.Errorf("InsertedCount = %d, want 2", result.InsertedCount)
	}

	err := tally.asError()
	var bwe *BulkWriteException
	if err == nil {
		t.Fatal("asError() = nil, want a *BulkWriteException")
	}
	bwe, ok := err.(*BulkWriteException)
	if !ok {
		t.Fatalf("asError() returned %T, want *BulkWriteException", err)
	}
	if len(bwe.WriteErrors) != 1 {
		t.Fatalf("WriteErrors = %v, want exactly one", bwe.WriteErrors)
	}
	if bwe.WriteErrors[0].ModelIndex != 2 {
		t.Errorf("WriteErrors[0].ModelIndex = %d, want 2 (re-indexed against the original models slice)", bwe.WriteErrors[0].ModelIndex)
	}
	if bwe.WriteErrors[0].Code != 11000 {
		t.Errorf("WriteErrors[0].Code = %d, want 11000", bwe.WriteErrors[0].Code)
	}
}

func TestBulkTallyMergeCombinesIndependentRunResults(t *testing.T) {
	t.Parallel()

	a := newBulkTally()
	a.addInserted([]int{0}, []interface{}{1})
	a.matchedCount = 3

	b := newBulkTally()
	b.addInserted([]int{1}, []interface{}{2})
	b.deletedCount = 5

	a.merge(b)

	result := a.result()
	if result.InsertedCount != 2 {
		t.Errorf("InsertedCount = %d, want 2", result.InsertedCount)
	}
	if result.MatchedCount != 3 {
		t.Errorf("MatchedCount = %d, want 3", result.MatchedCount)
	}
	if result.DeletedCount != 5 {
		t.Errorf("DeletedCount = %d, want 5", result.DeletedCount)
	}
}

func TestBulkTallyAsErrorNilWhenNoWriteErrors(t *testing.T) {
	t.Parallel()

	tally := newBulkTally()
	tally.addInserted([]int{0}, []interface{}{1})
	if err := tally.asError(); err != nil {
		t.Errorf("asError() = %v, want nil", err)
	}
}

func TestAbsorbStopsRunOnNonWriteCommandError(t *testing.T) {
	t.Parallel()

	tally := newBulkTally()
	fatal := errors.New("connection reset by peer")
	if continue_ := tally.absorb(fatal, []int{0}); continue_ {
		t.Error("absorb() on a non-WriteCommandError reported the run may continue, want it to report the run must stop")
	}
}
