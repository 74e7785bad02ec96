// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"testing"

	"github.com/lattixdb/mongogo/bson/bsoncore"
)

func makeDocsOfSize(n, size int) []bsoncore.Document {
	docs := make([]bsoncore.Document, n)
	for i := range docs {
		// Pad with a binary element so each document is exactly size bytes;
		// padLen is clamped so tiny sizes still produce a valid document.
		padLen := size - 13
		if padLen < 0 {
			padLen = 0
		}
		doc := bsoncore.NewDocumentBuilder().AppendBinary("p", 0x00, make([]byte, padLen)).Build()
		docs[i] = doc
	}
	return docs
}

func TestSplitBatchesRespectsMaxCount(t *testing.T) {
	t.Parallel()

	docs := makeDocsOfSize(10, 50)
	batch, remaining, err := SplitBatches(docs, 4, 1<<20)
	if err != nil {
		t.Fatalf("SplitBatches() = %v, want nil", err)
	}
	if len(batch) != 4 {
		t.Fatalf("len(batch) = %d, want 4", len(batch))
	}
	if len(remaining) != 6 {
		t.Fatalf("len(remaining) = %d, want 6", len(remaining))
	}
}

func TestSplitBatchesBoundary(t *testing.T) {
	t.Parallel()

	// spec.md §8's boundary property: for N documents of size S each under
	// a wireLimit, SplitBatches (called repeatedly until the remainder is
	// empty) must produce ceil(N*S/wireLimit) batches, never leaving a
	// batch that exceeds wireLimit and never splitting more finely than
	// necessary.
	const (
		n         = 97
		docSize   = 1000
		wireLimit = 10000
	)
	docs := makeDocsOfSize(n, docSize)

	wantBatches := ceilDiv(n*docSize, wireLimit)

	var got int
	remaining := docs
	for len(remaining) > 0 {
		batch, rest, err := SplitBatches(remaining, maxCountUnbounded, wireLimit)
		if err != nil {
			t.Fatalf("SplitBatches() = %v, want nil", err)
		}
		if len(batch) == 0 {
			t.Fatal("SplitBatches() returned an empty batch with documents remaining")
		}
		got++
		remaining = rest
	}

	if got != wantBatches {
		t.Errorf("SplitBatches produced %d batches, want ceil(N*S/wireLimit) = %d", got, wantBatches)
	}
}

func TestSplitBatchesRejectsOversizedSingleDocument(t *testing.T) {
	t.Parallel()

	docs := makeDocsOfSize(1, 2000)
	_, _, err := SplitBatches(docs, maxCountUnbounded, 1000)
	if err != ErrDocumentTooLarge {
		t.Fatalf("SplitBatches() error = %v, want ErrDocumentTooLarge", err)
	}
}

func TestSplitBatchesEmptyInput(t *testing.T) {
	t.Parallel()

	batch, remaining, err := SplitBatches(nil, maxCountUnbounded, 1000)
	if err != nil {
		t.Fatalf("SplitBatches(nil) = %v, want nil", err)
	}
	if len(batch) != 0 || len(remaining) != 0 {
		t.Fatalf("SplitBatches(nil) = (%v, %v), want (nil, nil)", batch, remaining)
	}
}

func TestSplitOnCommandSizeErrorBoundary(t *testing.T) {
	t.Parallel()

	// The server rejected a 97-document, 97000-byte batch as too large;
	// reported size stands in for the server's own accounting. Per spec.md
	// §4.12, batch count = max(1, floor(maxWireSize/avgOpSize)), giving
	// ceil(N*avgOpSize/maxWireSize) batches here too.
	const (
		n            = 97
		reportedSize = 97000
		maxWireSize  = 10000
	)
	docs := makeDocsOfSize(n, 1000)

	batches, err := SplitOnCommandSizeError(docs, reportedSize, maxWireSize)
	if err != nil {
		t.Fatalf("SplitOnCommandSizeError() = %v, want nil", err)
	}

	avgOpSize := reportedSize / n
	batchCount := maxWireSize / avgOpSize
	wantBatches := ceilDiv(n, batchCount)

	if len(batches) != wantBatches {
		t.Fatalf("SplitOnCommandSizeError produced %d batches, want %d", len(batches), wantBatches)
	}

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != n {
		t.Errorf("batches collectively hold %d documents, want %d", total, n)
	}
}

func TestSplitOnCommandSizeErrorNeverYieldsZeroBatches(t *testing.T) {
	t.Parallel()

	docs := makeDocsOfSize(3, 1000)
	// reportedSize=10 over 3 documents gives avgOpSize 3 and a batch count
	// far above the document count, so each document lands in a batch of
	// its own; the batches must still cover every document.
	batches, err := SplitOnCommandSizeError(docs, 10, 1<<20)
	if err != nil {
		t.Fatalf("SplitOnCommandSizeError() = %v, want nil", err)
	}
	if len(batches) < 1 {
		t.Fatal("SplitOnCommandSizeError() returned zero batches")
	}
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != len(docs) {
		t.Errorf("batches collectively hold %d documents, want %d", total, len(docs))
	}
}

func TestSplitOnCommandSizeErrorEmptyInput(t *testing.T) {
	t.Parallel()

	batches, err := SplitOnCommandSizeError(nil, 100, 1000)
	if err != nil {
		t.Fatalf("SplitOnCommandSizeError(nil) = %v, want nil", err)
	}
	if batches != nil {
		t.Fatalf("SplitOnCommandSizeError(nil) = %v, want nil", batches)
	}
}

const maxCountUnbounded = 1 << 30

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
