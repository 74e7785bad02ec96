// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
)

// requestIDSource produces 31-bit positive random request ids, one per
// message (spec.md §4.2: "Request ids are 31-bit positive random values
// chosen per message").
var requestIDSource = struct {
	mu  sync.Mutex
	rnd *mathrand.Rand
}{rnd: mathrand.New(mathrand.NewSource(seed()))}

func seed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return int64(binary.BigEndian.Uint64(b[:]))
	}
	return 1
}

func nextRequestID() int32 {
	requestIDSource.mu.Lock()
	defer requestIDSource.mu.Unlock()
	return int32(requestIDSource.rnd.Int31() & 0x7fffffff)
}
