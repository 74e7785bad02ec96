// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand"
	"sync"
)

// selectionRand backs the final "pick randomly among the survivors" step
// of server selection (spec.md §4.6 step 5). Seeded from crypto/rand like
// wiremessage's request-id generator, since this package has no other
// source of entropy to share with it.
var selectionRand = struct {
	mu  sync.Mutex
	rnd *mathrand.Rand
}{rnd: mathrand.New(mathrand.NewSource(randSeed()))}

func randSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return int64(binary.BigEndian.Uint64(b[:]))
	}
	return 1
}

// randIntn returns a random int in [0, n).
func randIntn(n int) int {
	selectionRand.mu.Lock()
	defer selectionRand.mu.Unlock()
	return selectionRand.rnd.Intn(n)
}
