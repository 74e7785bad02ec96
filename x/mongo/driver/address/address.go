// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package address provides a canonical host:port server address type used
// throughout topology discovery and monitoring (spec.md §3: "address
// (host+port, lowercased)").
package address

import "strings"

// Address is a lowercased host:port pair identifying a single server.
type Address string

// DefaultPort is the default MongoDB server port, used when a URI host
// entry omits one (spec.md §4.1).
const DefaultPort = "27017"

// Canonicalize lowercases the address and appends the default port if one
// is not already present. This is the single place normalization happens so
// that topology map keys are always comparable by value.
func (a Address) Canonicalize() Address {
	s := strings.ToLower(string(a))
	hasPort := strings.Contains(s, ":")
	if strings.HasPrefix(s, "[") {
		hasPort = strings.Contains(s, "]:")
	}
	if !hasPort {
		s += ":" + DefaultPort
	}
	return Address(s)
}

// String implements fmt.Stringer.
func (a Address) String() string {
	if a == "" {
		return "<nil>"
	}
	return string(a)
}
