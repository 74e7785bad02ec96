// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"

	"github.com/lattixdb/mongogo/x/mongo/driver"
)

// ErrNoDocuments is returned by FindOne and similar single-document reads
// when no document matches the filter.
var ErrNoDocuments = errors.New("mongo: no documents in result")

// ErrClientDisconnected is returned by operations called on a Client that
// has already been disconnected.
var ErrClientDisconnected = errors.New("mongo: client is disconnected")

// ErrEmptySlice is returned by InsertMany when given an empty slice of
// documents.
var ErrEmptySlice = errors.New("mongo: slice is empty")

// IsDuplicateKeyError reports whether err represents a unique-index
// violation: server error code 11000, 11001 or 12582, reported either as
// the command error or as one of its write errors. The message text is not
// inspected.
func IsDuplicateKeyError(err error) bool {
	return hasErrorCode(err, 11000, 11001, 12582)
}

// IsTimeout reports whether err resulted from a context deadline or a
// server-reported operation timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var de driver.Error
	if errors.As(err, &de) {
		return de.Code == 50
	}
	return false
}

// IsNamespaceNotFound reports whether err is the server's "ns not found"
// error, returned by commands like drop against a collection that was
// never created.
func IsNamespaceNotFound(err error) bool {
	return hasErrorCode(err, 26)
}

func hasErrorCode(err error, codes ...int32) bool {
	var de driver.Error
	if errors.As(err, &de) {
		for _, c := range codes {
			if de.Code == c {
				return true
			}
		}
	}
	var wce driver.WriteCommandError
	if errors.As(err, &wce) {
		for _, we := range wce.WriteErrors {
			for _, c := range codes {
				if we.Code == int64(c) {
					return true
				}
			}
		}
	}
	return false
}
