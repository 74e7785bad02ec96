// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package readpref implements the caller-supplied read preference policy
// (spec.md glossary) consulted by server selection (spec.md §4.6).
package readpref

import (
	"errors"
	"time"
)

// Mode describes which server roles are eligible for a read.
type Mode int

const (
	PrimaryMode Mode = iota
	PrimaryPreferredMode
	SecondaryMode
	SecondaryPreferredMode
	NearestMode
)

func (m Mode) String() string {
	switch m {
	case PrimaryMode:
		return "primary"
	case PrimaryPreferredMode:
		return "primaryPreferred"
	case SecondaryMode:
		return "secondary"
	case SecondaryPreferredMode:
		return "secondaryPreferred"
	case NearestMode:
		return "nearest"
	default:
		return "unknown"
	}
}

// ModeFromString parses the URI readPreference option value (spec.md §6).
func ModeFromString(s string) (Mode, error) {
	switch s {
	case "primary":
		return PrimaryMode, nil
	case "primaryPreferred":
		return PrimaryPreferredMode, nil
	case "secondary":
		return SecondaryMode, nil
	case "secondaryPreferred":
		return SecondaryPreferredMode, nil
	case "nearest":
		return NearestMode, nil
	default:
		return 0, errors.New("readpref: unknown mode " + s)
	}
}

// TagSet is a map of tags a candidate server's tag map must be a superset
// of (spec.md §4.6 step 3).
type TagSet map[string]string

// IsSubsetOf reports whether every tag in ts also appears with the same
// value in other.
func (ts TagSet) IsSubsetOf(other TagSet) bool {
	for k, v := range ts {
		if other[k] != v {
			return false
		}
	}
	return true
}

// ReadPref is a fully resolved read preference.
type ReadPref struct {
	mode         Mode
	tagSets      []TagSet
	maxStaleness time.Duration
	hasMaxStale  bool
}

// New constructs a ReadPref with the given mode and options.
func New(mode Mode, opts ...Option) (*ReadPref, error) {
	rp := &ReadPref{mode: mode}
	for _, opt := range opts {
		if err := opt(rp); err != nil {
			return nil, err
		}
	}
	if mode == PrimaryMode && (len(rp.tagSets) > 0 || rp.hasMaxStale) {
		return nil, errors.New("readpref: primary mode cannot be combined with tag sets or max staleness")
	}
	return rp, nil
}

// Primary returns the primary-mode ReadPref, the default for writes and most
// reads.
func Primary() *ReadPref { rp, _ := New(PrimaryMode); return rp }

// Option configures a ReadPref at construction.
type Option func(*ReadPref) error

// WithTagSets sets the ordered tag set list (spec.md §4.6 step 3).
func WithTagSets(tagSets ...TagSet) Option {
	return func(rp *ReadPref) error {
		rp.tagSets = tagSets
		return nil
	}
}

// WithMaxStaleness sets the max staleness filter (spec.md §4.6 step 4). A
// value of -1 disables the filter, matching the URI's -1 sentinel.
func WithMaxStaleness(d time.Duration) Option {
	return func(rp *ReadPref) error {
		if rp.mode == PrimaryMode && d > 0 {
			return errors.New("readpref: max staleness is incompatible with primary mode")
		}
		rp.maxStaleness = d
		rp.hasMaxStale = d > 0
		return nil
	}
}

// Mode returns the read preference's mode.
func (rp *ReadPref) Mode() Mode { return rp.mode }

// TagSets returns the ordered tag set list.
func (rp *ReadPref) TagSets() []TagSet { return rp.tagSets }

// MaxStaleness returns the configured max staleness and whether one was set.
func (rp *ReadPref) MaxStaleness() (time.Duration, bool) { return rp.maxStaleness, rp.hasMaxStale }
