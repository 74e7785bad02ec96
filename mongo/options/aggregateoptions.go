// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

// AggregateArgs represents arguments that can be used to configure an
// Aggregate operation.
type AggregateArgs struct {
	AllowDiskUse             *bool
	BatchSize                *int32
	BypassDocumentValidation *bool
	Collation                *Collation
	Comment                  interface{}
	Hint                     interface{}
	Let                      interface{}
	MaxAwaitTime             *int64
	MaxTime                  *int64
}

// AggregateOptions contains options to configure aggregate operations.
// Each option can be set through setter functions.
type AggregateOptions struct {
	Opts []func(*AggregateArgs) error
}

// Aggregate creates a new AggregateOptions instance.
func Aggregate() *AggregateOptions { return &AggregateOptions{} }

// ArgsSetters returns a list of AggregateArgs setter functions.
func (a *AggregateOptions) ArgsSetters() []func(*AggregateArgs) error { return a.Opts }

// SetAllowDiskUse sets the value for the AllowDiskUse field.
func (a *AggregateOptions) SetAllowDiskUse(b bool) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.AllowDiskUse = &b; return nil })
	return a
}

// SetBatchSize sets the value for the BatchSize field.
func (a *AggregateOptions) SetBatchSize(size int32) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.BatchSize = &size; return nil })
	return a
}

// SetBypassDocumentValidation sets the value for the BypassDocumentValidation field.
func (a *AggregateOptions) SetBypassDocumentValidation(b bool) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.BypassDocumentValidation = &b; return nil })
	return a
}

// SetCollation sets the value for the Collation field.
func (a *AggregateOptions) SetCollation(c *Collation) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.Collation = c; return nil })
	return a
}

// SetComment sets the value for the Comment field.
func (a *AggregateOptions) SetComment(comment interface{}) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.Comment = comment; return nil })
	return a
}

// SetHint sets the value for the Hint field.
func (a *AggregateOptions) SetHint(hint interface{}) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.Hint = hint; return nil })
	return a
}

// SetLet sets the value for the Let field.
func (a *AggregateOptions) SetLet(let interface{}) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.Let = let; return nil })
	return a
}

// SetMaxTime sets the value for the MaxTime field (milliseconds).
func (a *AggregateOptions) SetMaxTime(ms int64) *AggregateOptions {
	a.Opts = append(a.Opts, func(args *AggregateArgs) error { args.MaxTime = &ms; return nil })
	return a
}
