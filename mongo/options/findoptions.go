// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

// FindOneArgs represents arguments that can be used to configure a FindOne
// operation.
type FindOneArgs struct {
	Collation  *Collation
	Comment    interface{}
	Hint       interface{}
	Max        interface{}
	Min        interface{}
	Projection interface{}
	ReturnKey  *bool
	ShowRecordID *bool
	Skip       *int64
	Sort       interface{}
}

// FindOneOptions contains options to configure a FindOne operation. Each
// option can be set through setter functions.
type FindOneOptions struct {
	Opts []func(*FindOneArgs) error
}

// FindOne creates a new FindOneOptions instance.
func FindOne() *FindOneOptions { return &FindOneOptions{} }

// ArgsSetters returns a list of FindOneArgs setter functions.
func (f *FindOneOptions) ArgsSetters() []func(*FindOneArgs) error { return f.Opts }

// SetCollation sets the value for the Collation field.
func (f *FindOneOptions) SetCollation(c *Collation) *FindOneOptions {
	f.Opts = append(f.Opts, func(args *FindOneArgs) error { args.Collation = c; return nil })
	return f
}

// SetComment sets the value for the Comment field.
func (f *FindOneOptions) SetComment(comment interface{}) *FindOneOptions {
	f.Opts = append(f.Opts, func(args *FindOneArgs) error { args.Comment = comment; return nil })
	return f
}

// SetProjection sets the value for the Projection field.
func (f *FindOneOptions) SetProjection(proj interface{}) *FindOneOptions {
	f.Opts = append(f.Opts, func(args *FindOneArgs) error { args.Projection = proj; return nil })
	return f
}

// SetSkip sets the value for the Skip field.
func (f *FindOneOptions) SetSkip(skip int64) *FindOneOptions {
	f.Opts = append(f.Opts, func(args *FindOneArgs) error { args.Skip = &skip; return nil })
	return f
}

// SetSort sets the value for the Sort field.
func (f *FindOneOptions) SetSort(sort interface{}) *FindOneOptions {
	f.Opts = append(f.Opts, func(args *FindOneArgs) error { args.Sort = sort; return nil })
	return f
}

// SetHint sets the value for the Hint field.
func (f *FindOneOptions) SetHint(hint interface{}) *FindOneOptions {
	f.Opts = append(f.Opts, func(args *FindOneArgs) error { args.Hint = hint; return nil })
	return f
}

// FindArgs represents arguments that can be used to configure a Find
// operation.
type FindArgs struct {
	AllowDiskUse    *bool
	AllowPartialResults *bool
	BatchSize       *int32
	Collation       *Collation
	Comment         interface{}
	CursorType      *CursorType
	Hint            interface{}
	Limit           *int64
	Max             interface{}
	MaxAwaitTime    *int64
	Min             interface{}
	NoCursorTimeout *bool
	Projection      interface{}
	ReturnKey       *bool
	ShowRecordID    *bool
	Skip            *int64
	Sort            interface{}
}

// CursorType specifies the type of cursor to use for a find operation.
type CursorType int8

// Valid CursorType values.
const (
	NonTailable CursorType = iota
	Tailable
	TailableAwait
)

// FindOptions contains options to configure a Find operation. Each option
// can be set through setter functions.
type FindOptions struct {
	Opts []func(*FindArgs) error
}

// Find creates a new FindOptions instance.
func Find() *FindOptions { return &FindOptions{} }

// ArgsSetters returns a list of FindArgs setter functions.
func (f *FindOptions) ArgsSetters() []func(*FindArgs) error { return f.Opts }

// SetBatchSize sets the value for the BatchSize field.
func (f *FindOptions) SetBatchSize(size int32) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.BatchSize = &size; return nil })
	return f
}

// SetCollation sets the value for the Collation field.
func (f *FindOptions) SetCollation(c *Collation) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Collation = c; return nil })
	return f
}

// SetComment sets the value for the Comment field.
func (f *FindOptions) SetComment(comment interface{}) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Comment = comment; return nil })
	return f
}

// SetCursorType sets the value for the CursorType field.
func (f *FindOptions) SetCursorType(ct CursorType) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.CursorType = &ct; return nil })
	return f
}

// SetLimit sets the value for the Limit field.
func (f *FindOptions) SetLimit(limit int64) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Limit = &limit; return nil })
	return f
}

// SetSkip sets the value for the Skip field.
func (f *FindOptions) SetSkip(skip int64) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Skip = &skip; return nil })
	return f
}

// SetSort sets the value for the Sort field.
func (f *FindOptions) SetSort(sort interface{}) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Sort = sort; return nil })
	return f
}

// SetProjection sets the value for the Projection field.
func (f *FindOptions) SetProjection(proj interface{}) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Projection = proj; return nil })
	return f
}

// SetHint sets the value for the Hint field.
func (f *FindOptions) SetHint(hint interface{}) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.Hint = hint; return nil })
	return f
}

// SetMaxAwaitTime sets the value for the MaxAwaitTime field (milliseconds).
func (f *FindOptions) SetMaxAwaitTime(ms int64) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.MaxAwaitTime = &ms; return nil })
	return f
}

// SetNoCursorTimeout sets the value for the NoCursorTimeout field.
func (f *FindOptions) SetNoCursorTimeout(b bool) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.NoCursorTimeout = &b; return nil })
	return f
}

// SetAllowDiskUse sets the value for the AllowDiskUse field.
func (f *FindOptions) SetAllowDiskUse(b bool) *FindOptions {
	f.Opts = append(f.Opts, func(args *FindArgs) error { args.AllowDiskUse = &b; return nil })
	return f
}
