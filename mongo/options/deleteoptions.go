// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

// DeleteArgs represents arguments that can be used to configure a Delete
// operation.
type DeleteArgs struct {
	Collation *Collation
	Comment   interface{}
	Hint      interface{}
	Let       interface{}
}

// DeleteOneOptions contains options to configure a DeleteOne operation.
type DeleteOneOptions struct {
	Opts []func(*DeleteArgs) error
}

// DeleteOne creates a new DeleteOneOptions instance.
func DeleteOne() *DeleteOneOptions { return &DeleteOneOptions{} }

// ArgsSetters returns a list of DeleteArgs setter functions.
func (d *DeleteOneOptions) ArgsSetters() []func(*DeleteArgs) error { return d.Opts }

// SetCollation sets the value for the Collation field.
func (d *DeleteOneOptions) SetCollation(c *Collation) *DeleteOneOptions {
	d.Opts = append(d.Opts, func(args *DeleteArgs) error { args.Collation = c; return nil })
	return d
}

// SetComment sets the value for the Comment field.
func (d *DeleteOneOptions) SetComment(comment interface{}) *DeleteOneOptions {
	d.Opts = append(d.Opts, func(args *DeleteArgs) error { args.Comment = comment; return nil })
	return d
}

// SetHint sets the value for the Hint field.
func (d *DeleteOneOptions) SetHint(hint interface{}) *DeleteOneOptions {
	d.Opts = append(d.Opts, func(args *DeleteArgs) error { args.Hint = hint; return nil })
	return d
}

// DeleteManyOptions contains options to configure a DeleteMany operation.
// It shares the same argument shape as DeleteOneOptions.
type DeleteManyOptions struct {
	Opts []func(*DeleteArgs) error
}

// DeleteMany creates a new DeleteManyOptions instance.
func DeleteMany() *DeleteManyOptions { return &DeleteManyOptions{} }

// ArgsSetters returns a list of DeleteArgs setter functions.
func (d *DeleteManyOptions) ArgsSetters() []func(*DeleteArgs) error { return d.Opts }

// SetCollation sets the value for the Collation field.
func (d *DeleteManyOptions) SetCollation(c *Collation) *DeleteManyOptions {
	d.Opts = append(d.Opts, func(args *DeleteArgs) error { args.Collation = c; return nil })
	return d
}
