// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

// UpdateArgs represents arguments that can be used to configure an Update
// or Replace operation.
type UpdateArgs struct {
	ArrayFilters             ArrayFilters
	BypassDocumentValidation *bool
	Collation                *Collation
	Comment                  interface{}
	Hint                     interface{}
	Let                      interface{}
	Upsert                   *bool
}

// UpdateOneOptions contains options to configure an UpdateOne operation.
type UpdateOneOptions struct {
	Opts []func(*UpdateArgs) error
}

// UpdateOne creates a new UpdateOneOptions instance.
func UpdateOne() *UpdateOneOptions { return &UpdateOneOptions{} }

// ArgsSetters returns a list of UpdateArgs setter functions.
func (u *UpdateOneOptions) ArgsSetters() []func(*UpdateArgs) error { return u.Opts }

// SetUpsert sets the value for the Upsert field.
func (u *UpdateOneOptions) SetUpsert(b bool) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Upsert = &b; return nil })
	return u
}

// SetBypassDocumentValidation sets the value for the BypassDocumentValidation field.
func (u *UpdateOneOptions) SetBypassDocumentValidation(b bool) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.BypassDocumentValidation = &b; return nil })
	return u
}

// SetCollation sets the value for the Collation field.
func (u *UpdateOneOptions) SetCollation(c *Collation) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Collation = c; return nil })
	return u
}

// SetArrayFilters sets the value for the ArrayFilters field.
func (u *UpdateOneOptions) SetArrayFilters(filters ArrayFilters) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.ArrayFilters = filters; return nil })
	return u
}

// SetHint sets the value for the Hint field.
func (u *UpdateOneOptions) SetHint(hint interface{}) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Hint = hint; return nil })
	return u
}

// SetComment sets the value for the Comment field.
func (u *UpdateOneOptions) SetComment(comment interface{}) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Comment = comment; return nil })
	return u
}

// SetLet sets the value for the Let field.
func (u *UpdateOneOptions) SetLet(let interface{}) *UpdateOneOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Let = let; return nil })
	return u
}

// UpdateManyOptions contains options to configure an UpdateMany operation.
// It shares the same argument shape as UpdateOneOptions.
type UpdateManyOptions struct {
	Opts []func(*UpdateArgs) error
}

// UpdateMany creates a new UpdateManyOptions instance.
func UpdateMany() *UpdateManyOptions { return &UpdateManyOptions{} }

// ArgsSetters returns a list of UpdateArgs setter functions.
func (u *UpdateManyOptions) ArgsSetters() []func(*UpdateArgs) error { return u.Opts }

// SetUpsert sets the value for the Upsert field.
func (u *UpdateManyOptions) SetUpsert(b bool) *UpdateManyOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Upsert = &b; return nil })
	return u
}

// SetArrayFilters sets the value for the ArrayFilters field.
func (u *UpdateManyOptions) SetArrayFilters(filters ArrayFilters) *UpdateManyOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.ArrayFilters = filters; return nil })
	return u
}

// SetCollation sets the value for the Collation field.
func (u *UpdateManyOptions) SetCollation(c *Collation) *UpdateManyOptions {
	u.Opts = append(u.Opts, func(args *UpdateArgs) error { args.Collation = c; return nil })
	return u
}

// ReplaceOptions contains options to configure a ReplaceOne operation. It
// shares the same argument shape as UpdateOneOptions, minus ArrayFilters
// (meaningless for a full-document replace).
type ReplaceOptions struct {
	Opts []func(*UpdateArgs) error
}

// Replace creates a new ReplaceOptions instance.
func Replace() *ReplaceOptions { return &ReplaceOptions{} }

// ArgsSetters returns a list of UpdateArgs setter functions.
func (r *ReplaceOptions) ArgsSetters() []func(*UpdateArgs) error { return r.Opts }

// SetUpsert sets the value for the Upsert field.
func (r *ReplaceOptions) SetUpsert(b bool) *ReplaceOptions {
	r.Opts = append(r.Opts, func(args *UpdateArgs) error { args.Upsert = &b; return nil })
	return r
}

// SetCollation sets the value for the Collation field.
func (r *ReplaceOptions) SetCollation(c *Collation) *ReplaceOptions {
	r.Opts = append(r.Opts, func(args *UpdateArgs) error { args.Collation = c; return nil })
	return r
}
