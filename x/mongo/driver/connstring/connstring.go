// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connstring parses mongodb:// and mongodb+srv:// connection
// strings into a normalized ConnString (spec.md §4.1).
package connstring

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ConnString is the normalized result of parsing a connection string.
type ConnString struct {
	Original string

	Username    string
	Password    string
	PasswordSet bool

	Hosts []string // host:port, port defaulted to 27017

	Database string

	AppName                 string
	AuthMechanism           string
	AuthMechanismProperties map[string]string
	AuthSource              string
	ConnectTimeout          time.Duration
	HeartbeatInterval       time.Duration
	Journal                 *bool
	LocalThreshold          time.Duration
	MaxStaleness            time.Duration
	HasMaxStaleness         bool
	MaxTimeMS               time.Duration
	ReadPreference          string
	ReadPreferenceTagSets   []map[string]string
	ReplicaSet              string
	RetryWrites             *bool
	RetryReads              *bool
	ServerSelectionTimeout  time.Duration
	ServerSelectionTryOnce  bool
	SocketCheckInterval     time.Duration
	SocketTimeout           time.Duration
	SSL                     *bool
	W                       string
	WTimeout                time.Duration
	ReadConcernLevel        string
	Compressors             []string
	ZlibCompressionLevel    int
	MaxPoolSize             uint64
	MinPoolSize             uint64

	// Warnings accumulates non-fatal parse diagnostics, e.g. repeated
	// single-value options or unrecognized options from the URI itself
	// (unrecognized options from an SRV TXT record are fatal instead,
	// per spec.md §4.1).
	Warnings []string
}

// recognizedOptions is the set of option keys spec.md §6 lists.
var recognizedOptions = map[string]bool{
	"appname": true, "authmechanism": true, "authmechanismproperties": true,
	"authsource": true, "connecttimeoutms": true, "heartbeatfrequencyms": true,
	"journal": true, "localthresholdms": true, "maxstalenessseconds": true,
	"maxtimems": true, "readpreference": true, "readpreferencetags": true,
	"replicaset": true, "retrywrites": true, "retryreads": true,
	"serverselectiontimeoutms": true, "serverselectiontryonce": true,
	"socketcheckintervalms": true, "sockettimeoutms": true, "ssl": true,
	"tls": true, "w": true, "wtimeoutms": true, "readconcernlevel": true,
	"compressors": true, "zlibcompressionlevel": true,
	"maxpoolsize": true, "minpoolsize": true,
}

// srvOnlyAllowed is the set of options an SRV TXT record may set (spec.md
// §6: "SRV-TXT records may only set authSource and replicaSet").
var srvOnlyAllowed = map[string]bool{"authsource": true, "replicaset": true}

// srvResolver is the subset of *net.Resolver that mongodb+srv:// expansion
// needs; narrowed to an interface so tests can substitute a fake instead of
// depending on a live DNS server.
type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// resolver is the srvResolver used by Parse; overridden in tests.
var resolver srvResolver = net.DefaultResolver

// Parse parses uri, resolving mongodb+srv:// seedlists via DNS.
func Parse(ctx context.Context, uri string) (*ConnString, error) {
	scheme, rest, isSRV, err := splitScheme(uri)
	if err != nil {
		return nil, err
	}

	// url.Parse rejects a comma-separated host list, so the host part is cut
	// out here and handed to parseHostList (or SRV resolution) directly.
	authority, tail := rest, ""
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority, tail = rest[:i], rest[i:]
	}
	userinfo, hostPart := "", authority
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		userinfo, hostPart = authority[:i+1], authority[i+1:]
	}

	u, err := url.Parse(scheme + "://" + userinfo + "placeholder" + tail)
	if err != nil {
		return nil, fmt.Errorf("connstring: %w", err)
	}

	cs := &ConnString{
		Original:                uri,
		AuthMechanismProperties: map[string]string{},
	}

	if u.User != nil {
		if err := decodeUserinfo(u.User, cs); err != nil {
			return nil, err
		}
	}

	if isSRV {
		if err := resolveSRV(ctx, hostPart, cs); err != nil {
			return nil, err
		}
	} else {
		hosts, err := parseHostList(hostPart)
		if err != nil {
			return nil, err
		}
		cs.Hosts = hosts
	}

	if u.Path != "" && u.Path != "/" {
		cs.Database = strings.TrimPrefix(u.Path, "/")
	}

	seen := map[string]bool{}
	for key, values := range u.Query() {
		lower := strings.ToLower(key)
		if !recognizedOptions[lower] {
			cs.Warnings = append(cs.Warnings, fmt.Sprintf("connstring: unrecognized option %q", key))
			continue
		}
		if err := applyOption(cs, lower, values, seen); err != nil {
			return nil, err
		}
	}

	if isSRV {
		// TLS defaults to on for SRV, unless explicitly overridden
		// (spec.md §4.1: "with TLS defaulted to on").
		if cs.SSL == nil {
			on := true
			cs.SSL = &on
		}
	}

	return cs, nil
}

func splitScheme(uri string) (scheme, rest string, isSRV bool, err error) {
	switch {
	case strings.HasPrefix(uri, "mongodb+srv://"):
		return "mongodb+srv", strings.TrimPrefix(uri, "mongodb+srv://"), true, nil
	case strings.HasPrefix(uri, "mongodb://"):
		return "mongodb", strings.TrimPrefix(uri, "mongodb://"), false, nil
	default:
		return "", "", false, fmt.Errorf("connstring: unsupported scheme in %q", uri)
	}
}

func decodeUserinfo(u *url.Userinfo, cs *ConnString) error {
	username, err := url.QueryUnescape(u.Username())
	if err != nil {
		return fmt.Errorf("connstring: invalid percent-encoding in username: %w", err)
	}
	cs.Username = username

	if password, ok := u.Password(); ok {
		decoded, err := url.QueryUnescape(password)
		if err != nil {
			return fmt.Errorf("connstring: invalid percent-encoding in password: %w", err)
		}
		cs.Password = decoded
		cs.PasswordSet = true
	}
	return nil
}

func parseHostList(hostPart string) ([]string, error) {
	if hostPart == "" {
		return nil, fmt.Errorf("connstring: at least one host is required")
	}
	var hosts []string
	for _, h := range strings.Split(hostPart, ",") {
		host, err := normalizeHostPort(h)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func normalizeHostPort(hostport string) (string, error) {
	if strings.HasPrefix(hostport, "/") {
		return "", fmt.Errorf("connstring: unix domain socket paths are not supported")
	}

	host, port := hostport, ""
	if strings.HasPrefix(hostport, "[") {
		idx := strings.Index(hostport, "]")
		if idx < 0 {
			return "", fmt.Errorf("connstring: unterminated IPv6 literal in %q", hostport)
		}
		host = hostport[1:idx]
		rest := hostport[idx+1:]
		if strings.HasPrefix(rest, ":") {
			port = rest[1:]
		}
		host = "[" + host + "]"
	} else if i := strings.LastIndex(hostport, ":"); i >= 0 {
		host = hostport[:i]
		port = hostport[i+1:]
	}

	if port == "" {
		port = "27017"
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("connstring: invalid port in %q", hostport)
	}

	return strings.ToLower(host) + ":" + strconv.Itoa(p), nil
}

func applyOption(cs *ConnString, key string, values []string, seen map[string]bool) error {
	multiValued := key == "readpreferencetags"
	if seen[key] && !multiValued {
		cs.Warnings = append(cs.Warnings, fmt.Sprintf("connstring: repeated option %q, using first occurrence", key))
		return nil
	}
	seen[key] = true
	value := values[0]

	switch key {
	case "appname":
		cs.AppName = value
	case "authmechanism":
		cs.AuthMechanism = value
	case "authmechanismproperties":
		for _, kv := range strings.Split(value, ",") {
			parts := strings.SplitN(kv, ":", 2)
			if len(parts) == 2 {
				cs.AuthMechanismProperties[parts[0]] = parts[1]
			}
		}
	case "authsource":
		cs.AuthSource = value
	case "connecttimeoutms":
		return setDurationMS(&cs.ConnectTimeout, value)
	case "heartbeatfrequencyms":
		return setDurationMS(&cs.HeartbeatInterval, value)
	case "journal":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cs.Journal = &b
	case "localthresholdms":
		return setDurationMS(&cs.LocalThreshold, value)
	case "maxstalenessseconds":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("connstring: invalid maxStalenessSeconds %q", value)
		}
		cs.MaxStaleness = time.Duration(seconds) * time.Second
		cs.HasMaxStaleness = true
	case "maxtimems":
		return setDurationMS(&cs.MaxTimeMS, value)
	case "readpreference":
		cs.ReadPreference = value
	case "readpreferencetags":
		for _, v := range values {
			tagSet := map[string]string{}
			for _, kv := range strings.Split(v, ",") {
				parts := strings.SplitN(kv, ":", 2)
				if len(parts) == 2 {
					tagSet[parts[0]] = parts[1]
				}
			}
			cs.ReadPreferenceTagSets = append(cs.ReadPreferenceTagSets, tagSet)
		}
	case "replicaset":
		cs.ReplicaSet = value
	case "retrywrites":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cs.RetryWrites = &b
	case "retryreads":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cs.RetryReads = &b
	case "serverselectiontimeoutms":
		return setDurationMS(&cs.ServerSelectionTimeout, value)
	case "serverselectiontryonce":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cs.ServerSelectionTryOnce = b
	case "socketcheckintervalms":
		return setDurationMS(&cs.SocketCheckInterval, value)
	case "sockettimeoutms":
		return setDurationMS(&cs.SocketTimeout, value)
	case "ssl", "tls":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cs.SSL = &b
	case "w":
		cs.W = value
	case "wtimeoutms":
		return setDurationMS(&cs.WTimeout, value)
	case "readconcernlevel":
		cs.ReadConcernLevel = value
	case "compressors":
		cs.Compressors = strings.Split(value, ",")
	case "zlibcompressionlevel":
		level, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("connstring: invalid zlibCompressionLevel %q", value)
		}
		cs.ZlibCompressionLevel = level
	case "maxpoolsize":
		size, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("connstring: invalid maxPoolSize %q", value)
		}
		cs.MaxPoolSize = size
	case "minpoolsize":
		size, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("connstring: invalid minPoolSize %q", value)
		}
		cs.MinPoolSize = size
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("connstring: boolean option must be \"true\" or \"false\", got %q", value)
	}
}

func setDurationMS(dst *time.Duration, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("connstring: invalid integer option %q", value)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// resolveSRV implements spec.md §4.1's mongodb+srv:// resolution: one SRV
// lookup of _mongodb._tcp.<host> for the seedlist, then one TXT lookup
// over the same host for options, merged under the explicit URI options.
func resolveSRV(ctx context.Context, host string, cs *ConnString) error {
	_, addrs, err := resolver.LookupSRV(ctx, "mongodb", "tcp", host)
	if err != nil {
		return fmt.Errorf("connstring: SRV lookup for %q failed: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("connstring: SRV lookup for %q returned no records", host)
	}

	parentDomain := parentDomainOf(host)
	hosts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		target := strings.TrimSuffix(addr.Target, ".")
		if !strings.HasSuffix(strings.ToLower(target), parentDomain) {
			return fmt.Errorf("connstring: SRV target %q does not share parent domain %q", target, host)
		}
		hosts = append(hosts, strings.ToLower(target)+":"+strconv.Itoa(int(addr.Port)))
	}
	cs.Hosts = hosts

	records, err := resolver.LookupTXT(ctx, host)
	if err != nil {
		// Absence of a TXT record is not an error; it simply contributes
		// no options.
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	seen := map[string]bool{}
	for _, txt := range records {
		for _, pair := range strings.Split(txt, "&") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				continue
			}
			lower := strings.ToLower(kv[0])
			if !srvOnlyAllowed[lower] {
				return fmt.Errorf("connstring: SRV TXT record sets disallowed option %q", kv[0])
			}
			if err := applyOption(cs, lower, []string{kv[1]}, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func parentDomainOf(host string) string {
	parts := strings.SplitN(host, ".", 2)
	if len(parts) != 2 {
		return host
	}
	return strings.ToLower(parts[1])
}
