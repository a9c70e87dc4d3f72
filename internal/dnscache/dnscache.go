// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dnscache resolves IPv4 addresses to hostnames for the
// Emitter, caching both successful and failed lookups so a
// persistently-unknown client does not re-trigger a DNS query every
// flush (spec.md §4.7 step 2 / §8 scenario 6).
package dnscache

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/plaguedbypenguins/lustreharvest/internal/lrucache"
)

const (
	positiveTTL = 10 * time.Minute
	negativeTTL = 30 * time.Second
	entrySize   = 1
	dnsTimeout  = 2 * time.Second
)

// ErrUnknownHost is returned by Resolve when an IP could not be
// resolved to a hostname (NXDOMAIN, timeout, or no resolver available).
var ErrUnknownHost = fmt.Errorf("dnscache: unknown host")

// Resolver resolves IPv4 addresses to hostnames via active PTR lookups
// against a configured DNS server, falling back to the OS resolver when
// none is configured — preserving the zero-config behavior of the
// Python source, which relied entirely on the OS resolver.
type Resolver struct {
	// Server is "host:port" of the DNS server to query directly via
	// miekg/dns. When empty, Resolve falls back to
	// net.DefaultResolver.LookupAddr.
	Server string

	cache *lrucache.Cache
	// lookupFunc performs the actual (uncached) resolution; overridable
	// in tests to avoid real DNS traffic.
	lookupFunc func(ip string) (string, error)
}

// New returns a Resolver backed by a bounded, TTL'd cache. server may
// be empty to use the OS resolver exclusively.
func New(server string) *Resolver {
	r := &Resolver{
		Server: server,
		cache:  lrucache.New(1 << 16),
	}
	r.lookupFunc = r.lookup
	return r
}

// Resolve returns the hostname for ip, using the cache when possible.
// A previously-cached failure returns ErrUnknownHost without issuing a
// new query until its negative TTL expires.
func (r *Resolver) Resolve(ip string) (string, error) {
	val := r.cache.Get(ip, func() (interface{}, time.Duration, int) {
		host, err := r.lookupFunc(ip)
		if err != nil {
			return "", negativeTTL, entrySize
		}
		return host, positiveTTL, entrySize
	})

	host, _ := val.(string)
	if host == "" {
		return "", ErrUnknownHost
	}
	return host, nil
}

func (r *Resolver) lookup(ip string) (string, error) {
	if r.Server != "" {
		if host, err := r.lookupViaServer(ip); err == nil {
			return host, nil
		}
	}

	names, err := net.DefaultResolver.LookupAddr(context.Background(), ip)
	if err != nil || len(names) == 0 {
		return "", ErrUnknownHost
	}
	return trimTrailingDot(names[0]), nil
}

func (r *Resolver) lookupViaServer(ip string) (string, error) {
	reverse, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}

	m := new(dns.Msg)
	m.SetQuestion(reverse, dns.TypePTR)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: dnsTimeout}
	resp, _, err := c.Exchange(m, r.Server)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", ErrUnknownHost
	}

	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return trimTrailingDot(ptr.Ptr), nil
		}
	}
	return "", ErrUnknownHost
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
