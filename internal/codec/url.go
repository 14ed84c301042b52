// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import "net/url"

// SafeURL is the wire-safe form of a URL value travelling through the
// serializer. spec.md §4.4 calls out that the original runtime's URL type
// has DNS-resolving equality, and that the serializer must intercept URL
// writes to avoid inadvertent DNS lookups. Go's net/url.URL has no such
// equality method (== on the struct compares fields byte-for-byte, never
// resolving a hostname), so the hazard spec.md describes cannot recur here
// by construction — but SafeURL still exists as the explicit wire
// representation so a future Codec swap (or a resolver hook added to
// net/url) can't silently reintroduce it. SafeURL round-trips the literal
// URL text only, never a resolved address.
type SafeURL struct {
	Raw string
}

// NewSafeURL captures u's literal text. Callers passing a net/url.URL as an
// RPC argument or result should send a SafeURL instead of the URL itself,
// so the wire representation is always the literal string spec.md §4.4
// calls for, never whatever a future URL type's own gob encoding happens
// to produce.
func NewSafeURL(u *url.URL) SafeURL {
	if u == nil {
		return SafeURL{}
	}
	return SafeURL{Raw: u.String()}
}

// Parse reparses Raw on the receiving side, exactly mirroring spec.md
// §4.4's "reconstructs the URL from its string form, never resolving a
// host in the process."
func (s SafeURL) Parse() (*url.URL, error) {
	return url.Parse(s.Raw)
}
