// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"bytes"
	"sort"
	"strings"

	"github.com/luxfi/geth/common"
)

// ACL is the set of principals allowed to request plaintext disclosure of
// a ciphertext. It is immutable: With returns a new set.
type ACL struct {
	members []common.Address // sorted, unique
}

// NewACL builds an ACL from the given principals. The zero address is
// never a member.
func NewACL(principals ...common.Address) ACL {
	var acl ACL
	return acl.With(principals...)
}

// With returns a copy of a extended by principals.
func (a ACL) With(principals ...common.Address) ACL {
	members := make([]common.Address, 0, len(a.members)+len(principals))
	members = append(members, a.members...)
	for _, p := range principals {
		if p == (common.Address{}) {
			continue
		}
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i][:], members[j][:]) < 0
	})

	out := members[:0]
	for _, m := range members {
		if len(out) > 0 && out[len(out)-1] == m {
			continue
		}
		out = append(out, m)
	}
	return ACL{members: out}
}

// Contains reports whether p may read the ciphertext.
func (a ACL) Contains(p common.Address) bool {
	i := sort.Search(len(a.members), func(i int) bool {
		return bytes.Compare(a.members[i][:], p[:]) >= 0
	})
	return i < len(a.members) && a.members[i] == p
}

// Members returns the principals in ascending byte order.
func (a ACL) Members() []common.Address {
	out := make([]common.Address, len(a.members))
	copy(out, a.members)
	return out
}

// Len returns the number of principals.
func (a ACL) Len() int {
	return len(a.members)
}

func (a ACL) String() string {
	parts := make([]string, len(a.members))
	for i, m := range a.members {
		parts[i] = m.Hex()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
