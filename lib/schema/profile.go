// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "slices"

// Profile is what a user chooses to tell strangers about themselves.
// Every field is optional; peers never validate a received profile
// beyond reading Username for display.
type Profile struct {
	Username  string   `json:"username,omitempty"`
	Age       int      `json:"age,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Interests []string `json:"interests,omitempty"`
	Location  string   `json:"location,omitempty"`
}

// Clone returns a deep copy. A nil profile clones to nil.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Interests = slices.Clone(p.Interests)
	return &clone
}

// DisplayName returns Username, or fallback when the profile is absent
// or has no name.
func (p *Profile) DisplayName(fallback string) string {
	if p == nil || p.Username == "" {
		return fallback
	}
	return p.Username
}
