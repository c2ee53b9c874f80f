// Package partition names the physical images a module can target and provides
// maps keyed by those names with explicit present/absent semantics.
package partition

import (
	"fmt"
	"slices"
	"strings"
)

type Name string

const (
	System    Name = "system"
	SystemExt Name = "system_ext"
	Product   Name = "product"
	Vendor    Name = "vendor"
	Odm       Name = "odm"

	Boot       Name = "boot"
	InitBoot   Name = "init_boot"
	VendorBoot Name = "vendor_boot"
)

var known = []Name{System, SystemExt, Product, Vendor, Odm, Boot, InitBoot, VendorBoot}

// Parse returns the partition for s. Unknown names are rejected.
func Parse(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(known, n) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPartition, s)
	}
	return n, nil
}

// Known returns every partition name in declaration order.
func Known() []Name {
	return slices.Clone(known)
}

// IsBoot reports whether the partition holds a ramdisk rather than an ext4 tree.
func (n Name) IsBoot() bool {
	return n == Boot || n == InitBoot || n == VendorBoot
}

func (n Name) String() string {
	return string(n)
}

// Set is an unordered collection of partition names.
type Set map[Name]struct{}

func NewSet(names ...Name) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Has(n Name) bool {
	_, ok := s[n]
	return ok
}

func (s Set) Add(n Name) {
	s[n] = struct{}{}
}

// Union returns a new set holding the members of s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for n := range s {
		out[n] = struct{}{}
	}
	for n := range other {
		out[n] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []Name {
	names := make([]Name, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
