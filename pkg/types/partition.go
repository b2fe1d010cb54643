package types

import (
	"fmt"
	"strings"
)

// PartitionScheme is the strategy by which a table's rows are spread over
// nodes. The numeric values are persisted in xsystables.partscheme.
type PartitionScheme int

const (
	// PartitionInherit defers to the parent table.
	PartitionInherit PartitionScheme = 0

	// PartitionOneNode keeps every row on a single node.
	PartitionOneNode PartitionScheme = 1

	// PartitionReplicated keeps a full copy on every node (lookup tables).
	PartitionReplicated PartitionScheme = 2

	// PartitionHash routes rows by a hash of the partition column.
	PartitionHash PartitionScheme = 3

	// PartitionRange routes rows by ordered upper bounds of the partition column.
	PartitionRange PartitionScheme = 4

	// PartitionRoundRobin spreads rows across nodes in turn.
	PartitionRoundRobin PartitionScheme = 5
)

var partitionSchemeNames = map[PartitionScheme]string{
	PartitionInherit:    "inherit",
	PartitionOneNode:    "onenode",
	PartitionReplicated: "replicated",
	PartitionHash:       "hash",
	PartitionRange:      "range",
	PartitionRoundRobin: "roundrobin",
}

func (p PartitionScheme) String() string {
	if s, ok := partitionSchemeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("PartitionScheme(%d)", int(p))
}

// Valid reports whether p is a known scheme.
func (p PartitionScheme) Valid() bool {
	_, ok := partitionSchemeNames[p]
	return ok
}

// NeedsColumn reports whether the scheme routes by a partition column.
func (p PartitionScheme) NeedsColumn() bool {
	return p == PartitionHash || p == PartitionRange
}

// ParsePartitionScheme parses a scheme name as written in DDL.
func ParsePartitionScheme(s string) (PartitionScheme, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
	for p, n := range partitionSchemeNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown partition scheme: %q", s)
}
