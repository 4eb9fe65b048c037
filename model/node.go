package model

import (
	"context"
	"fmt"
	"strings"
)

// NodeID identifies a node in the simulated network.
type NodeID int64

// Role separates router-capable participants from client-only ones.
type Role int

const (
	RoleRouter Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleRouter:
		return "router"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps a config string onto a Role. Empty defaults to router.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "router":
		return RoleRouter, nil
	case "client":
		return RoleClient, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// BundleHandler accepts bundles handed over by a neighbor or the local
// application layer.
type BundleHandler interface {
	HandleBundle(ctx context.Context, b *Bundle)
}

// Node is a participant registered in the directory.
type Node struct {
	ID      NodeID
	Name    string
	Role    Role
	Handler BundleHandler // nil for client-only nodes
}
