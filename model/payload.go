package model

import "fmt"

// Payload is the application content carried by a bundle.
type Payload interface {
	Size() int64
}

// RawPayload is opaque application data.
type RawPayload []byte

func (p RawPayload) Size() int64 { return int64(len(p)) }

// ClientMessage is a message written by one roaming client for another.
// Routers carry it inside bundles addressed to the router hosting the
// destination client.
type ClientMessage struct {
	DropID    int64
	From      string
	To        string
	CreatedAt int64
	ExpiresAt int64
	Body      []byte
}

func (m *ClientMessage) Size() int64 { return int64(len(m.Body)) + 32 }

// Key identifies a client message across copies.
func (m *ClientMessage) Key() string {
	return fmt.Sprintf("%s>%s#%d", m.From, m.To, m.DropID)
}

// MappingTable maps client id -> router id -> expiration tick.
type MappingTable map[string]map[NodeID]int64

// Clone returns a deep copy of the table.
func (t MappingTable) Clone() MappingTable {
	out := make(MappingTable, len(t))
	for client, routers := range t {
		inner := make(map[NodeID]int64, len(routers))
		for id, exp := range routers {
			inner[id] = exp
		}
		out[client] = inner
	}
	return out
}

// MappingPayload carries a router's client mapping table to another router.
type MappingPayload struct {
	Table MappingTable
}

func (p *MappingPayload) Size() int64 {
	var n int64
	for _, routers := range p.Table {
		n += int64(len(routers)) * 16
	}
	return n
}

// ClientBeacon announces that a client is reachable through the receiving router.
type ClientBeacon struct {
	ClientID string
}

func (p *ClientBeacon) Size() int64 { return int64(len(p.ClientID)) }
