package server

import "sync/atomic"

// Empty is the argument type of methods that take no params.
type Empty struct{}

type Health struct {
	Peers           int  `json:"peers"`
	IsSyncing       bool `json:"isSyncing"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// System answers the system_* methods a Substrate-style node exposes.
// Register it under the "system" namespace.
type System struct {
	chain   string
	name    string
	version string

	peers   atomic.Int64
	syncing atomic.Bool
}

func NewSystem(chain, name, version string) *System {
	return &System{chain: chain, name: name, version: version}
}

func (s *System) SetPeers(n int)       { s.peers.Store(int64(n)) }
func (s *System) SetSyncing(sync bool) { s.syncing.Store(sync) }

func (s *System) Chain(_ *Empty, reply *string) error {
	*reply = s.chain
	return nil
}

func (s *System) Name(_ *Empty, reply *string) error {
	*reply = s.name
	return nil
}

func (s *System) Version(_ *Empty, reply *string) error {
	*reply = s.version
	return nil
}

func (s *System) Health(_ *Empty, reply *Health) error {
	*reply = Health{
		Peers:           int(s.peers.Load()),
		IsSyncing:       s.syncing.Load(),
		ShouldHavePeers: true,
	}
	return nil
}
