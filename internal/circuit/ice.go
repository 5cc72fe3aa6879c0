package circuit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/ice/v3"
	"github.com/pion/stun/v2"
)

// ICEParams is the credential/candidate bundle exchanged out of band
// (through whatever signaling the enclosing process uses) before a circuit
// connection can run peer to peer.
type ICEParams struct {
	Ufrag      string `json:"ufrag"`
	Pwd        string `json:"pwd"`
	Candidates string `json:"candidates"` // one candidate per line
}

// ICEOptions configures local candidate gathering.
type ICEOptions struct {
	// StunURL adds a STUN server for server-reflexive candidates.
	StunURL string
	// Loopback includes loopback candidates for same-host setups.
	Loopback bool
}

// ICE is one endpoint of a peer-to-peer path. NewICE gathers local
// candidates and keeps the agent alive so the advertised ports stay bound.
// After the two sides exchange Params, one calls Dial and the other Accept;
// the resulting net.Conn is what a circuit Conn runs over.
type ICE struct {
	agent  *ice.Agent
	params ICEParams
}

// NewICE creates an agent and gathers local candidates.
func NewICE(opts ICEOptions) (*ICE, error) {
	config := &ice.AgentConfig{IncludeLoopback: opts.Loopback}
	if opts.StunURL != "" {
		uri, err := stun.ParseURI(opts.StunURL)
		if err != nil {
			return nil, fmt.Errorf("ice: stun url: %w", err)
		}
		config.Urls = []*stun.URI{uri}
	}
	agent, err := ice.NewAgent(config)
	if err != nil {
		return nil, err
	}
	gathered := make(chan struct{})
	err = agent.OnCandidate(func(c ice.Candidate) {
		// nil marks the end of gathering
		if c == nil {
			close(gathered)
		}
	})
	if err != nil {
		_ = agent.Close()
		return nil, err
	}
	if err := agent.GatherCandidates(); err != nil {
		_ = agent.Close()
		return nil, err
	}
	select {
	case <-gathered:
	case <-time.After(3 * time.Second):
	}
	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		_ = agent.Close()
		return nil, err
	}
	list, err := agent.GetLocalCandidates()
	if err != nil {
		_ = agent.Close()
		return nil, err
	}
	var lines []string
	for _, cand := range list {
		lines = append(lines, cand.Marshal())
	}
	return &ICE{
		agent:  agent,
		params: ICEParams{Ufrag: ufrag, Pwd: pwd, Candidates: strings.Join(lines, "\n")},
	}, nil
}

// Params returns the local bundle to hand to the peer.
func (i *ICE) Params() ICEParams { return i.params }

// Dial runs connectivity checks as the controlling side.
func (i *ICE) Dial(ctx context.Context, remote ICEParams) (net.Conn, error) {
	if err := i.setRemote(remote); err != nil {
		return nil, err
	}
	conn, err := i.agent.Dial(ctx, remote.Ufrag, remote.Pwd)
	if err != nil {
		return nil, err
	}
	return &iceConn{Conn: conn, agent: i.agent}, nil
}

// Accept runs connectivity checks as the controlled side.
func (i *ICE) Accept(ctx context.Context, remote ICEParams) (net.Conn, error) {
	if err := i.setRemote(remote); err != nil {
		return nil, err
	}
	conn, err := i.agent.Accept(ctx, remote.Ufrag, remote.Pwd)
	if err != nil {
		return nil, err
	}
	return &iceConn{Conn: conn, agent: i.agent}, nil
}

// Close releases the agent. Only needed when no conn was established; an
// established conn closes the agent itself.
func (i *ICE) Close() error { return i.agent.Close() }

func (i *ICE) setRemote(remote ICEParams) error {
	if remote.Ufrag == "" || remote.Pwd == "" {
		return errors.New("ice: missing remote credentials")
	}
	if err := i.agent.SetRemoteCredentials(remote.Ufrag, remote.Pwd); err != nil {
		return err
	}
	added := 0
	for _, line := range strings.Split(strings.TrimSpace(remote.Candidates), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cand, err := ice.UnmarshalCandidate(line)
		if err != nil {
			continue
		}
		if err := i.agent.AddRemoteCandidate(cand); err == nil {
			added++
		}
	}
	if added == 0 {
		return errors.New("ice: no usable remote candidates")
	}
	return nil
}

// iceConn ties the agent's lifetime to the conn's.
type iceConn struct {
	*ice.Conn
	agent *ice.Agent
}

func (c *iceConn) Close() error {
	err := c.Conn.Close()
	_ = c.agent.Close()
	return err
}
