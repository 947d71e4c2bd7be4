package network

import (
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/go-kit/kit/log/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	cfg "vidbft/config"
	"vidbft/store"
)

// networkLogger is a TestingLogger which uses a different
// color for each node ("node" key must exist).
func networkLogger() log.Logger {
	return log.TestingLoggerWithColorFn(func(keyvals ...interface{}) term.FgBgColor {
		for i := 0; i < len(keyvals)-1; i += 2 {
			if keyvals[i] == "node" {
				return term.FgBgColor{Fg: term.Color(uint8(keyvals[i+1].(int) + 1))}
			}
		}
		return term.FgBgColor{}
	})
}

// connect N network reactors through N switches
func makeAndConnectReactors(config *cfg.Config, n int) []*Reactor {
	reactors := make([]*Reactor, n)
	logger := networkLogger()
	for i := 0; i < n; i++ {
		reactors[i] = NewReactor(store.NewMemRecordStore())
		reactors[i].SetLogger(logger.With("node", i))
	}

	p2p.MakeConnectedSwitches(config.P2P, n, func(i int, s *p2p.Switch) *p2p.Switch {
		s.AddReactor("NETWORK", reactors[i])
		return s
	}, p2p.Connect2Switches)
	return reactors
}

func stopReactors(t *testing.T, reactors []*Reactor) {
	for _, r := range reactors {
		if err := r.Switch.Stop(); err != nil {
			assert.NoError(t, err)
		}
	}
}

func TestReactorBroadcast(t *testing.T) {
	config := cfg.TestConfig()
	const N = 3
	reactors := makeAndConnectReactors(config, N)
	defer stopReactors(t, reactors)

	for _, r := range reactors {
		assert.Equal(t, N-1, r.ConnectedPeerCount())
	}

	require.NoError(t, reactors[0].Broadcast(TopicVidDisperse, []byte("shares")))
	for _, r := range reactors[1:] {
		msg := recvMessage(t, r.Subscribe(TopicVidDisperse))
		assert.Equal(t, reactors[0].ID(), msg.From)
		assert.Equal(t, []byte("shares"), msg.Payload)
	}
}

// 测试request/response在两个节点之间往返
func TestReactorDirectSend(t *testing.T) {
	config := cfg.TestConfig()
	reactors := makeAndConnectReactors(config, 2)
	defer stopReactors(t, reactors)

	resp, err := reactors[0].DirectSend(reactors[1].ID(), []byte("vote"))
	require.NoError(t, err)

	var req Request
	select {
	case req = <-reactors[1].Requests():
	case <-time.After(5 * time.Second):
		t.Fatal("request not delivered")
	}
	assert.Equal(t, reactors[0].ID(), req.From)
	assert.Equal(t, []byte("vote"), req.Payload)
	require.NoError(t, reactors[1].Respond(req, []byte("ok")))

	select {
	case bz := <-resp:
		assert.Equal(t, []byte("ok"), bz)
	case <-time.After(5 * time.Second):
		t.Fatal("response not delivered")
	}

	_, err = reactors[0].DirectSend("deadbeef", []byte("vote"))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestReactorRecords(t *testing.T) {
	config := cfg.TestConfig()
	reactors := makeAndConnectReactors(config, 2)
	defer stopReactors(t, reactors)

	require.NoError(t, reactors[0].PutRecord("validator/01", []byte(reactors[0].ID())))
	v, err := reactors[0].GetRecord("validator/01")
	require.NoError(t, err)
	assert.Equal(t, []byte(reactors[0].ID()), v)

	assert.Eventually(t, func() bool {
		v, err := reactors[1].GetRecord("validator/01")
		return err == nil && string(v) == string(reactors[0].ID())
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReactorStopClosesInboxes(t *testing.T) {
	config := cfg.TestConfig()
	reactors := makeAndConnectReactors(config, 2)
	sub := reactors[1].Subscribe(TopicVidCert)
	stopReactors(t, reactors)

	_, ok := <-sub
	assert.False(t, ok)
	assert.ErrorIs(t, reactors[0].Broadcast(TopicVidCert, nil), ErrNetworkClosed)

	leaktest.CheckTimeout(t, 10*time.Second)()
}

func TestReactorStopsPeerOnBadMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	config := cfg.TestConfig()
	reactors := makeAndConnectReactors(config, 2)
	defer stopReactors(t, reactors)

	peer := reactors[0].Switch.Peers().List()[0]
	require.True(t, peer.Send(GossipChannel, []byte("not json")))
	assert.Eventually(t, func() bool {
		return reactors[1].ConnectedPeerCount() == 0
	}, 5*time.Second, 20*time.Millisecond)

	_, err := reactors[1].DirectSend(reactors[0].ID(), nil)
	assert.True(t, errors.Is(err, ErrUnknownPeer))
}
