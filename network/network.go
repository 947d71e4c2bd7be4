// Package network defines the capability set consensus needs from the
// transport, and two implementations: an in-process hub (MemNetwork) and a
// tendermint p2p reactor (Reactor).
package network

import (
	"errors"
	"fmt"

	"vidbft/types"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrNetworkClosed  = errors.New("network closed")
	ErrSendFailed     = errors.New("failed to send message")
)

// PeerID identifies a node on the network.
type PeerID string

// Topic names a gossip stream.
type Topic string

const (
	TopicTransactions Topic = "transactions"
	TopicVidDisperse  Topic = "vid_disperse"
	TopicVidVote      Topic = "vid_vote"
	TopicVidCert      Topic = "vid_cert"
)

// Message is a gossip message received on a topic.
type Message struct {
	Topic   Topic
	From    PeerID
	Payload []byte
}

// Request is a direct message awaiting a response.
type Request struct {
	ID      uint64
	From    PeerID
	Payload []byte
}

// Network is everything consensus needs from the transport layer.
type Network interface {
	// ID returns the local peer id.
	ID() PeerID

	// Broadcast gossips msg on topic to every connected peer.
	Broadcast(topic Topic, msg []byte) error
	// Subscribe returns the stream of messages gossiped on topic. Calling it
	// twice for the same topic returns the same channel.
	Subscribe(topic Topic) <-chan Message

	// DirectSend delivers msg to peer and returns a channel yielding the
	// peer's response.
	DirectSend(peer PeerID, msg []byte) (<-chan []byte, error)
	// Requests returns the stream of direct messages sent to this node.
	Requests() <-chan Request
	// Respond answers a direct request.
	Respond(req Request, msg []byte) error

	// PutRecord stores value under key on the network.
	PutRecord(key string, value []byte) error
	// GetRecord fetches the value stored under key, or ErrRecordNotFound.
	GetRecord(key string) ([]byte, error)

	// InjectConsensusInfo passes a flow-control hint to the transport.
	InjectConsensusInfo(intent ConsensusIntentEvent)

	ConnectedPeerCount() int
	ConnectedPeers() []PeerID
}

//-----------------------------------------------------------------------------
// consensus intents

// ConsensusIntentKind says what consensus expects to receive next.
type ConsensusIntentKind uint8

const (
	PollForVIDDisperse = ConsensusIntentKind(iota + 1)
	PollForVIDCertificate
	PollForVIDVotes
	CancelPollForVIDDisperse
	CancelPollForVIDCertificate
	CancelPollForVIDVotes
)

func (k ConsensusIntentKind) String() string {
	switch k {
	case PollForVIDDisperse:
		return "PollForVIDDisperse"
	case PollForVIDCertificate:
		return "PollForVIDCertificate"
	case PollForVIDVotes:
		return "PollForVIDVotes"
	case CancelPollForVIDDisperse:
		return "CancelPollForVIDDisperse"
	case CancelPollForVIDCertificate:
		return "CancelPollForVIDCertificate"
	case CancelPollForVIDVotes:
		return "CancelPollForVIDVotes"
	default:
		return fmt.Sprintf("ConsensusIntentKind(%d)", uint8(k))
	}
}

// topic returns the topic an intent is about and whether it starts (true) or
// stops polling.
func (k ConsensusIntentKind) topic() (Topic, bool) {
	switch k {
	case PollForVIDDisperse:
		return TopicVidDisperse, true
	case PollForVIDCertificate:
		return TopicVidCert, true
	case PollForVIDVotes:
		return TopicVidVote, true
	case CancelPollForVIDDisperse:
		return TopicVidDisperse, false
	case CancelPollForVIDCertificate:
		return TopicVidCert, false
	case CancelPollForVIDVotes:
		return TopicVidVote, false
	default:
		return "", false
	}
}

// ConsensusIntentEvent is a hint such as "start polling for VID votes of
// view 7". Transports may ignore it; correctness never depends on it.
type ConsensusIntentEvent struct {
	Kind ConsensusIntentKind
	View types.View
}

func (e ConsensusIntentEvent) String() string {
	return fmt.Sprintf("%v(%v)", e.Kind, e.View)
}

// PollSet remembers the views each topic is being polled for.
type PollSet struct {
	views map[Topic]map[types.View]struct{}
}

func NewPollSet() *PollSet {
	return &PollSet{views: make(map[Topic]map[types.View]struct{})}
}

// Apply records intent. Not safe for concurrent use.
func (ps *PollSet) Apply(intent ConsensusIntentEvent) {
	topic, start := intent.Kind.topic()
	if topic == "" {
		return
	}
	views, ok := ps.views[topic]
	if !ok {
		views = make(map[types.View]struct{})
		ps.views[topic] = views
	}
	if start {
		views[intent.View] = struct{}{}
	} else {
		delete(views, intent.View)
	}
}

// IsPolling reports whether topic is polled for view.
func (ps *PollSet) IsPolling(topic Topic, view types.View) bool {
	_, ok := ps.views[topic][view]
	return ok
}

// Prune forgets every view below view.
func (ps *PollSet) Prune(view types.View) {
	for _, views := range ps.views {
		for v := range views {
			if v < view {
				delete(views, v)
			}
		}
	}
}
