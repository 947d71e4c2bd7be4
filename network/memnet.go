package network

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tendermint/tendermint/libs/log"

	"vidbft/store"
	"vidbft/types"
)

const memChanCapacity = 1024

// MemHub connects MemNetworks living in one process. Records are shared by
// every node of the hub.
type MemHub struct {
	mtx   sync.RWMutex
	nodes map[PeerID]*MemNetwork

	records *store.RecordStore
	nextReq uint64
}

func NewMemHub() *MemHub {
	return &MemHub{
		nodes:   make(map[PeerID]*MemNetwork),
		records: store.NewMemRecordStore(),
	}
}

// Join attaches a new node to the hub. Joining with an id already in use
// replaces the old node, which is closed.
func (hub *MemHub) Join(id PeerID) *MemNetwork {
	n := &MemNetwork{
		id:       id,
		hub:      hub,
		topics:   make(map[Topic]chan Message),
		requests: make(chan Request, memChanCapacity),
		pending:  make(map[uint64]chan []byte),
		polls:    NewPollSet(),
		logger:   log.NewNopLogger(),
	}
	hub.mtx.Lock()
	old := hub.nodes[id]
	hub.nodes[id] = n
	hub.mtx.Unlock()
	if old != nil {
		old.close()
	}
	return n
}

func (hub *MemHub) node(id PeerID) (*MemNetwork, bool) {
	hub.mtx.RLock()
	defer hub.mtx.RUnlock()
	n, ok := hub.nodes[id]
	return n, ok
}

// others returns every node but id, sorted by id.
func (hub *MemHub) others(id PeerID) []*MemNetwork {
	hub.mtx.RLock()
	defer hub.mtx.RUnlock()
	nodes := make([]*MemNetwork, 0, len(hub.nodes))
	for pid, n := range hub.nodes {
		if pid != id {
			nodes = append(nodes, n)
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })
	return nodes
}

func (hub *MemHub) leave(n *MemNetwork) {
	hub.mtx.Lock()
	defer hub.mtx.Unlock()
	if hub.nodes[n.id] == n {
		delete(hub.nodes, n.id)
	}
}

// MemNetwork is a Network whose peers are the other nodes of its hub.
// Delivery is reliable as long as the receiver keeps up; a full inbox drops
// the message.
type MemNetwork struct {
	id  PeerID
	hub *MemHub

	mtx      sync.Mutex
	closed   bool
	topics   map[Topic]chan Message
	requests chan Request
	pending  map[uint64]chan []byte
	polls    *PollSet

	logger log.Logger
}

var _ Network = (*MemNetwork)(nil)

func (n *MemNetwork) SetLogger(l log.Logger) {
	n.logger = l
}

func (n *MemNetwork) ID() PeerID { return n.id }

// Broadcast implements Network. The sender does not receive its own message.
func (n *MemNetwork) Broadcast(topic Topic, msg []byte) error {
	if n.isClosed() {
		return ErrNetworkClosed
	}
	for _, peer := range n.hub.others(n.id) {
		peer.deliver(Message{Topic: topic, From: n.id, Payload: msg})
	}
	return nil
}

func (n *MemNetwork) deliver(msg Message) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.closed {
		return
	}
	select {
	case n.topicChan(msg.Topic) <- msg:
	default:
		n.logger.Error("inbox full, dropping message", "topic", msg.Topic, "from", msg.From)
	}
}

// topicChan must be called with mtx held.
func (n *MemNetwork) topicChan(topic Topic) chan Message {
	ch, ok := n.topics[topic]
	if !ok {
		ch = make(chan Message, memChanCapacity)
		n.topics[topic] = ch
	}
	return ch
}

// Subscribe implements Network. The channel is closed by Close.
func (n *MemNetwork) Subscribe(topic Topic) <-chan Message {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.closed {
		ch := make(chan Message)
		close(ch)
		return ch
	}
	return n.topicChan(topic)
}

// DirectSend implements Network.
func (n *MemNetwork) DirectSend(peer PeerID, msg []byte) (<-chan []byte, error) {
	if n.isClosed() {
		return nil, ErrNetworkClosed
	}
	target, ok := n.hub.node(peer)
	if !ok {
		return nil, ErrUnknownPeer
	}

	id := atomic.AddUint64(&n.hub.nextReq, 1)
	resp := make(chan []byte, 1)
	n.mtx.Lock()
	n.pending[id] = resp
	n.mtx.Unlock()

	if !target.request(Request{ID: id, From: n.id, Payload: msg}) {
		n.mtx.Lock()
		delete(n.pending, id)
		n.mtx.Unlock()
		return nil, ErrSendFailed
	}
	return resp, nil
}

func (n *MemNetwork) request(req Request) bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.closed {
		return false
	}
	select {
	case n.requests <- req:
		return true
	default:
		return false
	}
}

func (n *MemNetwork) Requests() <-chan Request {
	return n.requests
}

// Respond implements Network.
func (n *MemNetwork) Respond(req Request, msg []byte) error {
	if n.isClosed() {
		return ErrNetworkClosed
	}
	sender, ok := n.hub.node(req.From)
	if !ok {
		return ErrUnknownPeer
	}
	sender.mtx.Lock()
	defer sender.mtx.Unlock()
	resp, ok := sender.pending[req.ID]
	if !ok {
		return ErrSendFailed
	}
	delete(sender.pending, req.ID)
	resp <- msg
	return nil
}

func (n *MemNetwork) PutRecord(key string, value []byte) error {
	if n.isClosed() {
		return ErrNetworkClosed
	}
	return n.hub.records.Put(key, value)
}

func (n *MemNetwork) GetRecord(key string) ([]byte, error) {
	value, err := n.hub.records.Get(key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrRecordNotFound
	}
	return value, nil
}

// InjectConsensusInfo implements Network. The hub pushes every message, so
// intents are only recorded.
func (n *MemNetwork) InjectConsensusInfo(intent ConsensusIntentEvent) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.polls.Apply(intent)
	if intent.Kind == PollForVIDDisperse && intent.View > 1 {
		n.polls.Prune(intent.View - 1)
	}
}

// IsPolling reports whether consensus asked to poll topic for view.
func (n *MemNetwork) IsPolling(topic Topic, view types.View) bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.polls.IsPolling(topic, view)
}

func (n *MemNetwork) ConnectedPeerCount() int {
	return len(n.hub.others(n.id))
}

func (n *MemNetwork) ConnectedPeers() []PeerID {
	others := n.hub.others(n.id)
	peers := make([]PeerID, len(others))
	for i, o := range others {
		peers[i] = o.id
	}
	return peers
}

// Close detaches the node from the hub and closes its inboxes.
func (n *MemNetwork) Close() {
	n.hub.leave(n)
	n.close()
}

func (n *MemNetwork) close() {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, ch := range n.topics {
		close(ch)
	}
	close(n.requests)
	for id, resp := range n.pending {
		close(resp)
		delete(n.pending, id)
	}
}

func (n *MemNetwork) isClosed() bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.closed
}
