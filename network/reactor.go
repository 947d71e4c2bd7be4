package network

import (
	"fmt"
	"sync"

	"github.com/tendermint/tendermint/p2p"

	"vidbft/store"
	"vidbft/types"
)

const (
	GossipChannel = byte(0x40)
	DirectChannel = byte(0x41)
	RecordChannel = byte(0x42)

	// VID分片和证书都可能较大
	maxMsgSize = 16 * 1024 * 1024

	reactorChanCapacity = 1024
)

// Reactor is a Network on top of the tendermint p2p switch.
type Reactor struct {
	p2p.BaseReactor

	mtx      sync.Mutex
	closed   bool
	topics   map[Topic]chan Message
	requests chan Request
	pending  map[uint64]chan []byte
	nextReq  uint64

	records *store.RecordStore
	// 本节点发布的record，新peer连接时重新发送
	ownRecords map[string][]byte

	polls *PollSet
}

var _ Network = (*Reactor)(nil)

func NewReactor(records *store.RecordStore) *Reactor {
	r := &Reactor{
		topics:     make(map[Topic]chan Message),
		requests:   make(chan Request, reactorChanCapacity),
		pending:    make(map[uint64]chan []byte),
		records:    records,
		ownRecords: make(map[string][]byte),
		polls:      NewPollSet(),
	}
	r.BaseReactor = *p2p.NewBaseReactor("Network", r)
	return r
}

// OnStart implements p2p.BaseReactor.
func (r *Reactor) OnStart() error {
	r.Logger.Info("Network Reactor started.")
	return nil
}

// OnStop closes every inbox.
func (r *Reactor) OnStop() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.topics {
		close(ch)
	}
	close(r.requests)
	for id, resp := range r.pending {
		close(resp)
		delete(r.pending, id)
	}
}

// GetChannels implements Reactor.
func (r *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  GossipChannel,
			Priority:            5,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  DirectChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  RecordChannel,
			Priority:            1,
			RecvMessageCapacity: 64 * 1024,
		},
	}
}

// AddPeer implements Reactor.
// 将本节点发布过的record发给新peer
func (r *Reactor) AddPeer(peer p2p.Peer) {
	r.mtx.Lock()
	msgs := make([][]byte, 0, len(r.ownRecords))
	for key, value := range r.ownRecords {
		msgs = append(msgs, encodeMsg(&RecordMessage{Key: key, Value: value}))
	}
	r.mtx.Unlock()

	for _, msg := range msgs {
		if !peer.Send(RecordChannel, msg) {
			r.Logger.Error("failed to send record", "peer", peer.ID())
		}
	}
}

// RemovePeer implements Reactor.
func (r *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	r.Logger.Debug("peer removed", "peer", peer.ID(), "reason", reason)
}

// Receive implements Reactor.
func (r *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	var err error
	switch chID {
	case GossipChannel:
		err = r.receiveGossip(src, msgBytes)
	case DirectChannel:
		err = r.receiveDirect(src, msgBytes)
	case RecordChannel:
		err = r.receiveRecord(msgBytes)
	default:
		err = fmt.Errorf("unknown channel %X", chID)
	}
	if err != nil {
		r.Logger.Error("Error handling message", "src", src, "chId", chID, "err", err)
		r.Switch.StopPeerForError(src, err)
	}
}

func (r *Reactor) receiveGossip(src p2p.Peer, bz []byte) error {
	var msg GossipMessage
	if err := decodeMsg(bz, &msg); err != nil {
		return err
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.closed {
		return nil
	}
	select {
	case r.topicChan(msg.Topic) <- Message{Topic: msg.Topic, From: PeerID(src.ID()), Payload: msg.Payload}:
	default:
		r.Logger.Error("inbox full, dropping message", "topic", msg.Topic, "src", src)
	}
	return nil
}

func (r *Reactor) receiveDirect(src p2p.Peer, bz []byte) error {
	var msg DirectMessage
	if err := decodeMsg(bz, &msg); err != nil {
		return err
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.closed {
		return nil
	}

	if msg.Response {
		resp, ok := r.pending[msg.ID]
		if !ok {
			r.Logger.Debug("response to unknown request", "id", msg.ID, "src", src)
			return nil
		}
		delete(r.pending, msg.ID)
		resp <- msg.Payload
		return nil
	}

	select {
	case r.requests <- Request{ID: msg.ID, From: PeerID(src.ID()), Payload: msg.Payload}:
	default:
		r.Logger.Error("request inbox full, dropping request", "src", src)
	}
	return nil
}

func (r *Reactor) receiveRecord(bz []byte) error {
	var msg RecordMessage
	if err := decodeMsg(bz, &msg); err != nil {
		return err
	}
	return r.records.Put(msg.Key, msg.Value)
}

// topicChan must be called with mtx held.
func (r *Reactor) topicChan(topic Topic) chan Message {
	ch, ok := r.topics[topic]
	if !ok {
		ch = make(chan Message, reactorChanCapacity)
		r.topics[topic] = ch
	}
	return ch
}

//-----------------------------------------------------------------------------
// Network

func (r *Reactor) ID() PeerID {
	if r.Switch == nil {
		return ""
	}
	return PeerID(r.Switch.NodeInfo().ID())
}

func (r *Reactor) Broadcast(topic Topic, msg []byte) error {
	if !r.IsRunning() {
		return ErrNetworkClosed
	}
	r.Switch.Broadcast(GossipChannel, encodeMsg(&GossipMessage{Topic: topic, Payload: msg}))
	return nil
}

func (r *Reactor) Subscribe(topic Topic) <-chan Message {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.closed {
		ch := make(chan Message)
		close(ch)
		return ch
	}
	return r.topicChan(topic)
}

func (r *Reactor) DirectSend(peerID PeerID, msg []byte) (<-chan []byte, error) {
	if !r.IsRunning() {
		return nil, ErrNetworkClosed
	}
	peer := r.Switch.Peers().Get(p2p.ID(peerID))
	if peer == nil {
		return nil, ErrUnknownPeer
	}

	resp := make(chan []byte, 1)
	r.mtx.Lock()
	r.nextReq++
	id := r.nextReq
	r.pending[id] = resp
	r.mtx.Unlock()

	if !peer.Send(DirectChannel, encodeMsg(&DirectMessage{ID: id, Payload: msg})) {
		r.mtx.Lock()
		delete(r.pending, id)
		r.mtx.Unlock()
		return nil, ErrSendFailed
	}
	return resp, nil
}

func (r *Reactor) Requests() <-chan Request {
	return r.requests
}

func (r *Reactor) Respond(req Request, msg []byte) error {
	if !r.IsRunning() {
		return ErrNetworkClosed
	}
	peer := r.Switch.Peers().Get(p2p.ID(req.From))
	if peer == nil {
		return ErrUnknownPeer
	}
	if !peer.Send(DirectChannel, encodeMsg(&DirectMessage{ID: req.ID, Response: true, Payload: msg})) {
		return ErrSendFailed
	}
	return nil
}

// PutRecord stores the record locally and announces it to every peer.
func (r *Reactor) PutRecord(key string, value []byte) error {
	if err := r.records.Put(key, value); err != nil {
		return err
	}
	r.mtx.Lock()
	r.ownRecords[key] = value
	r.mtx.Unlock()

	if r.Switch != nil && r.IsRunning() {
		r.Switch.Broadcast(RecordChannel, encodeMsg(&RecordMessage{Key: key, Value: value}))
	}
	return nil
}

func (r *Reactor) GetRecord(key string) ([]byte, error) {
	value, err := r.records.Get(key)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrRecordNotFound
	}
	return value, nil
}

// InjectConsensusInfo implements Network. Peers push everything they have,
// so intents are only recorded.
func (r *Reactor) InjectConsensusInfo(intent ConsensusIntentEvent) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.polls.Apply(intent)
	if intent.Kind == PollForVIDDisperse && intent.View > 1 {
		r.polls.Prune(intent.View - 1)
	}
}

func (r *Reactor) IsPolling(topic Topic, view types.View) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.polls.IsPolling(topic, view)
}

func (r *Reactor) ConnectedPeerCount() int {
	if r.Switch == nil {
		return 0
	}
	return r.Switch.Peers().Size()
}

func (r *Reactor) ConnectedPeers() []PeerID {
	if r.Switch == nil {
		return nil
	}
	list := r.Switch.Peers().List()
	peers := make([]PeerID, len(list))
	for i, p := range list {
		peers[i] = PeerID(p.ID())
	}
	return peers
}
