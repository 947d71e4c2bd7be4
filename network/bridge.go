package network

import (
	"context"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/service"

	"vidbft/eventbus"
	"vidbft/types"
)

const (
	validatorRecordPrefix = "validator/"

	directResponseTimeout = 5 * time.Second
)

// ValidatorRecordKey is the record under which a validator publishes its
// peer id.
func ValidatorRecordKey(addr types.Address) string {
	return validatorRecordPrefix + addr.String()
}

// LeaderSchedule tells who leads a view.
type LeaderSchedule interface {
	GetLeader(view types.View) types.Address
}

type disperseMessage struct {
	Proposal *types.DisperseProposal `json:"proposal"`
	Sender   types.Address           `json:"sender"`
}

type certificateMessage struct {
	Certificate *types.Certificate `json:"certificate"`
	Sender      types.Address      `json:"sender"`
}

// Bridge moves consensus events between the event bus and a Network.
//
//	VidDisperseSend -> broadcast, and VidDisperseRecv locally
//	VidVoteSend     -> direct message to the view leader (local if we lead)
//	VidCertSend     -> broadcast
//
// Everything received from the network comes back as the matching Recv
// event.
type Bridge struct {
	service.BaseService

	net     Network
	bus     *eventbus.EventBus
	address types.Address
	leaders LeaderSchedule

	sub    *eventbus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge returns a bridge for the validator address. A nil address makes
// a non-voting node that never announces itself.
func NewBridge(net Network, bus *eventbus.EventBus, address types.Address, leaders LeaderSchedule) *Bridge {
	b := &Bridge{
		net:     net,
		bus:     bus,
		address: address,
		leaders: leaders,
	}
	b.BaseService = *service.NewBaseService(nil, "NetworkBridge", b)
	return b
}

func (b *Bridge) OnStart() error {
	if len(b.address) > 0 {
		if err := b.net.PutRecord(ValidatorRecordKey(b.address), []byte(b.net.ID())); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.sub = b.bus.Subscribe("network-bridge", eventbus.MatchKinds(
		types.EventVidDisperseSend,
		types.EventVidVoteSend,
		types.EventVidCertSend,
	))

	b.wg.Add(1)
	go b.sendRoutine(ctx)
	for _, topic := range []Topic{TopicTransactions, TopicVidDisperse, TopicVidVote, TopicVidCert} {
		b.wg.Add(1)
		go b.recvRoutine(ctx, topic, b.net.Subscribe(topic))
	}
	b.wg.Add(1)
	go b.requestRoutine(ctx)
	return nil
}

func (b *Bridge) OnStop() {
	b.cancel()
	b.bus.Unsubscribe(b.sub)
	b.wg.Wait()
}

// SubmitTxs gossips txs and hands them to the local node.
func (b *Bridge) SubmitTxs(txs types.Txs) error {
	b.bus.Publish(types.TransactionsRecvEvent{Txs: txs})
	return b.net.Broadcast(TopicTransactions, encodeMsg(txs))
}

func (b *Bridge) sendRoutine(ctx context.Context) {
	defer b.wg.Done()
	for {
		ev, err := b.sub.Next(ctx)
		if err != nil {
			return
		}

		switch ev := ev.(type) {
		case types.VidDisperseSendEvent:
			b.bus.Publish(types.VidDisperseRecvEvent{Proposal: ev.Proposal, Sender: ev.Sender})
			bz := encodeMsg(&disperseMessage{Proposal: ev.Proposal, Sender: ev.Sender})
			if err := b.net.Broadcast(TopicVidDisperse, bz); err != nil {
				b.Logger.Error("failed to broadcast disperse", "view", ev.Proposal.Data.View, "err", err)
			}
		case types.VidVoteSendEvent:
			b.sendVote(ctx, ev.Vote)
		case types.VidCertSendEvent:
			bz := encodeMsg(&certificateMessage{Certificate: ev.Certificate, Sender: ev.Sender})
			if err := b.net.Broadcast(TopicVidCert, bz); err != nil {
				b.Logger.Error("failed to broadcast certificate", "view", ev.Certificate.View, "err", err)
			}
		}
	}
}

// sendVote routes vote to the leader of its view. If the leader's peer is
// unknown the vote is broadcast instead.
func (b *Bridge) sendVote(ctx context.Context, vote *types.Vote) {
	leader := b.leaders.GetLeader(vote.View)
	if leader.Equal(b.address) {
		b.bus.Publish(types.VidVoteRecvEvent{Vote: vote})
		return
	}

	bz := encodeMsg(vote)
	peer, err := b.net.GetRecord(ValidatorRecordKey(leader))
	if err == nil {
		resp, err := b.net.DirectSend(PeerID(peer), bz)
		if err == nil {
			b.wg.Add(1)
			go b.awaitResponse(ctx, vote, resp)
			return
		}
		b.Logger.Debug("direct send failed, broadcasting vote", "view", vote.View, "leader", leader, "err", err)
	} else {
		b.Logger.Debug("leader peer unknown, broadcasting vote", "view", vote.View, "leader", leader)
	}
	if err := b.net.Broadcast(TopicVidVote, bz); err != nil {
		b.Logger.Error("failed to broadcast vote", "view", vote.View, "err", err)
	}
}

func (b *Bridge) awaitResponse(ctx context.Context, vote *types.Vote, resp <-chan []byte) {
	defer b.wg.Done()
	timer := time.NewTimer(directResponseTimeout)
	defer timer.Stop()
	select {
	case <-resp:
	case <-timer.C:
		b.Logger.Debug("no response from leader", "view", vote.View)
	case <-ctx.Done():
	}
}

func (b *Bridge) recvRoutine(ctx context.Context, topic Topic, ch <-chan Message) {
	defer b.wg.Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := b.handleMessage(msg); err != nil {
				b.Logger.Error("dropping message", "topic", topic, "from", msg.From, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleMessage(msg Message) error {
	switch msg.Topic {
	case TopicTransactions:
		var txs types.Txs
		if err := decodeMsg(msg.Payload, &txs); err != nil {
			return err
		}
		b.bus.Publish(types.TransactionsRecvEvent{Txs: txs})
	case TopicVidDisperse:
		var dm disperseMessage
		if err := decodeMsg(msg.Payload, &dm); err != nil {
			return err
		}
		b.bus.Publish(types.VidDisperseRecvEvent{Proposal: dm.Proposal, Sender: dm.Sender})
	case TopicVidVote:
		vote := new(types.Vote)
		if err := decodeMsg(msg.Payload, vote); err != nil {
			return err
		}
		// 广播的vote只有leader需要
		if b.leaders.GetLeader(vote.View).Equal(b.address) {
			b.bus.Publish(types.VidVoteRecvEvent{Vote: vote})
		}
	case TopicVidCert:
		var cm certificateMessage
		if err := decodeMsg(msg.Payload, &cm); err != nil {
			return err
		}
		b.bus.Publish(types.VidCertRecvEvent{Certificate: cm.Certificate})
	}
	return nil
}

func (b *Bridge) requestRoutine(ctx context.Context) {
	defer b.wg.Done()
	requests := b.net.Requests()
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return
			}
			vote := new(types.Vote)
			if err := decodeMsg(req.Payload, vote); err != nil {
				b.Logger.Error("dropping request", "from", req.From, "err", err)
				continue
			}
			b.bus.Publish(types.VidVoteRecvEvent{Vote: vote})
			if err := b.net.Respond(req, []byte("ok")); err != nil {
				b.Logger.Debug("failed to respond", "from", req.From, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
