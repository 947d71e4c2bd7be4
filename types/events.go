package types

import "fmt"

// EventKind enumerates everything that travels over the event bus.
type EventKind uint8

const (
	EventShutdown = EventKind(iota + 1)
	EventViewChange
	EventTransactionsRecv
	EventLeafDecided
	EventBlockReady
	EventVidDisperseSend
	EventVidDisperseRecv
	EventVidVoteSend
	EventVidVoteRecv
	EventVidCertSend
	EventVidCertRecv
)

func (k EventKind) String() string {
	switch k {
	case EventShutdown:
		return "Shutdown"
	case EventViewChange:
		return "ViewChange"
	case EventTransactionsRecv:
		return "TransactionsRecv"
	case EventLeafDecided:
		return "LeafDecided"
	case EventBlockReady:
		return "BlockReady"
	case EventVidDisperseSend:
		return "VidDisperseSend"
	case EventVidDisperseRecv:
		return "VidDisperseRecv"
	case EventVidVoteSend:
		return "VidVoteSend"
	case EventVidVoteRecv:
		return "VidVoteRecv"
	case EventVidCertSend:
		return "VidCertSend"
	case EventVidCertRecv:
		return "VidCertRecv"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is anything published on the event bus.
type Event interface {
	Kind() EventKind
}

type ShutdownEvent struct{}

type ViewChangeEvent struct {
	View View
}

type TransactionsRecvEvent struct {
	Txs Txs
}

// LeafDecidedEvent lists newly decided leaves, newest first.
type LeafDecidedEvent struct {
	Leaves []*Leaf
}

// BlockReadyEvent is published by the leader of View once its payload is
// built on top of the leaf Parent.
type BlockReadyEvent struct {
	View    View
	Payload BlockPayload
	Parent  Commitment
}

type VidDisperseSendEvent struct {
	Proposal *DisperseProposal
	Sender   Address
}

type VidDisperseRecvEvent struct {
	Proposal *DisperseProposal
	Sender   Address
}

type VidVoteSendEvent struct {
	Vote *Vote
}

type VidVoteRecvEvent struct {
	Vote *Vote
}

// VidCertSendEvent is published by the leader that formed the certificate.
type VidCertSendEvent struct {
	Certificate *Certificate
	Sender      Address
}

type VidCertRecvEvent struct {
	Certificate *Certificate
}

func (ShutdownEvent) Kind() EventKind         { return EventShutdown }
func (ViewChangeEvent) Kind() EventKind       { return EventViewChange }
func (TransactionsRecvEvent) Kind() EventKind { return EventTransactionsRecv }
func (LeafDecidedEvent) Kind() EventKind      { return EventLeafDecided }
func (BlockReadyEvent) Kind() EventKind       { return EventBlockReady }
func (VidDisperseSendEvent) Kind() EventKind  { return EventVidDisperseSend }
func (VidDisperseRecvEvent) Kind() EventKind  { return EventVidDisperseRecv }
func (VidVoteSendEvent) Kind() EventKind      { return EventVidVoteSend }
func (VidVoteRecvEvent) Kind() EventKind      { return EventVidVoteRecv }
func (VidCertSendEvent) Kind() EventKind      { return EventVidCertSend }
func (VidCertRecvEvent) Kind() EventKind      { return EventVidCertRecv }
