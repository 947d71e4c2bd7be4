package network

import (
	"fmt"

	tmjson "github.com/tendermint/tendermint/libs/json"
)

// 三个p2p channel上的消息格式，统一使用tmjson编码

// GossipMessage is sent on the gossip channel.
type GossipMessage struct {
	Topic   Topic  `json:"topic"`
	Payload []byte `json:"payload"`
}

// DirectMessage is a request (Response == false) or the answer to request ID.
type DirectMessage struct {
	ID       uint64 `json:"id"`
	Response bool   `json:"response"`
	Payload  []byte `json:"payload"`
}

// RecordMessage announces a record to peers.
type RecordMessage struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func encodeMsg(msg interface{}) []byte {
	bz, err := tmjson.Marshal(msg)
	if err != nil {
		// 以上消息都是普通struct，不会失败
		panic(fmt.Sprintf("failed to encode %T: %v", msg, err))
	}
	return bz
}

func decodeMsg(bz []byte, msg interface{}) error {
	if err := tmjson.Unmarshal(bz, msg); err != nil {
		return fmt.Errorf("decode %T: %w", msg, err)
	}
	return nil
}
