package types

import (
	"bytes"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

type Address crypto.Address

func GetAddress(key crypto.PubKey) Address {
	return Address(key.Address())
}

func (addr Address) Equal(other Address) bool {
	if addr == nil || other == nil {
		return false
	}
	return bytes.Equal(crypto.Address(addr), crypto.Address(other))
}

func (addr Address) String() string {
	return tmbytes.HexBytes(addr).String()
}

func (addr Address) MarshalJSON() ([]byte, error) {
	return tmbytes.HexBytes(addr).MarshalJSON()
}

func (addr *Address) UnmarshalJSON(data []byte) error {
	var hb tmbytes.HexBytes
	if err := hb.UnmarshalJSON(data); err != nil {
		return err
	}
	*addr = Address(hb)
	return nil
}
