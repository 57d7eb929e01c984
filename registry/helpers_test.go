package registry

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

func receiptWithLog(addr common.Address, topic common.Hash, data []byte) *gethtypes.Receipt {
	return &gethtypes.Receipt{
		Status: gethtypes.ReceiptStatusSuccessful,
		Logs:   []*gethtypes.Log{{Address: addr, Topics: []common.Hash{topic}, Data: data}},
	}
}
