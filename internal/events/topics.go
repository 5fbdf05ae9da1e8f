package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func sig(s string) common.Hash {
	return crypto.Keccak256Hash([]byte(s))
}

// Token-standard event signatures. ERC721 and ERC20 share the Transfer
// signature; they are told apart by the number of indexed topics.
var (
	topicTransfer            = sig("Transfer(address,address,uint256)")
	topicTransferSingle      = sig("TransferSingle(address,address,address,uint256,uint256)")
	topicTransferBatch       = sig("TransferBatch(address,address,address,uint256[],uint256[])")
	topicConsecutiveTransfer = sig("ConsecutiveTransfer(uint256,uint256,address,address)")
	topicApprovalForAll      = sig("ApprovalForAll(address,address,bool)")
)

// Exchange lifecycle event signatures.
var (
	topicSeaportFulfilled = sig("OrderFulfilled(bytes32,address,address,address,(uint8,address,uint256,uint256)[],(uint8,address,uint256,uint256,address)[])")
	topicSeaportCancelled = sig("OrderCancelled(bytes32,address,address)")

	topicLooksRareTakerAsk       = sig("TakerAsk(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)")
	topicLooksRareTakerBid       = sig("TakerBid(bytes32,uint256,address,address,address,address,address,uint256,uint256,uint256)")
	topicLooksRareCancelMultiple = sig("CancelMultipleOrders(address,uint256[])")

	topicPunkBought          = sig("PunkBought(uint256,uint256,address,address)")
	topicPunkNoLongerForSale = sig("PunkNoLongerForSale(uint256)")

	topicFoundationAccepted    = sig("BuyPriceAccepted(address,uint256,address,address,uint256,uint256,uint256)")
	topicFoundationCanceled    = sig("BuyPriceCanceled(address,uint256)")
	topicFoundationInvalidated = sig("BuyPriceInvalidated(address,uint256)")

	topicWyvernOrdersMatched  = sig("OrdersMatched(bytes32,bytes32,address,address,uint256,bytes32)")
	topicWyvernOrderCancelled = sig("OrderCancelled(bytes32)")
)

// word extracts the i-th 32-byte word of ABI-encoded event data, or ok=false
// when the data is too short.
func word(data []byte, i int) ([]byte, bool) {
	start := i * 32
	if len(data) < start+32 {
		return nil, false
	}
	return data[start : start+32], true
}

func bigWord(data []byte, i int) (*big.Int, bool) {
	w, ok := word(data, i)
	if !ok {
		return nil, false
	}
	return new(big.Int).SetBytes(w), true
}

func addrWord(data []byte, i int) (common.Address, bool) {
	w, ok := word(data, i)
	if !ok {
		return common.Address{}, false
	}
	return common.BytesToAddress(w[12:]), true
}

func hashWord(data []byte, i int) (common.Hash, bool) {
	w, ok := word(data, i)
	if !ok {
		return common.Hash{}, false
	}
	return common.BytesToHash(w), true
}

// bigArray decodes a dynamic uint256[] whose offset sits in word i of data.
func bigArray(data []byte, i int) ([]*big.Int, bool) {
	off, ok := bigWord(data, i)
	if !ok || !off.IsUint64() {
		return nil, false
	}
	base := int(off.Uint64())
	if len(data) < base+32 {
		return nil, false
	}
	length := new(big.Int).SetBytes(data[base : base+32])
	if !length.IsUint64() {
		return nil, false
	}
	n := int(length.Uint64())
	if n < 0 || len(data) < base+32+n*32 {
		return nil, false
	}
	out := make([]*big.Int, n)
	for j := 0; j < n; j++ {
		start := base + 32 + j*32
		out[j] = new(big.Int).SetBytes(data[start : start+32])
	}
	return out, true
}

func topicAddr(t common.Hash) common.Address {
	return common.BytesToAddress(t[12:])
}

func topicBig(t common.Hash) *big.Int {
	return new(big.Int).SetBytes(t[:])
}
