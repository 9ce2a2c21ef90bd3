package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Block is the head-of-chain record the monitor tracks.
// Values are never mutated after construction; replace the whole value instead.
type Block struct {
	Number    uint64      `json:"number"`
	Hash      common.Hash `json:"hash"`
	Timestamp uint64      `json:"timestamp"` // unix seconds
}

// NewBlock builds a Block from its three fields.
func NewBlock(number uint64, hash common.Hash, timestamp uint64) Block {
	return Block{
		Number:    number,
		Hash:      hash,
		Timestamp: timestamp,
	}
}
