package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PubkeySize is the length of a Solana public key.
const PubkeySize = 32

// QueueDecoder extracts a node's queue position from raw market account data.
// ok is false when the node is not queued or the market does not hold nodes.
type QueueDecoder interface {
	QueuePosition(data []byte, node [PubkeySize]byte) (position int, ok bool, err error)
}

// Market account layout (Anchor): 8-byte discriminator, then
//
//	authority        pubkey
//	jobExpiration    i64
//	jobPrice         u64
//	jobTimeout       i64
//	jobType          u8
//	nodeAccessKey    pubkey
//	nodeXnosMinimum  u128
//	queueType        u8
//	vault            pubkey
//	vaultBump        u8
//	queue            vec<pubkey>
const (
	discriminatorSize = 8
	queueTypeOffset   = discriminatorSize + PubkeySize + 8 + 8 + 8 + 1 + PubkeySize + 16
	queueOffset       = queueTypeOffset + 1 + PubkeySize + 1

	queueTypeJobs  = 0
	queueTypeNodes = 1

	// upper bound on the vec length header; real markets hold far fewer
	maxQueueLen = 100_000
)

var errShortAccount = errors.New("market account data too short")

// MarketQueueDecoder reads the queue vector of a Nosana market account.
type MarketQueueDecoder struct{}

// QueuePosition returns the 1-based index of node in the market's node queue.
func (MarketQueueDecoder) QueuePosition(data []byte, node [PubkeySize]byte) (int, bool, error) {
	if len(data) < queueOffset+4 {
		return 0, false, errShortAccount
	}

	switch data[queueTypeOffset] {
	case queueTypeNodes:
	case queueTypeJobs:
		// jobs are waiting for nodes; no node holds a position
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("unknown queue type %d", data[queueTypeOffset])
	}

	n := binary.LittleEndian.Uint32(data[queueOffset : queueOffset+4])
	if n > maxQueueLen {
		return 0, false, fmt.Errorf("queue length %d out of range", n)
	}
	entries := data[queueOffset+4:]
	if uint64(len(entries)) < uint64(n)*PubkeySize {
		return 0, false, errShortAccount
	}

	for i := 0; i < int(n); i++ {
		var key [PubkeySize]byte
		copy(key[:], entries[i*PubkeySize:(i+1)*PubkeySize])
		if key == node {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}
