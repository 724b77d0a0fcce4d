// Package devchain is an embedded hash-chained fingerprint ledger backed by
// LevelDB. It stands in for the real chain in development and tests: same
// client contract, no network. Not a consensus implementation.
package devchain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/sha3"

	domain "github.com/bryanwahyu/certimed/internal/domain/certificates"
)

// Block is one ledger entry: a single anchored fingerprint linked to its
// predecessor by hash.
type Block struct {
	Index       int       `json:"index"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
	Fingerprint string    `json:"fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key layout:
//   block_<index>  -> Block JSON
//   tx_<hash>      -> Block JSON
//   fp_<fp>        -> tx id
//   height_latest  -> latest index
type Chain struct {
	mu sync.Mutex
	db *leveldb.DB
}

func Open(path string) (*Chain, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open devchain db: %w", err)
	}
	return &Chain{db: db}, nil
}

func (c *Chain) Close() error { return c.db.Close() }

// Anchor appends a block for the fingerprint. Re-anchoring a fingerprint
// already on the ledger returns the existing transaction, mirroring the
// store-once contract of the real chain.
func (c *Chain) Anchor(_ context.Context, fp domain.Fingerprint) (domain.TxID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tx, err := c.db.Get(fpKey(fp), nil); err == nil {
		return domain.TxID(tx), nil
	} else if err != leveldb.ErrNotFound {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}

	height, prevHash := c.head()
	blk := Block{
		Index:       height + 1,
		PrevHash:    prevHash,
		Fingerprint: string(fp),
		Timestamp:   time.Now().UTC(),
	}
	blk.Hash = blockHash(blk)

	data, err := json.Marshal(blk)
	if err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringRejected, err)
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte("block_"+strconv.Itoa(blk.Index)), data)
	batch.Put([]byte("tx_"+blk.Hash), data)
	batch.Put(fpKey(fp), []byte(blk.Hash))
	batch.Put([]byte("height_latest"), []byte(strconv.Itoa(blk.Index)))
	if err := c.db.Write(batch, nil); err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	return domain.TxID(blk.Hash), nil
}

// FingerprintAt returns the fingerprint in the block with the given tx id.
func (c *Chain) FingerprintAt(_ context.Context, tx domain.TxID) (domain.Fingerprint, error) {
	data, err := c.db.Get([]byte("tx_"+string(tx)), nil)
	if err == leveldb.ErrNotFound {
		return "", domain.ErrTxNotFound
	}
	if err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	var blk Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	return domain.Fingerprint(blk.Fingerprint), nil
}

// TxForFingerprint returns the tx that anchored the fingerprint, if any.
func (c *Chain) TxForFingerprint(_ context.Context, fp domain.Fingerprint) (domain.TxID, error) {
	tx, err := c.db.Get(fpKey(fp), nil)
	if err == leveldb.ErrNotFound {
		return "", domain.ErrFingerprintNotAnchored
	}
	if err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	return domain.TxID(tx), nil
}

func (c *Chain) head() (height int, hash string) {
	v, err := c.db.Get([]byte("height_latest"), nil)
	if err != nil {
		return 0, ""
	}
	h, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, ""
	}
	data, err := c.db.Get([]byte("block_"+strconv.Itoa(h)), nil)
	if err != nil {
		return h, ""
	}
	var blk Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return h, ""
	}
	return h, blk.Hash
}

func fpKey(fp domain.Fingerprint) []byte { return []byte("fp_" + string(fp)) }

func blockHash(b Block) string {
	header := fmt.Sprintf("%d|%s|%s|%d", b.Index, b.PrevHash, b.Fingerprint, b.Timestamp.UnixNano())
	sum := sha3.Sum256([]byte(header))
	return hex.EncodeToString(sum[:])
}
