package listener

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/OKaluzny/token-shop/internal/storage"
	"github.com/OKaluzny/token-shop/pkg/models"
)

// BlockListener defines the interface for monitoring addresses for incoming
// and outgoing token movements.
type BlockListener interface {
	// Start begins listening for movements touching watched addresses
	Start(ctx context.Context) error

	// Stop gracefully shuts down the listener
	Stop() error

	// WatchAddress adds an address to the watch list
	WatchAddress(address string) error

	// UnwatchAddress removes an address from the watch list
	UnwatchAddress(address string) error

	// Events returns a channel of detected block events
	Events() <-chan models.BlockEvent
}

// BlockData represents the data returned by a block fetcher.
type BlockData struct {
	Number uint64
	Hash   string
	Txs    []BlockTx
}

// BlockTx is one value movement within a block. Contract is empty for the
// native coin.
type BlockTx struct {
	Hash     string
	Contract string
	From     string
	To       string
	Amount   *big.Int
}

// BlockFetcher abstracts the chain RPC calls for block data.
type BlockFetcher interface {
	// LatestBlockNumber returns the current chain head.
	LatestBlockNumber(ctx context.Context) (uint64, error)
	// GetBlock returns block data (hash + movements) by block number.
	GetBlock(ctx context.Context, number uint64) (*BlockData, error)
}

// PollingConfig holds configuration for the polling listener.
type PollingConfig struct {
	ConfirmationDepth uint64 // blocks required before marking tx as confirmed
	// StartBlock is the first block to scan. Zero starts at the chain head
	// seen on the first poll.
	StartBlock uint64
}

// PollingListener implements BlockListener by polling the chain head. Each
// poll re-reads the last scanned block first, so a reorganization is noticed
// before new blocks are scanned on top of it.
type PollingListener struct {
	network      models.Network
	pollInterval time.Duration
	events       chan models.BlockEvent
	watchStore   storage.WatchStore
	fetcher      BlockFetcher
	cfg          PollingConfig
	started      bool
	lastBlock    uint64
	// blockHashes tracks recent block number -> hash for reorg detection.
	// Kept for the last confirmationDepth+1 blocks.
	blockHashes map[uint64]string
	// pendingEvents holds unconfirmed events by block number until they are
	// promoted or retracted.
	pendingEvents map[uint64][]models.BlockEvent
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewPollingListener(network models.Network, pollInterval time.Duration, ws storage.WatchStore, fetcher BlockFetcher, cfg PollingConfig) *PollingListener {
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = 12
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &PollingListener{
		network:       network,
		pollInterval:  pollInterval,
		events:        make(chan models.BlockEvent, 100),
		watchStore:    ws,
		fetcher:       fetcher,
		cfg:           cfg,
		blockHashes:   make(map[uint64]string),
		pendingEvents: make(map[uint64][]models.BlockEvent),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "listener", "network", string(network)),
	}
}

func (l *PollingListener) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)

	l.logger.Info("starting block listener",
		"poll_interval", l.pollInterval,
		"confirmation_depth", l.cfg.ConfirmationDepth,
		"start_block", l.cfg.StartBlock,
	)

	go l.pollLoop(ctx)
	return nil
}

func (l *PollingListener) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done // wait for pollLoop to exit
	close(l.events)
	l.logger.Info("listener stopped")
	return nil
}

func (l *PollingListener) WatchAddress(address string) error {
	if err := l.watchStore.Add(address); err != nil {
		return err
	}
	l.logger.Info("watching address", "address", address)
	return nil
}

func (l *PollingListener) UnwatchAddress(address string) error {
	if err := l.watchStore.Remove(address); err != nil {
		return err
	}
	l.logger.Info("unwatched address", "address", address)
	return nil
}

func (l *PollingListener) Events() <-chan models.BlockEvent {
	return l.events
}

func (l *PollingListener) pollLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.poll(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("poll failed", "error", err)
			}
		}
	}
}

func (l *PollingListener) poll(ctx context.Context) error {
	head, err := l.fetcher.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}

	if !l.started {
		switch {
		case l.cfg.StartBlock > 0:
			l.lastBlock = l.cfg.StartBlock - 1
		case head > 0:
			l.lastBlock = head - 1
		}
		l.started = true
	}

	if err := l.verifyTip(ctx); err != nil {
		return err
	}

	for num := l.lastBlock + 1; num <= head; num++ {
		if err := l.scan(ctx, num); err != nil {
			return fmt.Errorf("scan block %d: %w", num, err)
		}
	}

	return l.promote(ctx, head)
}

// verifyTip re-reads the last scanned block. When its hash changed the chain
// was reorganized: the listener walks back to the newest block whose hash
// still matches, retracts events above it and rescans from there.
func (l *PollingListener) verifyTip(ctx context.Context) error {
	seen, ok := l.blockHashes[l.lastBlock]
	if !ok {
		return nil
	}
	block, err := l.fetcher.GetBlock(ctx, l.lastBlock)
	if err != nil {
		return fmt.Errorf("verify block %d: %w", l.lastBlock, err)
	}
	if block.Hash == seen {
		return nil
	}

	fork := l.lastBlock
	for fork > 0 {
		prev, ok := l.blockHashes[fork-1]
		if !ok {
			break
		}
		b, err := l.fetcher.GetBlock(ctx, fork-1)
		if err != nil {
			return fmt.Errorf("verify block %d: %w", fork-1, err)
		}
		if b.Hash == prev {
			break
		}
		fork--
	}

	l.logger.Warn("chain reorganization detected",
		"first_replaced", fork,
		"tip", l.lastBlock,
		"old_hash", seen,
		"new_hash", block.Hash,
	)
	if err := l.retract(ctx, fork, l.lastBlock); err != nil {
		return err
	}
	l.lastBlock = fork - 1
	return nil
}

// scan records the block hash and emits an unconfirmed event for every
// movement touching a watched address.
func (l *PollingListener) scan(ctx context.Context, number uint64) error {
	block, err := l.fetcher.GetBlock(ctx, number)
	if err != nil {
		return fmt.Errorf("get block: %w", err)
	}

	l.blockHashes[number] = block.Hash
	l.lastBlock = number
	if number > l.cfg.ConfirmationDepth+1 {
		delete(l.blockHashes, number-l.cfg.ConfirmationDepth-1)
	}

	watched, err := l.watched()
	if err != nil {
		return err
	}
	for _, tx := range block.Txs {
		if !watched[strings.ToLower(tx.To)] && !watched[strings.ToLower(tx.From)] {
			continue
		}
		ev := models.BlockEvent{
			Network:     l.network,
			BlockNumber: number,
			TxHash:      tx.Hash,
			Contract:    tx.Contract,
			From:        tx.From,
			To:          tx.To,
			Amount:      tx.Amount,
		}
		l.pendingEvents[number] = append(l.pendingEvents[number], ev)
		l.logger.Info("detected transfer",
			"block", number,
			"tx", tx.Hash,
			"contract", tx.Contract,
			"from", tx.From,
			"to", tx.To,
		)
		if err := l.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (l *PollingListener) watched() (map[string]bool, error) {
	addrs, err := l.watchStore.List()
	if err != nil {
		return nil, fmt.Errorf("list watched: %w", err)
	}
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[strings.ToLower(a)] = true
	}
	return set, nil
}

// retract emits Reorged events for pending events in blocks from..to and
// forgets those blocks so the rescan produces fresh events.
func (l *PollingListener) retract(ctx context.Context, from, to uint64) error {
	for num := from; num <= to; num++ {
		for _, ev := range l.pendingEvents[num] {
			ev.Reorged = true
			ev.Confirmed = false
			l.logger.Warn("reorg: retracting transfer", "block", ev.BlockNumber, "tx", ev.TxHash)
			if err := l.emit(ctx, ev); err != nil {
				return err
			}
		}
		delete(l.pendingEvents, num)
		delete(l.blockHashes, num)
	}
	return nil
}

// promote emits confirmed events for blocks that reached the confirmation
// depth, counting the block that holds the transfer.
func (l *PollingListener) promote(ctx context.Context, head uint64) error {
	for num, events := range l.pendingEvents {
		if head+1 < num+l.cfg.ConfirmationDepth {
			continue
		}
		for _, ev := range events {
			ev.Confirmed = true
			l.logger.Info("transfer confirmed", "block", ev.BlockNumber, "tx", ev.TxHash, "depth", head-num+1)
			if err := l.emit(ctx, ev); err != nil {
				return err
			}
		}
		delete(l.pendingEvents, num)
	}
	return nil
}

func (l *PollingListener) emit(ctx context.Context, ev models.BlockEvent) error {
	select {
	case l.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
