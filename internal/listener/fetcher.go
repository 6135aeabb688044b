package listener

import (
	"context"
	"fmt"

	"github.com/OKaluzny/token-shop/internal/abi"
	"github.com/OKaluzny/token-shop/internal/chain"
	"github.com/OKaluzny/token-shop/internal/token"
)

// ChainFetcher is a BlockFetcher over a chain.Node. It reports native value
// transfers and transfer/transferFrom calls made directly to contracts in
// the token registry. Other contract calls are skipped.
type ChainFetcher struct {
	node   chain.Node
	tokens *token.Registry
}

func NewChainFetcher(node chain.Node, tokens *token.Registry) *ChainFetcher {
	return &ChainFetcher{node: node, tokens: tokens}
}

func (f *ChainFetcher) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return f.node.BlockNumber(ctx)
}

func (f *ChainFetcher) GetBlock(ctx context.Context, number uint64) (*BlockData, error) {
	block, err := f.node.BlockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", number, err)
	}

	data := &BlockData{Number: block.Number, Hash: block.Hash}
	for _, tx := range block.Transactions {
		if tx.To == "" {
			continue // contract creation
		}
		if len(tx.Input) == 0 {
			if tx.Value != nil && tx.Value.Sign() > 0 {
				data.Txs = append(data.Txs, BlockTx{Hash: tx.Hash, From: tx.From, To: tx.To, Amount: tx.Value})
			}
			continue
		}

		tok, err := f.tokens.ByContract(tx.To)
		if err != nil {
			continue
		}
		mv, err := abi.DecodeMovement(tx.Input)
		if err != nil {
			continue // approve and other calls
		}
		from := mv.From
		if from == "" {
			from = tx.From
		}
		data.Txs = append(data.Txs, BlockTx{
			Hash:     tx.Hash,
			Contract: tok.Contract,
			From:     from,
			To:       mv.To,
			Amount:   mv.Amount,
		})
	}
	return data, nil
}
