package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultHTTPTimeout = 15 * time.Second

// RPCClient is a Node backed by go-ethereum's JSON-RPC client.
type RPCClient struct {
	rpc    *rpc.Client
	eth    *ethclient.Client
	logger *slog.Logger
}

// NewRPCClient dials the node at url. Without a rpc.WithHTTPClient option
// requests use an HTTP client with a 15s timeout.
func NewRPCClient(ctx context.Context, url string, opts ...rpc.ClientOption) (*RPCClient, error) {
	opts = append([]rpc.ClientOption{rpc.WithHTTPClient(&http.Client{Timeout: defaultHTTPTimeout})}, opts...)
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, url, err)
	}
	return &RPCClient{
		rpc:    c,
		eth:    ethclient.NewClient(c),
		logger: slog.Default().With("component", "rpc"),
	}, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	c.rpc.Close()
}

// wrap maps client errors onto the package's error model: node error
// objects become *RPCError, everything else is ErrUnavailable. Context
// errors pass through.
func (c *RPCClient) wrap(ctx context.Context, method string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var rerr rpc.Error
	if errors.As(err, &rerr) {
		c.logger.Debug("rpc error", "method", method, "code", rerr.ErrorCode(), "message", rerr.Error())
		return &RPCError{Code: rerr.ErrorCode(), Message: rerr.Error()}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	return n, c.wrap(ctx, "eth_blockNumber", err)
}

func (c *RPCClient) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	addr, err := parseAddress(to)
	if err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, c.wrap(ctx, "eth_call", err)
	}
	return out, nil
}

func (c *RPCClient) Balance(ctx context.Context, account string) (*big.Int, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	bal, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, c.wrap(ctx, "eth_getBalance", err)
	}
	return bal, nil
}

func (c *RPCClient) PendingNonce(ctx context.Context, account string) (uint64, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return 0, err
	}
	n, err := c.eth.PendingNonceAt(ctx, addr)
	return n, c.wrap(ctx, "eth_getTransactionCount", err)
}

// SendRawTransaction returns the hash the node reports, which may differ in
// case from the locally computed one.
func (c *RPCClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	var hash string
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return "", c.wrap(ctx, "eth_sendRawTransaction", err)
	}
	return hash, nil
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, c.wrap(ctx, "eth_getTransactionReceipt", err)
	}
	if r.BlockNumber == nil {
		return nil, nil
	}
	return &Receipt{
		TxHash:      r.TxHash.Hex(),
		BlockNumber: r.BlockNumber.Uint64(),
		BlockHash:   r.BlockHash.Hex(),
		Status:      r.Status,
	}, nil
}

// rpcBlock decodes only the fields the shop reads. types.Block is not used
// because it rejects transaction types it does not know, such as OP stack
// deposits in Base blocks.
type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         common.Hash      `json:"hash"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Input hexutil.Bytes   `json:"input"`
}

func (c *RPCClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var res *rpcBlock
	if err := c.rpc.CallContext(ctx, &res, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, c.wrap(ctx, "eth_getBlockByNumber", err)
	}
	if res == nil {
		return nil, fmt.Errorf("block %d not found", number)
	}

	block := &Block{Number: uint64(res.Number), Hash: res.Hash.Hex(), Transactions: make([]Transaction, 0, len(res.Transactions))}
	for _, t := range res.Transactions {
		value := new(big.Int)
		if t.Value != nil {
			value = t.Value.ToInt()
		}
		var to string
		if t.To != nil {
			to = strings.ToLower(t.To.Hex())
		}
		block.Transactions = append(block.Transactions, Transaction{
			Hash:  t.Hash.Hex(),
			From:  strings.ToLower(t.From.Hex()),
			To:    to,
			Value: value,
			Input: t.Input,
		})
	}
	return block, nil
}
