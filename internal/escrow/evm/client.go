package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to reach the EVM chain holding the escrow wallets.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client verifies escrow deposits by reading wallet balances from an EVM
// compatible chain.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置托管链 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接托管链节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// VerifyDeposit implements the escrow.Verifier interface. The offer amount is
// interpreted in whole chain units and compared against the escrow wallet
// balance in wei.
func (c *Client) VerifyDeposit(ctx context.Context, account string, amount float64) (bool, error) {
	if c == nil || c.eth == nil {
		return false, errors.New("未初始化的托管链客户端")
	}
	account = strings.TrimSpace(account)
	if account == "" {
		return false, errors.New("托管账户地址不能为空")
	}
	if !common.IsHexAddress(account) {
		return false, fmt.Errorf("非法的托管账户地址: %s", account)
	}

	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(account), nil)
	if err != nil {
		return false, fmt.Errorf("查询托管账户余额失败: %w", err)
	}
	return balance.Cmp(toWei(amount)) >= 0, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

func toWei(amount float64) *big.Int {
	if amount <= 0 {
		return new(big.Int)
	}
	wei, _ := new(big.Float).Mul(
		big.NewFloat(amount),
		new(big.Float).SetInt(big.NewInt(1e18)),
	).Int(nil)
	return wei
}
