package download

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CodeReader 读取链上字节码；*ethclient.Client 实现了该接口
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// DialRPC 连接以太坊节点
func DialRPC(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 RPC 失败: %w", err)
	}
	return client, nil
}

func ensureContract(ctx context.Context, code CodeReader, addr common.Address) error {
	bytecode, err := code.CodeAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("读取 %s 的字节码失败: %w", addr.Hex(), err)
	}
	if len(bytecode) == 0 {
		return fmt.Errorf("%w: %s", ErrNotContract, addr.Hex())
	}
	return nil
}
