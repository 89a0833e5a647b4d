package signing

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"riddle-swap/pkg/swaperr"
	"riddle-swap/pkg/types"
)

// EVMSender is the subset of ethclient.Client the EVM provider uses
type EVMSender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// EVMProvider signs prepared EVM transactions with a local key
type EVMProvider struct {
	client     EVMSender
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu      sync.Mutex
	chainID *big.Int
}

// NewEVMProvider creates a provider from a hex private key. A zero chainID is looked up
// from the node on first use.
func NewEVMProvider(client EVMSender, privateKeyHex string, chainID int64) (*EVMProvider, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key not configured for EVM")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	p := &EVMProvider{
		client:     client,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
	if chainID > 0 {
		p.chainID = big.NewInt(chainID)
	}
	return p, nil
}

func (p *EVMProvider) Chain() types.Chain { return types.ChainEVM }

func (p *EVMProvider) Address() string { return p.address.Hex() }

// Sign decodes the hex transaction and signs it for the configured chain
func (p *EVMProvider) Sign(ctx context.Context, desc types.TxDescriptor) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(desc.UnsignedTx, "0x"))
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeBackendExecution, err, "prepared transaction is not hex")
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, swaperr.Wrap(swaperr.CodeBackendExecution, err, "prepared transaction could not be decoded")
	}

	chainID, err := p.chain(ctx)
	if err != nil {
		return nil, err
	}
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed.MarshalBinary()
}

// Broadcast sends the signed transaction through the node
func (p *EVMProvider) Broadcast(ctx context.Context, signed []byte) (string, error) {
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return "", fmt.Errorf("invalid signed transaction: %w", err)
	}
	if err := p.client.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (p *EVMProvider) chain(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chainID != nil {
		return p.chainID, nil
	}
	id, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	p.chainID = id
	return id, nil
}
