package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fingerprint = "0x9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"funds", errors.New("insufficient funds for gas * price + value"), ErrInsufficientFunds, true},
		{"refused", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), ErrUnavailable, true},
		{"net error", &net.OpError{Op: "read", Err: errors.New("reset")}, ErrUnavailable, true},
		{"rate limited", errors.New("429 Too Many Requests"), ErrUnavailable, true},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded, true},
		{"nonce", errors.New("nonce too low"), nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
	assert.NoError(t, classify("op", nil))
}

func TestMemoryLedger_Lifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(false)

	sub, err := l.Submit(ctx, Anchor{Fingerprint: fingerprint, ComplaintID: "c1", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, models.AnchorTransfer, sub.Method)

	conf, err := l.Confirm(ctx, sub.Ref)
	require.NoError(t, err)
	assert.Equal(t, StatePending, conf.State)

	_, err = l.Lookup(ctx, sub.Ref)
	assert.ErrorIs(t, err, ErrNotFound)

	block := l.Mine()
	conf, err = l.Confirm(ctx, sub.Ref)
	require.NoError(t, err)
	assert.Equal(t, StateIncluded, conf.State)
	assert.Equal(t, block, conf.BlockNumber)
	assert.Equal(t, MemoryCostPerSubmission, conf.Cost)

	proof, err := l.Lookup(ctx, sub.Ref)
	require.NoError(t, err)
	assert.True(t, proof.Found)
	assert.Equal(t, conf.Timestamp, proof.Timestamp)

	anchor, ok := l.Submitted(sub.Ref)
	require.True(t, ok)
	assert.Equal(t, "c1", anchor.ComplaintID)

	_, err = l.Confirm(ctx, "0xunknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_RejectAndFailures(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(false)

	sub, err := l.Submit(ctx, Anchor{Fingerprint: fingerprint, ComplaintID: "c1"})
	require.NoError(t, err)
	l.Reject(sub.Ref, "out of gas")
	l.Mine()

	conf, err := l.Confirm(ctx, sub.Ref)
	require.NoError(t, err)
	assert.Equal(t, StateRejected, conf.State)
	assert.Equal(t, "out of gas", conf.Reason)

	l.FailSubmissions(fmt.Errorf("send: %w", ErrInsufficientFunds))
	_, err = l.Submit(ctx, Anchor{Fingerprint: fingerprint, ComplaintID: "c2"})
	assert.True(t, IsRetryable(err))
	l.FailSubmissions(nil)

	l.OnSubmit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = l.Submit(tctx, Anchor{Fingerprint: fingerprint, ComplaintID: "c3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEthereumClient_ContractPayload(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	contract := "0x5FbDB2315678afecb367f032d93F642f64180aa3"

	c, err := NewEthereumClient(nil, EthereumConfig{
		ChainID:         1337,
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		ContractAddress: contract,
	}, logger.NewNop())
	require.NoError(t, err)

	at := time.Unix(1_700_000_000, 0)
	to, data, method, err := c.payload(Anchor{Fingerprint: fingerprint, ComplaintID: "c-42", Timestamp: at})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(contract), to)
	assert.Equal(t, models.AnchorContract, method)

	m := c.registry.Methods["recordFingerprint"]
	assert.Equal(t, m.ID, data[:4])
	values, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, [32]byte(common.HexToHash(fingerprint)), values[0])
	assert.Equal(t, "c-42", values[1])
	assert.Equal(t, big.NewInt(at.Unix()), values[2])

	_, err = NewEthereumClient(nil, EthereumConfig{PrivateKey: "zz"}, logger.NewNop())
	assert.Error(t, err)
	_, err = NewEthereumClient(nil, EthereumConfig{PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)), ContractAddress: "nope"}, logger.NewNop())
	assert.Error(t, err)
}

func newSimulated(t *testing.T, funded bool) (*simulated.Backend, *EthereumClient) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	alloc := types.GenesisAlloc{}
	if funded {
		alloc[addr] = types.Account{Balance: new(big.Int).Mul(big.NewInt(1e18), big.NewInt(10))}
	}
	backend := simulated.NewBackend(alloc)
	t.Cleanup(func() { backend.Close() })

	c, err := NewEthereumClient(backend.Client(), EthereumConfig{
		ChainID:    1337,
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, logger.NewNop())
	require.NoError(t, err)
	return backend, c
}

func TestEthereumClient_TransferRoundTrip(t *testing.T) {
	backend, c := newSimulated(t, true)
	ctx := context.Background()

	sub, err := c.Submit(ctx, Anchor{Fingerprint: fingerprint, ComplaintID: "c1", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, models.AnchorTransfer, sub.Method)

	conf, err := c.Confirm(ctx, sub.Ref)
	require.NoError(t, err)
	assert.Equal(t, StatePending, conf.State)

	backend.Commit()

	conf, err = c.Confirm(ctx, sub.Ref)
	require.NoError(t, err)
	require.Equal(t, StateIncluded, conf.State)
	assert.Equal(t, uint64(1), conf.BlockNumber)
	assert.NotEqual(t, "0", conf.Cost)

	proof, err := c.Lookup(ctx, sub.Ref)
	require.NoError(t, err)
	assert.True(t, proof.Found)
	assert.Equal(t, conf.BlockNumber, proof.BlockNumber)
	assert.Equal(t, conf.Cost, proof.Cost)

	_, err = c.Lookup(ctx, common.Hash{1}.Hex())
	assert.ErrorIs(t, err, ErrNotFound)

	// a hash the node never saw is not pending
	_, err = c.Confirm(ctx, common.Hash{1}.Hex())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEthereumClient_UnfundedIsRetryable(t *testing.T) {
	_, c := newSimulated(t, false)

	_, err := c.Submit(context.Background(), Anchor{Fingerprint: fingerprint, ComplaintID: "c1", Timestamp: time.Now()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, IsRetryable(err))
}
