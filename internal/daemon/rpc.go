// Package daemon wraps the CryptoNote daemon's JSON-RPC interface and its
// push notification channels behind types the job pipeline consumes.
package daemon

import (
	"context"
	"time"

	"git.gammaspectra.live/P2Pool/go-monero/pkg/rpc"
	monerodaemon "git.gammaspectra.live/P2Pool/go-monero/pkg/rpc/daemon"
	"github.com/floatdrop/lru"
	fasthex "github.com/tmthrgd/go-hex"

	"github.com/bardlex/cnpool/internal/cryptonote"
	"github.com/bardlex/cnpool/pkg/circuit"
	"github.com/bardlex/cnpool/pkg/errors"
	"github.com/bardlex/cnpool/pkg/retry"
)

// Client provides a high-level interface to the CryptoNote daemon's
// JSON-RPC API, with circuit breaking and retries around every call and
// small caches for header lookups.
type Client struct {
	d              *monerodaemon.Client
	rpcTimeout     time.Duration
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config

	headerCache *lru.LRU[string, BlockHeader]
}

// NewClient creates a daemon RPC client for the given URL
// (e.g. http://localhost:18081).
func NewClient(url string, rpcTimeout time.Duration) (*Client, error) {
	c, err := rpc.NewClient(url)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "rpc_client_creation",
			"failed to create daemon RPC client").
			WithContext("url", url)
	}

	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
	}

	return &Client{
		d:              monerodaemon.NewClient(c),
		rpcTimeout:     rpcTimeout,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DaemonConfig(),
		headerCache:    lru.New[string, BlockHeader](256),
	}, nil
}

// GetBlockTemplate retrieves a block template for the pool wallet with a
// reserved slot big enough for the pool's two nonce fields.
func (c *Client) GetBlockTemplate(ctx context.Context, walletAddress string, reserveSize uint) (*BlockTemplate, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*BlockTemplate, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*BlockTemplate, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()

			result, err := c.d.GetBlockTemplate(callCtx, walletAddress, reserveSize)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "get_block_template",
					"failed to retrieve block template from daemon")
			}

			blob, err := fasthex.DecodeString(result.BlocktemplateBlob)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeValidation, "get_block_template",
					"daemon returned malformed template blob")
			}

			major, err := cryptonote.MajorVersion(blob)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeValidation, "get_block_template",
					"daemon returned template with unreadable major version")
			}

			return &BlockTemplate{
				Height:         uint64(result.Height),
				PrevHash:       result.PrevHash,
				Blob:           blob,
				ReservedOffset: uint32(result.ReservedOffset),
				Difficulty:     uint64(result.Difficulty),
				ExpectedReward: uint64(result.ExpectedReward),
				SeedHash:       result.SeedHash,
				NextSeedHash:   result.NextSeedHash,
				MajorVersion:   major,
			}, nil
		})
	})
}

// SubmitBlock races a solved block to the daemon. The retry schedule is
// deliberately tight: 3 attempts, 500ms apart, then the caller gives up and
// the share is recorded without the block.
func (c *Client) SubmitBlock(ctx context.Context, blobHex string) error {
	return c.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, retry.BlockSubmitConfig(), func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()

			result, err := c.d.SubmitBlock(callCtx, blobHex)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeDaemon, "submit_block",
					"failed to submit block to daemon")
			}

			if result.Status != "OK" {
				return errors.New(errors.ErrorTypeValidation, "submit_block",
					"daemon rejected block").
					WithContext("status", result.Status)
			}

			return nil
		})
	})
}

// GetInfo fetches the daemon's current chain tip summary.
func (c *Client) GetInfo(ctx context.Context) (*ChainInfo, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*ChainInfo, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*ChainInfo, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()

			result, err := c.d.GetInfo(callCtx)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "get_info",
					"failed to retrieve daemon info")
			}

			return &ChainInfo{
				Height:       uint64(result.Height),
				TopBlockHash: result.TopBlockHash,
			}, nil
		})
	})
}

// GetBlockHeaderByHash fetches a block header, serving repeats from a small
// LRU cache; headers are immutable once the block is buried.
func (c *Client) GetBlockHeaderByHash(ctx context.Context, hash string) (*BlockHeader, error) {
	if cached := c.headerCache.Get(hash); cached != nil {
		header := *cached
		return &header, nil
	}

	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (*BlockHeader, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*BlockHeader, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
			defer cancel()

			result, err := c.d.GetBlockHeaderByHash(callCtx, []string{hash})
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDaemon, "get_block_header_by_hash",
					"failed to retrieve block header").
					WithContext("block_hash", hash)
			}

			h := result.BlockHeader
			if h.Hash == "" {
				return nil, errors.New(errors.ErrorTypeDaemon, "get_block_header_by_hash",
					"daemon returned no header").
					WithContext("block_hash", hash)
			}

			header := BlockHeader{
				Hash:       h.Hash,
				Height:     uint64(h.Height),
				Difficulty: uint64(h.Difficulty),
				Timestamp:  uint64(h.Timestamp),
			}
			c.headerCache.Set(hash, header)
			return &header, nil
		})
	})
}
