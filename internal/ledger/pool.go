package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/registry-mirror/internal/circuitbreaker"
	"github.com/registry-mirror/internal/config"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/retry"
	"github.com/registry-mirror/internal/types"
)

// registryABI covers the two read functions the mirror needs.
const registryABIJSON = `[
	{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"tokenURI","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]}
]`

var registryABI = mustParseABI(registryABIJSON)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// zeroAddressTopic is the zero address left-padded to a 32-byte topic. A
// transfer from it is a mint.
var zeroAddressTopic = common.Hash{}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid registry ABI: %v", err))
	}
	return parsed
}

// throttle is the limiter surface the pool consumes, satisfied by
// *rate.Limiter.
type throttle interface {
	Wait(ctx context.Context) error
}

// chainEndpoints holds the per-chain endpoint list plus the throttle and the
// per-endpoint breakers that take failing endpoints out of rotation.
type chainEndpoints struct {
	endpoints []string
	breakers  []*circuitbreaker.Breaker
	limiter   throttle
	timeout   time.Duration
}

// Pool implements Source on go-ethereum clients with endpoint rotation,
// bounded retry, and per-chain request throttling. A fresh client is dialed
// per attempt; rotation is derived from the attempt number, not shared state.
type Pool struct {
	chains   map[types.ChainID]*chainEndpoints
	retryCfg *retry.Config
	log      *logging.Logger
}

// NewPool creates a pool from the per-chain configuration
func NewPool(cfg *config.ChainsConfig, log *logging.Logger) (*Pool, error) {
	if log == nil {
		log = logging.GetGlobalLogger()
	}

	chains := make(map[types.ChainID]*chainEndpoints)
	for _, chain := range cfg.Enabled {
		cc := cfg.Chains[chain]
		if len(cc.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %s: %w", chain, ErrNoEndpoints)
		}

		breakers := make([]*circuitbreaker.Breaker, len(cc.RPCEndpoints))
		for i := range cc.RPCEndpoints {
			breakers[i] = circuitbreaker.New(&circuitbreaker.Config{
				Name:     fmt.Sprintf("%s-endpoint-%d", chain, i),
				Cooldown: 60 * time.Second,
			})
		}

		rps := cc.RequestsPerSecond
		if rps <= 0 {
			rps = 10
		}
		timeout := cc.CallTimeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}

		chains[chain] = &chainEndpoints{
			endpoints: cc.RPCEndpoints,
			breakers:  breakers,
			limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
			timeout:   timeout,
		}
	}

	log.Infof("[LedgerPool] Initialized with %d chains", len(chains))

	return &Pool{
		chains:   chains,
		retryCfg: retry.DefaultLedgerConfig(),
		log:      log,
	}, nil
}

// withClient runs fn against the chain's endpoints with rotation and retry.
// Each attempt dials a fresh client against the endpoint the rotation
// function selects for that attempt and closes it when done.
func (p *Pool) withClient(ctx context.Context, chain types.ChainID, op string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	ce, ok := p.chains[chain]
	if !ok {
		return NewLedgerError(chain, op, ErrUnknownChain)
	}

	err := retry.WithBackoff(ctx, p.retryCfg, func(ctx context.Context, attempt int) error {
		// Every attempt pays the throttle, retries included
		if err := ce.limiter.Wait(ctx); err != nil {
			return err
		}

		idx := pickEndpoint(ce.breakers, attempt)
		endpoint := ce.endpoints[idx]
		breaker := ce.breakers[idx]

		callCtx, cancel := context.WithTimeout(ctx, ce.timeout)
		defer cancel()

		client, err := ethclient.DialContext(callCtx, endpoint)
		if err != nil {
			breaker.RecordFailure()
			p.log.Warnf("[LedgerPool] Chain %s: dial failed for endpoint %d: %v", chain, idx, err)
			return err
		}
		defer client.Close()

		if err := fn(callCtx, client); err != nil {
			breaker.RecordFailure()
			p.log.Warnf("[LedgerPool] Chain %s: %s failed on endpoint %d: %v", chain, op, idx, err)
			return err
		}

		breaker.RecordSuccess()
		return nil
	})
	if err != nil {
		return NewLedgerError(chain, op, err)
	}

	return nil
}

// Height returns the chain's current block number
func (p *Pool) Height(ctx context.Context, chain types.ChainID) (uint64, error) {
	var height uint64
	err := p.withClient(ctx, chain, "Height", func(ctx context.Context, client *ethclient.Client) error {
		h, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

// MintLogs returns mint transfers for the registry contract in [from, to]
func (p *Pool) MintLogs(ctx context.Context, chain types.ChainID, contract string, from, to uint64) ([]MintEvent, error) {
	contractAddr := common.HexToAddress(contract)
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contractAddr},
		Topics: [][]common.Hash{
			{transferTopic},
			{zeroAddressTopic}, // from == zero address, mint only
		},
	}

	var mints []MintEvent
	err := p.withClient(ctx, chain, "MintLogs", func(ctx context.Context, client *ethclient.Client) error {
		logs, err := client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}

		mints = mints[:0]
		for _, lg := range logs {
			// Transfer(address indexed from, address indexed to, uint256 indexed tokenId)
			if len(lg.Topics) < 4 {
				continue
			}
			tokenID := lg.Topics[3].Big()
			if !tokenID.IsUint64() {
				p.log.Warnf("[LedgerPool] Chain %s: skipping mint with oversized token id %s", chain, tokenID)
				continue
			}
			mints = append(mints, MintEvent{
				ID:          tokenID.Uint64(),
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash.Hex(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return mints, nil
}

// OwnerOf returns the current controller of a registry token
func (p *Pool) OwnerOf(ctx context.Context, chain types.ChainID, contract string, id uint64) (string, error) {
	results, err := p.callRegistry(ctx, chain, contract, "ownerOf", id)
	if err != nil {
		return "", err
	}

	owner, ok := results[0].(common.Address)
	if !ok {
		return "", NewLedgerError(chain, "OwnerOf", fmt.Errorf("unexpected return type %T", results[0]))
	}
	return owner.Hex(), nil
}

// TokenURI returns the token's metadata URI
func (p *Pool) TokenURI(ctx context.Context, chain types.ChainID, contract string, id uint64) (string, error) {
	results, err := p.callRegistry(ctx, chain, contract, "tokenURI", id)
	if err != nil {
		return "", err
	}

	uri, ok := results[0].(string)
	if !ok {
		return "", NewLedgerError(chain, "TokenURI", fmt.Errorf("unexpected return type %T", results[0]))
	}
	return uri, nil
}

// callRegistry performs a read-only contract call and unpacks the result
func (p *Pool) callRegistry(ctx context.Context, chain types.ChainID, contract, method string, id uint64) ([]interface{}, error) {
	data, err := registryABI.Pack(method, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, NewLedgerError(chain, method, err)
	}

	contractAddr := common.HexToAddress(contract)
	msg := ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}

	var results []interface{}
	err = p.withClient(ctx, chain, method, func(ctx context.Context, client *ethclient.Client) error {
		raw, err := client.CallContract(ctx, msg, nil)
		if err != nil {
			return err
		}

		unpacked, err := registryABI.Unpack(method, raw)
		if err != nil {
			return err
		}
		if len(unpacked) == 0 {
			return fmt.Errorf("empty return data")
		}
		results = unpacked
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}
