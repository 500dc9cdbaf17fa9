package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
)

var (
	// ErrProviderClosed is returned by Attach after Close
	ErrProviderClosed = errors.New("provider is closed")
	// ErrUnknownAttachment is returned by Detach for handles it does not own
	ErrUnknownAttachment = errors.New("unknown attachment")
	// ErrNilHandler is returned by Attach when no handler is given
	ErrNilHandler = errors.New("handler cannot be nil")
)

// LogSubscriber is the part of *ethclient.Client the provider uses.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EthProvider implements chain.Provider on eth_subscribe("logs"). Each
// attachment owns one log subscription and one goroutine that decodes logs
// and calls the handler in delivery order. Dropped subscriptions are
// re-established with exponential backoff.
type EthProvider struct {
	client LogSubscriber
	config Config
	logger *zap.Logger
	closer func()

	mu          sync.Mutex
	attachments map[string]*attachment
	nextID      uint64
	closed      bool
}

type attachment struct {
	id      string
	filter  chain.Filter
	event   abi.Event
	query   ethereum.FilterQuery
	handler chain.Handler
	cancel  context.CancelFunc
	done    chan struct{}
}

func (a *attachment) ID() string           { return a.id }
func (a *attachment) Filter() chain.Filter { return a.filter }

// NewEthProvider creates a provider over an existing log subscriber.
func NewEthProvider(client LogSubscriber, config Config, logger *zap.Logger) (*EthProvider, error) {
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EthProvider{
		client:      client,
		config:      config,
		logger:      logger.With(zap.String("component", "chain")),
		attachments: make(map[string]*attachment),
	}, nil
}

// Dial connects to a websocket (or IPC) endpoint and returns a provider that
// closes the connection on Close.
func Dial(ctx context.Context, url string, config Config, logger *zap.Logger) (*EthProvider, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	p, err := NewEthProvider(client, config, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.closer = client.Close
	return p, nil
}

// Attach subscribes to the filter's logs and starts delivering decoded events.
func (p *EthProvider) Attach(ctx context.Context, filter chain.Filter, handler chain.Handler) (chain.Attachment, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !common.IsHexAddress(filter.Address) {
		return nil, fmt.Errorf("invalid contract address %q", filter.Address)
	}
	ev, err := FindEvent(filter.ABI, filter.EventName)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(filter.Address)},
	}
	if !ev.Anonymous {
		query.Topics = [][]common.Hash{{ev.ID}}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrProviderClosed
	}
	p.mu.Unlock()

	logs := make(chan types.Log, p.config.LogBufferSize)
	sub, err := p.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	att := &attachment{
		filter:  filter,
		event:   ev,
		query:   query,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		sub.Unsubscribe()
		return nil, ErrProviderClosed
	}
	p.nextID++
	att.id = strconv.FormatUint(p.nextID, 10)
	p.attachments[att.id] = att
	p.mu.Unlock()

	go p.run(runCtx, att, sub, logs)

	p.logger.Info("Attached log listener",
		zap.String("attachment", att.id),
		zap.String("address", query.Addresses[0].Hex()),
		zap.String("event", ev.Sig))
	return att, nil
}

// Detach stops the attachment's subscription and waits for its goroutine.
func (p *EthProvider) Detach(ctx context.Context, a chain.Attachment) error {
	att, ok := a.(*attachment)
	if !ok || att == nil {
		return ErrUnknownAttachment
	}

	p.mu.Lock()
	stored, exists := p.attachments[att.id]
	if exists && stored == att {
		delete(p.attachments, att.id)
	}
	p.mu.Unlock()
	if !exists || stored != att {
		return ErrUnknownAttachment
	}

	att.cancel()
	select {
	case <-att.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.logger.Info("Detached log listener", zap.String("attachment", att.id))
	return nil
}

// ListenerCount returns the number of live attachments.
func (p *EthProvider) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attachments)
}

// Close stops every attachment and closes the node connection if the
// provider opened it. Safe to call multiple times.
func (p *EthProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	live := make([]*attachment, 0, len(p.attachments))
	for id, att := range p.attachments {
		live = append(live, att)
		delete(p.attachments, id)
	}
	p.mu.Unlock()

	for _, att := range live {
		att.cancel()
		<-att.done
	}
	if p.closer != nil {
		p.closer()
	}
	return nil
}

func (p *EthProvider) run(ctx context.Context, att *attachment, sub ethereum.Subscription, logs chan types.Log) {
	defer close(att.done)

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			return

		case vLog := <-logs:
			p.deliver(att, vLog)

		case err := <-sub.Err():
			sub.Unsubscribe()
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("Log subscription dropped, resubscribing",
				zap.String("attachment", att.id),
				zap.Error(err))

			next, ok := p.resubscribe(ctx, att, logs)
			if !ok {
				return
			}
			sub = next
		}
	}
}

func (p *EthProvider) resubscribe(ctx context.Context, att *attachment, logs chan types.Log) (ethereum.Subscription, bool) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.ResubscribeInitialInterval
	b.MaxInterval = p.config.ResubscribeMaxInterval
	b.MaxElapsedTime = p.config.ResubscribeMaxElapsed

	var sub ethereum.Subscription
	err := backoff.Retry(func() error {
		s, err := p.client.SubscribeFilterLogs(ctx, att.query, logs)
		if err != nil {
			p.logger.Debug("Resubscribe attempt failed", zap.String("attachment", att.id), zap.Error(err))
			return err
		}
		sub = s
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("Giving up on log subscription",
				zap.String("attachment", att.id),
				zap.Error(err))
		}
		return nil, false
	}

	p.logger.Info("Log subscription re-established", zap.String("attachment", att.id))
	return sub, true
}

func (p *EthProvider) deliver(att *attachment, vLog types.Log) {
	ev, err := DecodeLog(att.event, vLog)
	if err != nil {
		p.logger.Warn("Dropping undecodable log",
			zap.String("attachment", att.id),
			zap.String("tx", vLog.TxHash.Hex()),
			zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Event handler panicked",
				zap.String("attachment", att.id),
				zap.Any("panic", r))
		}
	}()
	att.handler(ev)
}

var _ chain.Provider = (*EthProvider)(nil)
