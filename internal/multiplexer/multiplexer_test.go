package multiplexer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/chain/chaintest"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/registry"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

const (
	contract         = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	transferFragment = "event Transfer(address indexed from, address indexed to, uint amount)"
	swapFragment     = "event Swap(address indexed sender, uint amount0In, uint amount1Out)"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder counts callback invocations per label.
type recorder struct {
	mu      sync.Mutex
	calls   map[string]int
	matches []subscription.Match
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) callback(ctx context.Context, match subscription.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[match.Label]++
	r.matches = append(r.matches, match)
	return nil
}

func (r *recorder) count(label string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[label]
}

type fixture struct {
	mux      *Multiplexer
	provider *chaintest.FakeProvider
	registry *registry.InMemoryRegistry
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg := registry.NewInMemoryRegistry()
	require.NoError(t, reg.Set(ctx, contract, "largeSell", subscription.EventDescriptor{EventName: "Transfer", EventField: "amount"}))
	require.NoError(t, reg.Set(ctx, contract, "largeBuy", subscription.EventDescriptor{EventName: "Transfer", EventField: "amount"}))
	require.NoError(t, reg.Set(ctx, contract, "largeSwap", subscription.EventDescriptor{EventName: "Swap", EventField: "amount0In"}))

	core, logs := observer.New(zap.DebugLevel)
	provider := chaintest.NewFakeProvider()
	mux, err := New(Config{
		Registry: reg,
		Provider: provider,
		Logger:   zap.New(core),
	})
	require.NoError(t, err)
	t.Cleanup(func() { mux.Close() })

	return &fixture{mux: mux, provider: provider, registry: reg, logs: logs}
}

func request(eventType string, trigger string, label string) subscription.Request {
	return subscription.Request{
		Address:      contract,
		ABI:          []string{transferFragment, swapFragment},
		Type:         eventType,
		TriggerValue: json.Number(trigger),
		Label:        label,
	}
}

func (f *fixture) emitTransfer(amount int64) int {
	n := f.provider.Emit(contract, "Transfer", map[string]any{"amount": big.NewInt(amount)})
	f.mux.Wait()
	return n
}

func TestNew(t *testing.T) {
	t.Run("requires registry", func(t *testing.T) {
		_, err := New(Config{Provider: chaintest.NewFakeProvider()})
		assert.ErrorIs(t, err, ErrNilRegistry)
	})

	t.Run("requires provider", func(t *testing.T) {
		_, err := New(Config{Registry: registry.NewInMemoryRegistry()})
		assert.ErrorIs(t, err, ErrNilProvider)
	})

	t.Run("rejects negative timeout", func(t *testing.T) {
		_, err := New(Config{
			Registry:        registry.NewInMemoryRegistry(),
			Provider:        chaintest.NewFakeProvider(),
			CallbackTimeout: -1,
		})
		assert.ErrorIs(t, err, ErrInvalidCallbackTimeout)
	})
}

func TestMultiplexer_SharedAttachment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeSell", "200", "a"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "5", "b"), rec.callback))

	assert.Equal(t, 1, f.provider.AttachCalls())
	assert.Equal(t, 1, f.provider.LiveCount())
	assert.Equal(t, 1, f.mux.KeyCount())
	assert.Equal(t, 2, f.mux.SubscriberCount())

	filter := f.provider.Filters()[0]
	assert.Equal(t, contract, filter.Address)
	assert.Equal(t, "Transfer", filter.EventName)
	assert.Equal(t, []string{transferFragment, swapFragment}, filter.ABI)
}

func TestMultiplexer_AddressCaseSharesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	lower := request("largeBuy", "1", "lower")
	lower.Address = "0x6b175474e89094c44da98b954eedeac495271d0f"

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "mixed"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, lower, rec.callback))

	assert.Equal(t, 1, f.mux.KeyCount())
	assert.Equal(t, 1, f.provider.LiveCount())
}

func TestMultiplexer_DispatchThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "200", "buy"), rec.callback))

	t.Run("below threshold does not fire", func(t *testing.T) {
		f.emitTransfer(199)
		assert.Equal(t, 0, rec.count("buy"))
	})

	t.Run("boundary value fires", func(t *testing.T) {
		f.emitTransfer(200)
		assert.Equal(t, 1, rec.count("buy"))
	})

	t.Run("above threshold fires", func(t *testing.T) {
		f.emitTransfer(201)
		assert.Equal(t, 2, rec.count("buy"))
	})

	t.Run("missing field does not fire", func(t *testing.T) {
		f.provider.Emit(contract, "Transfer", map[string]any{"value": big.NewInt(1000)})
		f.mux.Wait()
		assert.Equal(t, 2, rec.count("buy"))
	})

	t.Run("non numeric field does not fire", func(t *testing.T) {
		f.provider.Emit(contract, "Transfer", map[string]any{"amount": "lots"})
		f.mux.Wait()
		assert.Equal(t, 2, rec.count("buy"))
	})

	t.Run("match carries subscriber and event", func(t *testing.T) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		require.NotEmpty(t, rec.matches)
		m := rec.matches[0]
		assert.Equal(t, contract, m.Address)
		assert.Equal(t, "largeBuy", m.Type)
		assert.Equal(t, "amount", m.EventField)
		assert.Equal(t, 0, big.NewRat(200, 1).Cmp(m.TriggerValue))
		assert.Equal(t, big.NewInt(200), m.Value())
	})
}

func TestMultiplexer_FractionalThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "99.5", "frac"), rec.callback))

	f.emitTransfer(99)
	assert.Equal(t, 0, rec.count("frac"))
	f.emitTransfer(100)
	assert.Equal(t, 1, rec.count("frac"))
}

func TestMultiplexer_LargeSellLargeBuyScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeSell", "200", "sell"), rec.callback))
	f.emitTransfer(10)
	assert.Equal(t, 0, rec.count("sell"))

	_, err := f.mux.Unsubscribe(ctx, request("largeSell", "200", "sell"))
	require.NoError(t, err)

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "200", "buy"), rec.callback))
	f.emitTransfer(100000)
	assert.Equal(t, 1, rec.count("buy"))
	assert.Equal(t, 0, rec.count("sell"))
}

func TestMultiplexer_ThreeSubscriberScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "200", "buy200"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeSwap", "1000000", "swap"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "300", "buy300"), rec.callback))

	f.emitTransfer(100000)

	assert.Equal(t, 1, rec.count("buy200"))
	assert.Equal(t, 1, rec.count("buy300"))
	assert.Equal(t, 0, rec.count("swap"))

	// one listener for Transfer shared by both largeBuy entries, one for Swap
	assert.Equal(t, 2, f.mux.KeyCount())
	transfers := 0
	for _, filter := range f.provider.Filters() {
		if filter.EventName == "Transfer" {
			transfers++
		}
	}
	assert.Equal(t, 1, transfers)
}

func TestMultiplexer_Unsubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("partial unsubscribe keeps listener", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		for _, label := range []string{"a", "b", "c"} {
			require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", label), rec.callback))
		}

		removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "1", "b"))
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, 1, f.provider.LiveCount())
		assert.Equal(t, 0, f.provider.DetachCalls())

		f.emitTransfer(10)
		assert.Equal(t, 1, rec.count("a"))
		assert.Equal(t, 0, rec.count("b"))
		assert.Equal(t, 1, rec.count("c"))
	})

	t.Run("last unsubscribe detaches", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "only"), rec.callback))
		removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "1", "only"))
		require.NoError(t, err)
		assert.True(t, removed)

		assert.Equal(t, 0, f.provider.LiveCount())
		assert.Equal(t, 0, f.mux.KeyCount())
		assert.Empty(t, f.mux.SubscribedEvents())
		assert.Equal(t, 0, f.emitTransfer(10))
	})

	t.Run("duplicates are removed one at a time", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "dup"), rec.callback))
		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "dup"), rec.callback))
		assert.Equal(t, 2, f.mux.SubscriberCount())

		removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "1", "dup"))
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, 1, f.mux.SubscriberCount())
		assert.Equal(t, 1, f.provider.LiveCount())

		f.emitTransfer(10)
		assert.Equal(t, 1, rec.count("dup"))

		removed, err = f.mux.Unsubscribe(ctx, request("largeBuy", "1", "dup"))
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, 0, f.provider.LiveCount())
	})

	t.Run("repeated unsubscribe is a no-op", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "x"), rec.callback))
		removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "1", "x"))
		require.NoError(t, err)
		assert.True(t, removed)

		for i := 0; i < 3; i++ {
			removed, err = f.mux.Unsubscribe(ctx, request("largeBuy", "1", "x"))
			require.NoError(t, err)
			assert.False(t, removed)
		}
		assert.Equal(t, 1, f.provider.DetachCalls())
	})

	t.Run("match requires every field", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "200", "x"), rec.callback))

		for _, req := range []subscription.Request{
			request("largeBuy", "201", "x"),
			request("largeBuy", "200", "y"),
			request("largeSell", "200", "x"),
		} {
			removed, err := f.mux.Unsubscribe(ctx, req)
			require.NoError(t, err)
			assert.False(t, removed)
		}
		assert.Equal(t, 1, f.mux.SubscriberCount())
	})

	t.Run("numerically equal trigger matches", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "200", "x"), rec.callback))
		removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "200.0", "x"))
		require.NoError(t, err)
		assert.True(t, removed)
	})

	t.Run("unknown type is a no-op", func(t *testing.T) {
		f := newFixture(t)
		removed, err := f.mux.Unsubscribe(ctx, request("nope", "1", "x"))
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("detach failure still removes entry", func(t *testing.T) {
		f := newFixture(t)
		rec := newRecorder()

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "x"), rec.callback))
		f.provider.FailNextDetach(errors.New("socket gone"))

		removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "1", "x"))
		assert.True(t, removed)
		var attachErr *subscription.AttachmentError
		require.ErrorAs(t, err, &attachErr)
		assert.Equal(t, "detach", attachErr.Op)
		assert.ErrorIs(t, err, subscription.ErrAttachment)
		assert.Equal(t, 0, f.mux.KeyCount())
		assert.Equal(t, 1, f.mux.StrandedCount())
		assert.Equal(t, 1, f.provider.LiveCount())

		warnings := f.logs.FilterMessage("Failed to detach listener, retrying on close").All()
		require.Len(t, warnings, 1)
		assert.Equal(t, "1", warnings[0].ContextMap()["attachment"])

		require.NoError(t, f.mux.Close())
		assert.Equal(t, 0, f.provider.LiveCount())
		assert.Equal(t, 0, f.mux.StrandedCount())
	})
}

func TestMultiplexer_SubscribeErrors(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()

	t.Run("unregistered type", func(t *testing.T) {
		f := newFixture(t)
		err := f.mux.Subscribe(ctx, request("unknown", "1", "x"), rec.callback)

		var lookupErr *subscription.RegistryLookupError
		require.ErrorAs(t, err, &lookupErr)
		assert.Equal(t, "unknown", lookupErr.Type)
		assert.ErrorIs(t, err, subscription.ErrRegistryLookup)
		assert.Equal(t, 0, f.provider.AttachCalls())
		assert.Equal(t, 0, f.mux.KeyCount())
	})

	t.Run("attach failure leaves no entry", func(t *testing.T) {
		f := newFixture(t)
		f.provider.FailNextAttach(errors.New("node unreachable"))

		err := f.mux.Subscribe(ctx, request("largeBuy", "1", "x"), rec.callback)
		var attachErr *subscription.AttachmentError
		require.ErrorAs(t, err, &attachErr)
		assert.Equal(t, "attach", attachErr.Op)
		assert.Equal(t, "Transfer", attachErr.Filter.EventName)
		assert.Equal(t, 0, f.mux.KeyCount())
		assert.Empty(t, f.mux.SubscribedEvents())

		require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "x"), rec.callback))
		assert.Equal(t, 1, f.mux.KeyCount())
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newFixture(t)
		req := request("largeBuy", "1", "x")
		req.ABI = nil
		err := f.mux.Subscribe(ctx, req, rec.callback)
		assert.ErrorIs(t, err, subscription.ErrInvalidRequest)
	})

	t.Run("nil callback", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "x"), nil), ErrNilCallback)
	})

	t.Run("closed", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mux.Close())
		assert.ErrorIs(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "x"), rec.callback), ErrClosed)
	})
}

func TestMultiplexer_SubscribedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	reqs := []subscription.Request{
		request("largeBuy", "200", "1"),
		request("largeSwap", "1000", "2"),
		request("largeSell", "5", "3"),
		request("largeBuy", "200", "4"),
	}
	for _, req := range reqs {
		require.NoError(t, f.mux.Subscribe(ctx, req, rec.callback))
	}

	events := f.mux.SubscribedEvents()
	require.Len(t, events, len(reqs))
	assert.Equal(t, []subscription.EventRef{
		{Address: contract, Type: "largeBuy"},
		{Address: contract, Type: "largeSwap"},
		{Address: contract, Type: "largeSell"},
		{Address: contract, Type: "largeBuy"},
	}, events)
	assert.Len(t, f.mux.Keys(), 2)
}

func TestMultiplexer_SubscribedEventsAfterUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeSwap", "1", "a"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "b"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeSell", "1", "c"), rec.callback))

	_, err := f.mux.Unsubscribe(ctx, request("largeSwap", "1", "a"))
	require.NoError(t, err)
	require.NoError(t, f.mux.Subscribe(ctx, request("largeSwap", "1", "d"), rec.callback))

	assert.Equal(t, []subscription.EventRef{
		{Address: contract, Type: "largeBuy"},
		{Address: contract, Type: "largeSell"},
		{Address: contract, Type: "largeSwap"},
	}, f.mux.SubscribedEvents())
}

func TestMultiplexer_SubscribedEventsSingleKeyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	types := []string{"largeSell", "largeBuy", "largeSell", "largeBuy", "largeBuy"}
	for i, typ := range types {
		require.NoError(t, f.mux.Subscribe(ctx, request(typ, "1", string(rune('a'+i))), rec.callback))
	}

	events := f.mux.SubscribedEvents()
	require.Len(t, events, len(types))
	for i, typ := range types {
		assert.Equal(t, typ, events[i].Type)
	}
}

func TestMultiplexer_CallbackFaultsAreContained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "err"), func(context.Context, subscription.Match) error {
		return errors.New("downstream refused")
	}))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "panic"), func(context.Context, subscription.Match) error {
		panic("callback bug")
	}))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "ok"), rec.callback))

	f.emitTransfer(5)

	assert.Equal(t, 1, rec.count("ok"))
	faults := f.logs.FilterMessage("Subscriber callback failed").All()
	assert.Len(t, faults, 2)
	assert.Equal(t, 3, f.mux.SubscriberCount())
}

func TestMultiplexer_BlockedCallbackDoesNotDelayOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "stuck"), func(context.Context, subscription.Match) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "ok"), rec.callback))

	assert.Equal(t, 1, f.provider.Emit(contract, "Transfer", map[string]any{"amount": big.NewInt(5)}))

	<-started
	assert.Eventually(t, func() bool { return rec.count("ok") == 1 }, time.Second, 5*time.Millisecond)
}

func TestMultiplexer_CloseDetachesAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "a"), rec.callback))
	require.NoError(t, f.mux.Subscribe(ctx, request("largeSwap", "1", "b"), rec.callback))
	assert.Equal(t, 2, f.provider.LiveCount())

	require.NoError(t, f.mux.Close())
	assert.Equal(t, 0, f.provider.LiveCount())
	assert.Equal(t, 0, f.mux.KeyCount())
	require.NoError(t, f.mux.Close())
}

func TestMultiplexer_ConcurrentSubscribeSharesOneListener(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.mux.Subscribe(ctx, request("largeBuy", "1", "c"), rec.callback))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.provider.AttachCalls())
	assert.Equal(t, 50, f.mux.SubscriberCount())

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed, err := f.mux.Unsubscribe(ctx, request("largeBuy", "1", "c"))
			assert.NoError(t, err)
			assert.True(t, removed)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.provider.LiveCount())
	assert.Equal(t, 1, f.provider.DetachCalls())
}

func TestMultiplexer_DispatchIgnoresUnknownKey(t *testing.T) {
	f := newFixture(t)
	assert.NotPanics(t, func() {
		f.mux.dispatch(subscription.CanonicalKey("missing"), chain.Event{})
	})
}
