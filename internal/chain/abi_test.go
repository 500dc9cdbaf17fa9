package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transferFragment = "event Transfer(address indexed from, address indexed to, uint amount)"

const swapJSON = `{"anonymous":false,"inputs":[` +
	`{"indexed":true,"internalType":"address","name":"sender","type":"address"},` +
	`{"indexed":false,"internalType":"uint256","name":"amount0In","type":"uint256"},` +
	`{"indexed":false,"internalType":"uint256","name":"amount1Out","type":"uint256"}],` +
	`"name":"Swap","type":"event"}`

func TestParseEvents(t *testing.T) {
	t.Run("human readable fragment", func(t *testing.T) {
		events, err := ParseEvents([]string{transferFragment})
		require.NoError(t, err)
		require.Contains(t, events, "Transfer")

		ev := events["Transfer"]
		assert.Equal(t, "Transfer(address,address,uint256)", ev.Sig)
		require.Len(t, ev.Inputs, 3)
		assert.True(t, ev.Inputs[0].Indexed)
		assert.True(t, ev.Inputs[1].Indexed)
		assert.False(t, ev.Inputs[2].Indexed)
		assert.Equal(t, "amount", ev.Inputs[2].Name)
		assert.Equal(t, "uint256", ev.Inputs[2].Type.String())
	})

	t.Run("topic matches keccak of signature", func(t *testing.T) {
		ev, err := FindEvent([]string{transferFragment}, "Transfer")
		require.NoError(t, err)
		// keccak256("Transfer(address,address,uint256)")
		assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", ev.ID.Hex())
	})

	t.Run("json object fragment", func(t *testing.T) {
		ev, err := FindEvent([]string{swapJSON}, "Swap")
		require.NoError(t, err)
		assert.Equal(t, "Swap(address,uint256,uint256)", ev.Sig)
	})

	t.Run("json array fragment", func(t *testing.T) {
		events, err := ParseEvents([]string{"[" + swapJSON + "]"})
		require.NoError(t, err)
		assert.Contains(t, events, "Swap")
	})

	t.Run("mixed fragments ignore functions", func(t *testing.T) {
		events, err := ParseEvents([]string{
			"function balanceOf(address owner) view returns (uint256)",
			transferFragment,
			swapJSON,
		})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("unnamed parameters get positional names", func(t *testing.T) {
		ev, err := FindEvent([]string{"event Ping(uint256 indexed, bool)"}, "Ping")
		require.NoError(t, err)
		assert.Equal(t, "arg0", ev.Inputs[0].Name)
		assert.Equal(t, "arg1", ev.Inputs[1].Name)
	})

	t.Run("anonymous event", func(t *testing.T) {
		ev, err := FindEvent([]string{"event Log(uint256 value) anonymous"}, "Log")
		require.NoError(t, err)
		assert.True(t, ev.Anonymous)
	})

	t.Run("first overload wins", func(t *testing.T) {
		ev, err := FindEvent([]string{
			"event Deposit(uint256 amount)",
			"event Deposit(address who, uint256 amount)",
		}, "Deposit")
		require.NoError(t, err)
		assert.Len(t, ev.Inputs, 1)
	})

	t.Run("no fragments", func(t *testing.T) {
		_, err := ParseEvents(nil)
		assert.True(t, errors.Is(err, ErrNoFragments))
	})

	t.Run("event not present", func(t *testing.T) {
		_, err := FindEvent([]string{transferFragment}, "Approval")
		assert.True(t, errors.Is(err, ErrEventNotFound))
	})

	t.Run("malformed fragments", func(t *testing.T) {
		bad := []string{
			"event Transfer(address indexed from",
			"event Transfer(notatype amount)",
			"event Transfer(uint256 indexed amount extra)",
			"event Transfer((uint256,bool) pair)",
			`{"type":"event","name":`,
		}
		for _, fragment := range bad {
			_, err := ParseEvents([]string{fragment})
			assert.Error(t, err, fragment)
		}
	})
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"uint":      "uint256",
		"int":       "int256",
		"uint[]":    "uint256[]",
		"int[2]":    "int256[2]",
		"uint8":     "uint8",
		"address":   "address",
		"bytes32":   "bytes32",
		"uint256[]": "uint256[]",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeType(in), in)
	}
}
