package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/chain"
)

// DecodeLog decodes a raw log emitted as ev into a chain.Event.
func DecodeLog(ev abi.Event, log types.Log) (chain.Event, error) {
	args := make(map[string]any, len(ev.Inputs))

	topics := log.Topics
	if !ev.Anonymous {
		if len(topics) == 0 {
			return chain.Event{}, fmt.Errorf("log has no topics")
		}
		if topics[0] != ev.ID {
			return chain.Event{}, fmt.Errorf("log topic %s does not match event %s", topics[0].Hex(), ev.Sig)
		}
		topics = topics[1:]
	}

	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, topics); err != nil {
			return chain.Event{}, fmt.Errorf("failed to decode indexed fields of %s: %w", ev.Name, err)
		}
	}

	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.UnpackIntoMap(args, log.Data); err != nil {
			return chain.Event{}, fmt.Errorf("failed to decode data of %s: %w", ev.Name, err)
		}
	}

	return chain.Event{
		Address:     log.Address.Hex(),
		EventName:   ev.RawName,
		Args:        args,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		Removed:     log.Removed,
	}, nil
}
