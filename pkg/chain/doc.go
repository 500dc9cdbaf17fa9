// Package chain defines the contract between the subscription engine and the
// blockchain connection that delivers contract events.
//
// A Provider attaches one low-level listener per (address, ABI, event name)
// filter and hands every decoded log to the Handler supplied at attach time.
// Decoding is the provider's job: handlers receive argument values already
// keyed by ABI field name.
//
// Example usage:
//
//	att, err := provider.Attach(ctx, chain.Filter{
//		Address:   "0xdAC17F958D2ee523a2206206994597C13D831ec7",
//		ABI:       []string{"event Transfer(address indexed from, address indexed to, uint256 value)"},
//		EventName: "Transfer",
//	}, func(ev chain.Event) {
//		fmt.Println(ev.Args["value"])
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Detach(ctx, att)
//
// Events for one attachment are delivered sequentially, in the order the node
// produced them. There is no ordering guarantee across attachments.
package chain
