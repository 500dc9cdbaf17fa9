// Package registry implements the Event Registry contract from pkg/registry.
package registry
