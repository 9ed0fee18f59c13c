// Package router implements the broker's topic-filter subscription table
// and retained-message store. Matching follows MQTT v5.0 4.7: `+` matches
// exactly one topic level, `#` (last character only) matches that level
// and all that follow, and a filter or topic beginning with `$` never
// matches a wildcard at its first level unless both share the same
// `$`-prefixed segment.
package router

import (
	"strings"
	"sync"
)

// SubscriptionOptions are the per-subscriber delivery options carried by a
// SUBSCRIBE packet's Subscription. MQTT v5.0 3.8.3.1.
type SubscriptionOptions struct {
	MaximumQoS        uint8
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
}

// Subscriber identifies one (ClientId, SubscriptionOptions) pair stored at
// a filter node.
type Subscriber struct {
	ClientID string
	Options  SubscriptionOptions
}

type node struct {
	mu       sync.RWMutex
	children map[string]*node
	subs     map[string]Subscriber // keyed by ClientID
}

func newNode() *node {
	return &node{children: make(map[string]*node), subs: make(map[string]Subscriber)}
}

// Table is the subscription table: a trie over topic-filter path
// segments. Safe for concurrent use.
type Table struct {
	root *node
}

func NewTable() *Table {
	return &Table{root: newNode()}
}

func splitLevels(topic string) []string {
	return strings.Split(topic, "/")
}

// Insert replaces any prior entry for (filter, client) with opts.
func (t *Table) Insert(filter string, clientID string, opts SubscriptionOptions) error {
	if filter == "" {
		return ErrEmptyFilter
	}
	levels := splitLevels(filter)
	for i, level := range levels {
		if level == "" {
			continue
		}
		if level == "#" && i != len(levels)-1 {
			return ErrMalformedFilter
		}
		if (strings.Contains(level, "+") || strings.Contains(level, "#")) && level != "+" && level != "#" {
			return ErrMalformedFilter
		}
	}

	current := t.root
	for _, level := range levels {
		current.mu.Lock()
		next, ok := current.children[level]
		if !ok {
			next = newNode()
			current.children[level] = next
		}
		current.mu.Unlock()
		current = next
	}
	current.mu.Lock()
	current.subs[clientID] = Subscriber{ClientID: clientID, Options: opts}
	current.mu.Unlock()
	return nil
}

// Remove deletes the (filter, client) subscription, if present. It
// reports whether that subscription existed (there is at most one per
// filter and client, since Insert replaces in place).
func (t *Table) Remove(filter string, clientID string) bool {
	levels := splitLevels(filter)
	current := t.root
	path := []*node{current}
	for _, level := range levels {
		current.mu.RLock()
		next, ok := current.children[level]
		current.mu.RUnlock()
		if !ok {
			return false
		}
		current = next
		path = append(path, current)
	}
	current.mu.Lock()
	_, existed := current.subs[clientID]
	delete(current.subs, clientID)
	current.mu.Unlock()
	t.pruneEmpty(path, levels)
	return existed
}

// pruneEmpty removes trailing empty nodes walked during Remove, innermost
// first, so a trie with no active subscriptions doesn't grow unbounded.
func (t *Table) pruneEmpty(path []*node, levels []string) {
	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		n.mu.RLock()
		empty := len(n.subs) == 0 && len(n.children) == 0
		n.mu.RUnlock()
		if !empty {
			return
		}
		parent := path[i-1]
		parent.mu.Lock()
		delete(parent.children, levels[i-1])
		parent.mu.Unlock()
	}
}

// RemoveClient removes every subscription belonging to clientID, walking
// the whole trie. Used on session close.
func (t *Table) RemoveClient(clientID string) {
	t.root.removeClient(clientID)
}

func (n *node) removeClient(clientID string) {
	n.mu.Lock()
	delete(n.subs, clientID)
	children := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	n.mu.Unlock()
	for _, c := range children {
		c.removeClient(clientID)
	}
}

// Count reports the total number of (filter, client) subscription entries
// currently held across the whole trie.
func (t *Table) Count() int {
	return countNode(t.root)
}

func countNode(n *node) int {
	n.mu.RLock()
	total := len(n.subs)
	children := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	n.mu.RUnlock()
	for _, c := range children {
		total += countNode(c)
	}
	return total
}

// Match returns every subscriber whose filter matches topic, per
// MQTT v5.0 4.7's wildcard rules. A topic beginning with `$` only matches
// filters that begin with the identical `$`-prefixed segment; `+` and `#`
// never match a leading `$` segment.
func (t *Table) Match(topic string) []Subscriber {
	levels := splitLevels(topic)
	var out []Subscriber
	dollarTopic := strings.HasPrefix(topic, "$")
	match(t.root, levels, dollarTopic, 0, &out)
	return out
}

func match(n *node, levels []string, dollarTopic bool, depth int, out *[]Subscriber) {
	if len(levels) == 0 {
		n.mu.RLock()
		for _, s := range n.subs {
			*out = append(*out, s)
		}
		// A `#` filter also matches the level immediately above it
		// (e.g. `a/#` matches `a`, not just `a/b`, `a/b/c`, ...), except
		// against the first level of a `$`-prefixed topic.
		var hash *node
		if !(dollarTopic && depth == 0) {
			hash = n.children["#"]
		}
		n.mu.RUnlock()
		if hash != nil {
			hash.mu.RLock()
			for _, s := range hash.subs {
				*out = append(*out, s)
			}
			hash.mu.RUnlock()
		}
		return
	}

	level, rest := levels[0], levels[1:]

	n.mu.RLock()
	exact, hasExact := n.children[level]
	plus, hasPlus := n.children["+"]
	hash, hasHash := n.children["#"]
	n.mu.RUnlock()

	if hasExact {
		match(exact, rest, dollarTopic, depth+1, out)
	}
	// `+` and `#` never match the first level of a `$`-prefixed topic.
	if dollarTopic && depth == 0 {
		return
	}
	if hasPlus {
		match(plus, rest, dollarTopic, depth+1, out)
	}
	if hasHash {
		hash.mu.RLock()
		for _, s := range hash.subs {
			*out = append(*out, s)
		}
		hash.mu.RUnlock()
	}
}
