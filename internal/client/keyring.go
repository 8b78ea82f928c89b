package client

import "sync/atomic"

// KeyRotator hands out a channel's API keys round-robin.
type KeyRotator struct {
	keys []string
	next atomic.Uint64
}

func NewKeyRotator(keys []string) *KeyRotator {
	return &KeyRotator{keys: keys}
}

// Next returns the next key, or false when none are configured.
func (k *KeyRotator) Next() (string, bool) {
	if len(k.keys) == 0 {
		return "", false
	}
	i := k.next.Add(1) - 1
	return k.keys[i%uint64(len(k.keys))], true
}

func (k *KeyRotator) Len() int { return len(k.keys) }
