package graph

import (
	"fmt"

	"github.com/23skdu/longbow-windlass/internal/metrics"
	"github.com/23skdu/longbow-windlass/internal/tensor"
)

// KVCache holds the per-layer key and value rows of every position
// evaluated so far. Rows are written during a forward pass, but the
// committed length only moves in Advance once the pass succeeds, so a
// failed evaluation leaves no trace.
type KVCache struct {
	layers   int
	dim      int
	capacity int
	length   int

	k []*tensor.Tensor
	v []*tensor.Tensor
}

// NewKVCache allocates a cache of capacity positions for each layer,
// each row dim wide.
func NewKVCache(layers, dim, capacity int) (*KVCache, error) {
	if layers <= 0 || dim <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("graph: cache shape %d/%d/%d must be positive", layers, dim, capacity)
	}
	c := &KVCache{layers: layers, dim: dim, capacity: capacity}
	c.k = make([]*tensor.Tensor, layers)
	c.v = make([]*tensor.Tensor, layers)
	for l := 0; l < layers; l++ {
		c.k[l] = tensor.New(capacity, dim)
		c.v[l] = tensor.New(capacity, dim)
	}
	metrics.RecordKVCacheStats(int64(c.Bytes()), 0)
	return c, nil
}

func (c *KVCache) Capacity() int { return c.capacity }
func (c *KVCache) Dim() int      { return c.dim }
func (c *KVCache) Layers() int   { return c.layers }

// Len is the committed sequence length.
func (c *KVCache) Len() int { return c.length }

// Bytes is the allocated cache footprint.
func (c *KVCache) Bytes() int { return c.layers * c.capacity * c.dim * 2 * 4 }

// Put stores one position's key and value rows for a layer. Writing at
// or beyond the committed length is how a pass stages new positions;
// writing below it overwrites history and is also legal, since a caller
// rewinding with Advance re-evaluates from there.
func (c *KVCache) Put(layer, pos int, key, value []float32) error {
	if layer < 0 || layer >= c.layers {
		return fmt.Errorf("graph: layer %d outside cache of %d layers", layer, c.layers)
	}
	if pos < 0 || pos >= c.capacity {
		return fmt.Errorf("graph: position %d outside cache capacity %d", pos, c.capacity)
	}
	if len(key) != c.dim || len(value) != c.dim {
		return fmt.Errorf("graph: row width %d/%d, cache dim %d", len(key), len(value), c.dim)
	}
	copy(c.k[layer].Row(pos), key)
	copy(c.v[layer].Row(pos), value)
	return nil
}

// KeyRow returns the stored key row. The slice aliases cache memory.
func (c *KVCache) KeyRow(layer, pos int) []float32 {
	return c.k[layer].Row(pos)
}

// ValueRow returns the stored value row. The slice aliases cache memory.
func (c *KVCache) ValueRow(layer, pos int) []float32 {
	return c.v[layer].Row(pos)
}

// Advance commits the sequence length after a successful pass. Moving
// backward rewinds the sequence, which invalidates nothing physically;
// later positions are simply overwritten by the next pass.
func (c *KVCache) Advance(to int) error {
	if to < 0 || to > c.capacity {
		return fmt.Errorf("graph: cannot advance cache to %d with capacity %d", to, c.capacity)
	}
	if to > c.length {
		metrics.RecordKVCacheAppend(to - c.length)
	}
	c.length = to
	metrics.RecordKVCacheStats(int64(c.Bytes()), int64(c.length*c.dim*c.layers*2*4))
	return nil
}

// Reset drops the committed sequence without touching storage.
func (c *KVCache) Reset() {
	c.length = 0
	metrics.RecordKVCacheStats(int64(c.Bytes()), 0)
}
