package schema

import (
	"context"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/service/cluster/substrate"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// Key represents one substrate key, not a prefix.
type Key string

// Prefix represents a substrate keys prefix, not a single key.
type Prefix string

// KeyT extends Key with the type of the serialized value.
type KeyT[T any] struct {
	key   Key
	serde *Serde
}

// PrefixT extends Prefix with the type of the serialized value.
type PrefixT[T any] struct {
	prefix Prefix
	serde  *Serde
}

// KeyValueT is a decoded value together with its substrate revision,
// the revision is the token for compare-and-swap writes.
type KeyValueT[T any] struct {
	Value       T
	Key         string
	ModRevision int64
}

func (v Key) Key() string {
	return string(v)
}

func (v Prefix) Prefix() string {
	return string(v) + "/"
}

func (v Prefix) Add(str string) Prefix {
	return Prefix(v.Prefix() + str)
}

func (v Prefix) Key(key string) Key {
	return Key(v.Prefix() + key)
}

func NewTypedPrefix[T any](v Prefix, s *Serde) PrefixT[T] {
	return PrefixT[T]{prefix: v, serde: s}
}

func (v PrefixT[T]) Prefix() string {
	return v.prefix.Prefix()
}

func (v PrefixT[T]) Add(str string) PrefixT[T] {
	return PrefixT[T]{prefix: v.prefix.Add(str), serde: v.serde}
}

func (v PrefixT[T]) Key(key string) KeyT[T] {
	return KeyT[T]{key: v.prefix.Key(key), serde: v.serde}
}

func (v KeyT[T]) Key() string {
	return v.key.Key()
}

// Get returns the decoded value, or nil if the key is absent or expired.
func (v KeyT[T]) Get(ctx context.Context, client substrate.Client) (*KeyValueT[T], error) {
	kv, err := client.Get(ctx, v.Key())
	if err != nil {
		return nil, err
	}
	if kv == nil {
		return nil, nil
	}
	target := new(T)
	if err := v.serde.Decode(ctx, kv.Value, target); err != nil {
		return nil, invalidValueError(v.Key(), err)
	}
	return &KeyValueT[T]{Value: *target, Key: kv.Key, ModRevision: kv.ModRevision}, nil
}

func (v KeyT[T]) Put(ctx context.Context, client substrate.Client, value T, opts ...substrate.PutOption) error {
	data, err := v.serde.Encode(ctx, &value)
	if err != nil {
		return invalidValueError(v.Key(), err)
	}
	return client.Put(ctx, v.Key(), data, opts...)
}

// Create writes the value only if the key does not exist.
func (v KeyT[T]) Create(ctx context.Context, client substrate.Client, value T, opts ...substrate.PutOption) (bool, error) {
	data, err := v.serde.Encode(ctx, &value)
	if err != nil {
		return false, invalidValueError(v.Key(), err)
	}
	return client.Create(ctx, v.Key(), data, opts...)
}

// Update writes the value only if the key revision is unchanged.
func (v KeyT[T]) Update(ctx context.Context, client substrate.Client, value T, modRevision int64, opts ...substrate.PutOption) (bool, error) {
	data, err := v.serde.Encode(ctx, &value)
	if err != nil {
		return false, invalidValueError(v.Key(), err)
	}
	return client.Update(ctx, v.Key(), data, modRevision, opts...)
}

func (v KeyT[T]) Delete(ctx context.Context, client substrate.Client) (bool, error) {
	return client.Delete(ctx, v.Key())
}

func (v KeyT[T]) DeleteIfRevision(ctx context.Context, client substrate.Client, modRevision int64) (bool, error) {
	return client.DeleteIfRevision(ctx, v.Key(), modRevision)
}

// GetAll returns all decoded values under the prefix, in undefined order.
func (v PrefixT[T]) GetAll(ctx context.Context, client substrate.Client) ([]KeyValueT[T], error) {
	kvs, err := client.GetPrefix(ctx, v.Prefix())
	if err != nil {
		return nil, err
	}
	out := make([]KeyValueT[T], 0, len(kvs))
	for _, kv := range kvs {
		target := new(T)
		if err := v.serde.Decode(ctx, kv.Value, target); err != nil {
			return nil, invalidValueError(kv.Key, err)
		}
		out = append(out, KeyValueT[T]{Value: *target, Key: kv.Key, ModRevision: kv.ModRevision})
	}
	return out, nil
}

func (v PrefixT[T]) Count(ctx context.Context, client substrate.Client) (int64, error) {
	return client.Count(ctx, v.Prefix())
}

func invalidValueError(key string, err error) error {
	return errors.PrefixErrorf(err, `invalid value for "%s"`, key)
}
