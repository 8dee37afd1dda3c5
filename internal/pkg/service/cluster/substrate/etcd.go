package substrate

import (
	"context"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/idgenerator"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/utils/errors"
)

// eventsPrefix is the key namespace backing the pub/sub channels.
const eventsPrefix = "events/"

// etcdClient implements Client on top of etcd.
// TTL is mapped to leases, Create/Update/DeleteIfRevision to version and
// mod-revision transactions, Publish/Subscribe to short-lived keys watched
// under the events prefix.
type etcdClient struct {
	logger   log.Logger
	client   *etcd.Client
	timeout  time.Duration
	eventTTL time.Duration
}

// NewEtcd creates the etcd backend. Published events stay in the store for
// the eventTTL delivery window only.
func NewEtcd(logger log.Logger, client *etcd.Client, operationTimeout, eventTTL time.Duration) Client {
	return &etcdClient{
		logger:   logger.WithComponent("substrate"),
		client:   client,
		timeout:  operationTimeout,
		eventTTL: eventTTL,
	}
}

func kvFromEtcd(kv *mvccpb.KeyValue) *KV {
	return &KV{
		Key:         string(kv.Key),
		Value:       kv.Value,
		ModRevision: kv.ModRevision,
	}
}

func (c *etcdClient) Get(ctx context.Context, key string) (*KV, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	r, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, c.mapError("get", err)
	}
	if r.Count == 0 {
		return nil, nil
	}
	return kvFromEtcd(r.Kvs[0]), nil
}

func (c *etcdClient) GetPrefix(ctx context.Context, prefix string) ([]KV, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	r, err := c.client.Get(ctx, prefix, etcd.WithPrefix())
	if err != nil {
		return nil, c.mapError("get prefix", err)
	}
	out := make([]KV, 0, len(r.Kvs))
	for _, kv := range r.Kvs {
		out = append(out, *kvFromEtcd(kv))
	}
	return out, nil
}

func (c *etcdClient) Count(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	r, err := c.client.Get(ctx, prefix, etcd.WithPrefix(), etcd.WithCountOnly())
	if err != nil {
		return 0, c.mapError("count", err)
	}
	return r.Count, nil
}

func (c *etcdClient) Put(ctx context.Context, key string, value []byte, opts ...PutOption) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	etcdOpts, err := c.putOpts(ctx, newPutConfig(opts))
	if err != nil {
		return err
	}
	if _, err := c.client.Put(ctx, key, string(value), etcdOpts...); err != nil {
		return c.mapError("put", err)
	}
	return nil
}

func (c *etcdClient) Create(ctx context.Context, key string, value []byte, opts ...PutOption) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	etcdOpts, err := c.putOpts(ctx, newPutConfig(opts))
	if err != nil {
		return false, err
	}
	r, err := c.client.Txn(ctx).
		If(etcd.Compare(etcd.Version(key), "=", 0)).
		Then(etcd.OpPut(key, string(value), etcdOpts...)).
		Commit()
	if err != nil {
		return false, c.mapError("create", err)
	}
	return r.Succeeded, nil
}

func (c *etcdClient) Update(ctx context.Context, key string, value []byte, modRevision int64, opts ...PutOption) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	etcdOpts, err := c.putOpts(ctx, newPutConfig(opts))
	if err != nil {
		return false, err
	}
	r, err := c.client.Txn(ctx).
		If(etcd.Compare(etcd.ModRevision(key), "=", modRevision)).
		Then(etcd.OpPut(key, string(value), etcdOpts...)).
		Commit()
	if err != nil {
		return false, c.mapError("update", err)
	}
	return r.Succeeded, nil
}

func (c *etcdClient) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	r, err := c.client.Delete(ctx, key)
	if err != nil {
		return false, c.mapError("delete", err)
	}
	return r.Deleted > 0, nil
}

func (c *etcdClient) DeleteIfRevision(ctx context.Context, key string, modRevision int64) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	r, err := c.client.Txn(ctx).
		If(etcd.Compare(etcd.ModRevision(key), "=", modRevision)).
		Then(etcd.OpDelete(key)).
		Commit()
	if err != nil {
		return false, c.mapError("delete if revision", err)
	}
	return r.Succeeded, nil
}

func (c *etcdClient) Publish(ctx context.Context, channel string, payload []byte) error {
	key := eventsPrefix + channel + "/" + idgenerator.MessageId()
	return c.Put(ctx, key, payload, WithTTL(c.eventTTL))
}

func (c *etcdClient) Subscribe(ctx context.Context, channel string) <-chan Message {
	out := make(chan Message)
	rawCh := c.client.Watch(ctx, eventsPrefix+channel+"/", etcd.WithPrefix())
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-rawCh:
				if !ok {
					return
				}
				if err := resp.Err(); err != nil {
					c.logger.Warnf(ctx, `subscription to "%s" failed: %s`, channel, err)
					continue
				}
				for _, event := range resp.Events {
					// Expirations of delivered events are not messages.
					if event.Type != mvccpb.PUT {
						continue
					}
					select {
					case out <- Message{Channel: channel, Payload: event.Kv.Value}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func (c *etcdClient) putOpts(ctx context.Context, cfg putConfig) ([]etcd.OpOption, error) {
	if cfg.ttl <= 0 {
		return nil, nil
	}
	seconds := int64(cfg.ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := c.client.Grant(ctx, seconds)
	if err != nil {
		return nil, c.mapError("grant lease", err)
	}
	return []etcd.OpOption{etcd.WithLease(lease.ID)}, nil
}

func (c *etcdClient) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *etcdClient) mapError(operation string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.PrefixErrorf(ErrUnavailable, `etcd operation "%s" failed: %s`, operation, err)
}
