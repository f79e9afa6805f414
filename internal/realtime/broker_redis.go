package realtime

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements GroupBroker over Redis Pub/Sub so updates reach
// subscribers on every API instance.
type RedisBroker struct {
    rdb *redis.Client
    mu  sync.Mutex
    ps  map[chan GroupEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opt)
    return &RedisBroker{rdb: rdb, ps: map[chan GroupEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) chanName(group string) string { return "fleet:" + group }

func (b *RedisBroker) Subscribe(group string) chan GroupEvent {
    ch := make(chan GroupEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(group))
    // initial consume to ensure subscription
    _, _ = ps.Receive(ctx)
    b.mu.Lock()
    b.ps[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt GroupEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

func (b *RedisBroker) Unsubscribe(group string, ch chan GroupEvent) {
    b.mu.Lock()
    ps := b.ps[ch]
    delete(b.ps, ch)
    b.mu.Unlock()
    if ps == nil { return }
    // Closing the PubSub ends ps.Channel(), which closes ch in the reader
    // goroutine.
    _ = ps.Close()
}

func (b *RedisBroker) Publish(group string, evt GroupEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    _ = b.rdb.Publish(ctx, b.chanName(group), data).Err()
}
