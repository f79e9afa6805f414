// Package realtime fans vehicle updates out to subscriber groups. Groups are
// per-tenant, plus a distinguished global group for cross-tenant observers.
package realtime

import (
    "sync"
)

// GlobalAdminGroup receives every published update regardless of tenant.
const GlobalAdminGroup = "admin_global"

// TenantGroup names the subscriber group for a tenant.
func TenantGroup(tenantID string) string { return "tenant_" + tenantID }

type GroupEvent struct {
    Type string
    Data map[string]any
}

// GroupBroker delivers events to every member of a group. Delivery is
// best-effort: a slow or dead member must never block the publisher or the
// other members.
type GroupBroker interface {
    Subscribe(group string) chan GroupEvent
    Unsubscribe(group string, ch chan GroupEvent)
    Publish(group string, evt GroupEvent)
}

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan GroupEvent]struct{} // group -> set of channels
    // onDrop is invoked when a member's buffer is full and an event is
    // discarded for it; used to feed metrics.
    onDrop func(group string)
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan GroupEvent]struct{}{}}
}

// OnDrop installs a callback for dropped deliveries. Call before use.
func (b *Broker) OnDrop(fn func(group string)) { b.onDrop = fn }

func (b *Broker) Subscribe(group string) chan GroupEvent {
    ch := make(chan GroupEvent, 16)
    b.mu.Lock()
    if b.subs[group] == nil { b.subs[group] = map[chan GroupEvent]struct{}{} }
    b.subs[group][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(group string, ch chan GroupEvent) {
    b.mu.Lock()
    if m := b.subs[group]; m != nil {
        if _, ok := m[ch]; !ok {
            // unknown connection: no-op
            b.mu.Unlock()
            return
        }
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, group) }
    } else {
        b.mu.Unlock()
        return
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(group string, evt GroupEvent) {
    b.mu.Lock()
    m := b.subs[group]
    for ch := range m {
        select {
        case ch <- evt:
        default:
            if b.onDrop != nil { b.onDrop(group) }
        }
    }
    b.mu.Unlock()
}
