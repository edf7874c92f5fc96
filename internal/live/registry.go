package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/organvm-vi-koinonia/community-hub/internal/domain"
	"github.com/organvm-vi-koinonia/community-hub/internal/metrics"
)

// Registry is the authoritative room -> membership mapping. The outer lock
// guards the room map and the member index; each room carries its own lock
// so broadcasts to different rooms proceed in parallel. Lock order is always
// registry before room, and neither lock is ever held across a socket write.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	index map[uuid.UUID]string // member id -> room id

	clock clockwork.Clock

	maxClientsPerRoom int
	echoSender        bool
}

// room serializes membership mutation and broadcast iteration for one room.
type room struct {
	mu      sync.Mutex
	members map[uuid.UUID]domain.Member
}

// NewRegistry creates an empty registry. maxClientsPerRoom caps each room's
// membership; echoSender controls whether a sender receives its own
// broadcasts.
func NewRegistry(clock clockwork.Clock, maxClientsPerRoom int, echoSender bool) *Registry {
	return &Registry{
		rooms:             make(map[string]*room),
		index:             make(map[uuid.UUID]string),
		clock:             clock,
		maxClientsPerRoom: maxClientsPerRoom,
		echoSender:        echoSender,
	}
}

// Join adds m to roomID, creating the room if absent.
func (r *Registry) Join(roomID string, m domain.Member) error {
	r.mu.Lock()
	if _, dup := r.index[m.ID()]; dup {
		r.mu.Unlock()
		return domain.ErrAlreadyMember
	}

	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{members: make(map[uuid.UUID]domain.Member)}
		r.rooms[roomID] = rm
	}

	rm.mu.Lock()
	if len(rm.members) >= r.maxClientsPerRoom {
		rm.mu.Unlock()
		r.mu.Unlock()
		return domain.ErrRoomFull
	}
	rm.members[m.ID()] = m
	count := len(rm.members)
	rm.mu.Unlock()

	r.index[m.ID()] = roomID
	roomCount := len(r.rooms)
	r.mu.Unlock()

	metrics.LiveActiveRooms.Set(float64(roomCount))
	metrics.LiveConnectedClients.Inc()
	slog.Info("participant joined room", "room", roomID, "connected", count)

	r.announce(roomID, fmt.Sprintf("A participant joined. %d connected.", count), count)
	return nil
}

// Leave removes m from roomID. Removing an absent member is a safe no-op,
// which makes the call idempotent across racing teardown triggers. The last
// leave drops the room entirely.
func (r *Registry) Leave(roomID string, m domain.Member) {
	r.mu.Lock()
	rm, exists := r.rooms[roomID]
	if !exists {
		r.mu.Unlock()
		return
	}

	rm.mu.Lock()
	_, present := rm.members[m.ID()]
	delete(rm.members, m.ID())
	count := len(rm.members)
	rm.mu.Unlock()

	if !present {
		r.mu.Unlock()
		return
	}

	delete(r.index, m.ID())
	if count == 0 {
		delete(r.rooms, roomID)
	}
	roomCount := len(r.rooms)
	r.mu.Unlock()

	metrics.LiveActiveRooms.Set(float64(roomCount))
	metrics.LiveConnectedClients.Dec()

	if count == 0 {
		slog.Info("room empty, removed", "room", roomID)
		return
	}
	slog.Info("participant left room", "room", roomID, "remaining", count)
	r.announce(roomID, fmt.Sprintf("A participant left. %d connected.", count), count)
}

// Broadcast escapes text and fans it out to the room. Returns the number of
// successful deliveries. The sender is included unless the registry was
// configured otherwise.
func (r *Registry) Broadcast(roomID string, sender domain.Member, text string) int {
	sanitized := html.EscapeString(strings.TrimSpace(text))
	if sanitized == "" {
		return 0
	}

	frame, err := json.Marshal(domain.NewChatMessage(sender.Identity(), sanitized, r.clock.Now()))
	if err != nil {
		slog.Error("failed to marshal broadcast message", "error", err)
		return 0
	}

	exclude := uuid.Nil
	if !r.echoSender {
		exclude = sender.ID()
	}

	metrics.LiveMessagesBroadcastTotal.Inc()
	return r.fanOut(roomID, frame, exclude)
}

// ParticipantCount reports current membership for roomID, 0 if unknown.
func (r *Registry) ParticipantCount(roomID string) int {
	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Members snapshots every connected member across all rooms, for the
// keepalive sweep and shutdown.
func (r *Registry) Members() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Member
	for _, rm := range r.rooms {
		rm.mu.Lock()
		for _, m := range rm.members {
			all = append(all, m)
		}
		rm.mu.Unlock()
	}
	return all
}

// CloseAll evicts every member, for server shutdown.
func (r *Registry) CloseAll(reason string) {
	members := r.Members()
	slog.Info("closing all live connections", "count", len(members), "reason", reason)
	for _, m := range members {
		m.Evict(reason)
	}
}

// announce broadcasts a system notice to the room.
func (r *Registry) announce(roomID, text string, count int) {
	frame, err := json.Marshal(domain.NewSystemNotice(text, count))
	if err != nil {
		slog.Error("failed to marshal system notice", "error", err)
		return
	}
	r.fanOut(roomID, frame, uuid.Nil)
}

// fanOut delivers frame to every member of roomID except exclude. Holding
// only the room lock keeps unrelated rooms fully parallel while a join or
// leave can never interleave with the iteration. Deliveries are non-blocking
// enqueues; members that fail are evicted after the lock is released so
// their teardown can re-enter Leave.
func (r *Registry) fanOut(roomID string, frame []byte, exclude uuid.UUID) int {
	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}

	var failed []domain.Member
	delivered := 0

	rm.mu.Lock()
	for id, m := range rm.members {
		if id == exclude {
			continue
		}
		if err := m.Deliver(frame); err != nil {
			metrics.LiveDeliveryFailuresTotal.Inc()
			if errors.Is(err, domain.ErrSendBufferFull) {
				failed = append(failed, m)
			}
			// ErrConnectionClosed is a benign race: the member is mid-teardown
			// and will leave on its own.
			continue
		}
		delivered++
	}
	rm.mu.Unlock()

	for _, m := range failed {
		slog.Warn("evicting slow room member", "room", roomID, "member", m.ID().String())
		metrics.LiveSlowClientsEvictedTotal.Inc()
		m.Evict("connection too slow")
	}

	metrics.LiveDeliveriesTotal.Add(float64(delivered))
	return delivered
}
