package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/crm-intake-bot/internal/domain"
)

// ticketSnapshot is the on-disk layout: the records plus the ID counter that
// keeps IDs unique across restarts.
type ticketSnapshot struct {
	NextID int64                    `json:"next_id"`
	Items  map[int64]*domain.Ticket `json:"items"`
}

// memoryTicketRepository keeps tickets in an in-process table. Mutations of
// a single ticket are serialized by a lock keyed by ticket ID; claims on
// different tickets never wait for each other's check-and-set. When a
// snapshot path is configured every mutation is written through to disk
// before it becomes visible, so a failed write leaves the table unchanged.
type memoryTicketRepository struct {
	path string

	keyLocks sync.Map // int64 -> *sync.Mutex

	mu     sync.RWMutex
	items  map[int64]*domain.Ticket
	nextID int64

	// writeMu serializes snapshot writes and ID allocation.
	writeMu sync.Mutex

	now func() time.Time
}

// NewMemoryTicketRepository loads the snapshot at path (if any) and returns a
// repository writing through to it. An empty path keeps tickets in memory only.
func NewMemoryTicketRepository(path string) (TicketRepository, error) {
	r := &memoryTicketRepository{
		path:   strings.TrimSpace(path),
		items:  map[int64]*domain.Ticket{},
		nextID: 1,
		now:    time.Now,
	}
	snapshot, err := r.load()
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	if snapshot != nil {
		if snapshot.Items != nil {
			r.items = snapshot.Items
		}
		for id, ticket := range r.items {
			if ticket.Copies == nil {
				ticket.Copies = map[domain.SurfaceKey]domain.MessageRef{}
			}
			if id >= snapshot.NextID {
				snapshot.NextID = id + 1
			}
		}
		if snapshot.NextID > r.nextID {
			r.nextID = snapshot.NextID
		}
	}
	return r, nil
}

func (r *memoryTicketRepository) Create(ctx context.Context, input TicketCreate) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	id := r.nextID
	r.mu.RUnlock()

	ticket := &domain.Ticket{
		ID:             id,
		Type:           input.Type,
		ReporterName:   input.ReporterName,
		ReporterModule: input.ReporterModule,
		Category:       input.Category,
		Description:    input.Description,
		Status:         domain.TicketStatusNew,
		Copies:         map[domain.SurfaceKey]domain.MessageRef{},
		CreatedAt:      r.now().UTC(),
	}
	if err := r.commitLocked(ticket, id+1); err != nil {
		return nil, err
	}
	out := ticket.Clone()
	return &out, nil
}

func (r *memoryTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ticket, ok := r.current(id)
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	return &ticket, nil
}

func (r *memoryTicketRepository) RecordNotificationCopy(ctx context.Context, id int64, surface domain.SurfaceKey, ref domain.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.lockKey(id)
	defer unlock()

	ticket, ok := r.current(id)
	if !ok {
		return domain.ErrTicketNotFound
	}
	if existing, ok := ticket.Copies[surface]; ok && existing == ref {
		return nil
	}
	ticket.Copies[surface] = ref
	return r.commit(&ticket)
}

func (r *memoryTicketRepository) Claim(ctx context.Context, id int64, claimant domain.Claimant) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.lockKey(id)
	defer unlock()

	ticket, ok := r.current(id)
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	if ticket.Status != domain.TicketStatusNew {
		return nil, &domain.AlreadyClaimedError{
			TicketID:    id,
			ClaimedBy:   ticket.ClaimedBy,
			ClaimedByID: ticket.ClaimedByID,
		}
	}

	claimedAt := r.now().UTC()
	ticket.Status = domain.TicketStatusInProgress
	ticket.ClaimedBy = claimant.Name
	ticket.ClaimedByID = claimant.ID
	ticket.ClaimedAt = &claimedAt
	if err := r.commit(&ticket); err != nil {
		return nil, err
	}
	out := ticket.Clone()
	return &out, nil
}

func (r *memoryTicketRepository) CountByStatus(ctx context.Context) (map[domain.TicketStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[domain.TicketStatus]int{}
	for _, ticket := range r.items {
		counts[ticket.Status]++
	}
	return counts, nil
}

func (r *memoryTicketRepository) lockKey(id int64) func() {
	lock, _ := r.keyLocks.LoadOrStore(id, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// current returns a private copy of the committed ticket.
func (r *memoryTicketRepository) current(id int64) (domain.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ticket, ok := r.items[id]
	if !ok {
		return domain.Ticket{}, false
	}
	return ticket.Clone(), true
}

func (r *memoryTicketRepository) commit(ticket *domain.Ticket) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	nextID := r.nextID
	r.mu.RUnlock()
	return r.commitLocked(ticket, nextID)
}

// commitLocked persists the table with ticket replaced and only then
// publishes the new version. Callers hold writeMu.
func (r *memoryTicketRepository) commitLocked(ticket *domain.Ticket, nextID int64) error {
	stored := ticket.Clone()
	if r.path != "" {
		r.mu.RLock()
		items := make(map[int64]*domain.Ticket, len(r.items)+1)
		for id, t := range r.items {
			items[id] = t
		}
		r.mu.RUnlock()
		items[stored.ID] = &stored
		if err := r.save(ticketSnapshot{NextID: nextID, Items: items}); err != nil {
			return fmt.Errorf("persist tickets: %w", err)
		}
	}

	r.mu.Lock()
	r.items[stored.ID] = &stored
	r.nextID = nextID
	r.mu.Unlock()
	return nil
}

func (r *memoryTicketRepository) load() (*ticketSnapshot, error) {
	if r.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot ticketSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *memoryTicketRepository) save(snapshot ticketSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(r.path, data)
}

// writeFileAtomic replaces path via a temporary file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
