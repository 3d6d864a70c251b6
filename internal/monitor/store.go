package monitor

import (
	"sort"
	"sync"
	"time"
)

// =======================
// TABLE
// =======================

// Table is the authoritative in-memory queue state: queue id → ordered
// members, plus an extension → queues index for extension-wide updates.
// Records are never removed.
type Table struct {
	mu sync.RWMutex

	// queue → members
	queues map[string]*queueState

	// extension → queues containing it
	byExt map[string]map[string]struct{}

	names   map[string]string
	waiting map[string]int

	// extension → calls made today, tracked or not
	made map[string]int

	now func() time.Time
}

type queueState struct {
	members map[string]*MemberState
	order   []string
}

// NewTable returns an empty table. A nil clock means time.Now.
func NewTable(now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{
		queues:  make(map[string]*queueState),
		byExt:   make(map[string]map[string]struct{}),
		names:   make(map[string]string),
		waiting: make(map[string]int),
		made:    make(map[string]int),
		now:     now,
	}
}

// =======================
// HYDRATION
// =======================

// Hydrate seeds the table from the directory. callsMade carries today's
// persisted outbound counts per extension. Members are Unavailable until
// the manager reports otherwise. Existing records keep their live state.
// Seeds for extensions outside the directory are kept for members
// discovered later.
func (t *Table) Hydrate(dir Directory, callsMade map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ext, n := range callsMade {
		if n > t.made[ext] {
			t.made[ext] = n
		}
	}

	ids := make([]string, 0, len(dir))
	for id := range dir {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := t.now()
	for _, id := range ids {
		entry := dir[id]
		q := t.ensure(id)
		t.names[id] = entry.Name

		for _, dm := range entry.Members {
			if m, ok := q.members[dm.Extension]; ok {
				m.Name = dm.Name
				continue
			}
			m := &MemberState{
				Queue:     id,
				Member:    dm.Extension,
				Name:      dm.Name,
				CallsMade: t.made[dm.Extension],
				Timestamp: now,
			}
			m.SetStatus(StatusUnavailable)
			t.insert(q, m)
		}
	}
}

// =======================
// MUTATIONS
// =======================

// Upsert applies patch to the (queue, ext) record, creating it when the
// pair is unknown. nameHint names a newly discovered member; the extension
// is used when it is empty. Counters never move backwards.
func (t *Table) Upsert(queue, ext, nameHint string, patch func(m *MemberState)) MemberState {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.ensure(queue)
	m, ok := q.members[ext]
	if !ok {
		name := nameHint
		if name == "" {
			name = ext
		}
		m = &MemberState{Queue: queue, Member: ext, Name: name, CallsMade: t.made[ext]}
		m.SetStatus(StatusUnavailable)
		t.insert(q, m)
	}

	t.apply(m, patch)
	return *m
}

// UpdateExtension applies patch to the extension in every queue holding
// it and returns the updated records ordered by queue id. Unknown
// extensions yield nil.
func (t *Table) UpdateExtension(ext string, patch func(m *MemberState)) []MemberState {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.queuesOf(ext)
	if len(ids) == 0 {
		return nil
	}

	out := make([]MemberState, 0, len(ids))
	for _, id := range ids {
		m := t.queues[id].members[ext]
		t.apply(m, patch)
		out = append(out, *m)
	}
	return out
}

// RecordCall counts one outbound call for ext and returns the records
// holding it, ordered by queue id. The count is kept even when no queue
// tracks the extension yet.
func (t *Table) RecordCall(ext string) []MemberState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.made[ext]++
	n := t.made[ext]

	ids := t.queuesOf(ext)
	out := make([]MemberState, 0, len(ids))
	for _, id := range ids {
		m := t.queues[id].members[ext]
		t.apply(m, func(m *MemberState) { m.CallsMade = n })
		out = append(out, *m)
	}
	return out
}

// CallsMade returns the in-memory count for ext.
func (t *Table) CallsMade(ext string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.made[ext]
}

func (t *Table) apply(m *MemberState, patch func(m *MemberState)) {
	prevTaken, prevMade := m.CallsTaken, m.CallsMade
	queue, ext := m.Queue, m.Member

	if patch != nil {
		patch(m)
	}

	// identity and counters are owned by the table
	m.Queue, m.Member = queue, ext
	if m.CallsTaken < prevTaken {
		m.CallsTaken = prevTaken
	}
	if m.CallsMade < prevMade {
		m.CallsMade = prevMade
	}
	if m.CallsMade > t.made[ext] {
		t.made[ext] = m.CallsMade
	}
	m.StatusText = m.Status.Text()
	m.Timestamp = t.now()
}

// =======================
// CALLERS WAITING
// =======================

// SetWaiting stores an authoritative callers-waiting count.
func (t *Table) SetWaiting(queue string, n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(queue)
	if n < 0 {
		n = 0
	}
	t.waiting[queue] = n
	return n
}

// AdjustWaiting adds delta to the local count, flooring at zero.
func (t *Table) AdjustWaiting(queue string, delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensure(queue)
	n := t.waiting[queue] + delta
	if n < 0 {
		n = 0
	}
	t.waiting[queue] = n
	return n
}

func (t *Table) Waiting(queue string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.waiting[queue]
}

// =======================
// READS
// =======================

// Get returns the queue members in insertion order.
func (t *Table) Get(queue string) []MemberState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	q, ok := t.queues[queue]
	if !ok {
		return nil
	}
	return q.list()
}

// Member returns a single record.
func (t *Table) Member(queue, ext string) (MemberState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	q, ok := t.queues[queue]
	if !ok {
		return MemberState{}, false
	}
	m, ok := q.members[ext]
	if !ok {
		return MemberState{}, false
	}
	return *m, true
}

func (t *Table) AllQueues() map[string][]MemberState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allQueues()
}

// QueueIDs returns tracked queue ids sorted.
func (t *Table) QueueIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.queues))
	for id := range t.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Table) QueueNames() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queueNames()
}

// Snapshot captures queues, names and waiting counters atomically.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	waiting := make(map[string]int, len(t.waiting))
	for k, v := range t.waiting {
		waiting[k] = v
	}

	return Snapshot{
		Queues:     t.allQueues(),
		QueueNames: t.queueNames(),
		Stats:      SnapshotStats{CallsWaiting: waiting},
	}
}

// =======================
// INTERNAL
// =======================

func (t *Table) ensure(queue string) *queueState {
	q, ok := t.queues[queue]
	if !ok {
		q = &queueState{members: make(map[string]*MemberState)}
		t.queues[queue] = q
	}
	if _, ok := t.names[queue]; !ok {
		t.names[queue] = QueueLabel(queue)
	}
	return q
}

func (t *Table) queuesOf(ext string) []string {
	set := t.byExt[ext]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Table) insert(q *queueState, m *MemberState) {
	q.members[m.Member] = m
	q.order = append(q.order, m.Member)

	set, ok := t.byExt[m.Member]
	if !ok {
		set = make(map[string]struct{})
		t.byExt[m.Member] = set
	}
	set[m.Queue] = struct{}{}
}

func (t *Table) allQueues() map[string][]MemberState {
	out := make(map[string][]MemberState, len(t.queues))
	for id, q := range t.queues {
		out[id] = q.list()
	}
	return out
}

func (t *Table) queueNames() map[string]string {
	out := make(map[string]string, len(t.names))
	for k, v := range t.names {
		out[k] = v
	}
	return out
}

func (q *queueState) list() []MemberState {
	out := make([]MemberState, 0, len(q.order))
	for _, ext := range q.order {
		out = append(out, *q.members[ext])
	}
	return out
}
