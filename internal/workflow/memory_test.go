package workflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/docflow/docflow/internal/funds"
	"github.com/docflow/docflow/internal/notify"
	"github.com/docflow/docflow/internal/platform/db"
	"github.com/docflow/docflow/internal/shared"
	"github.com/docflow/docflow/internal/signatory"
)

// memoryState is everything a memoryRepo stores; it is copied wholesale to emulate rollback.
type memoryState struct {
	docs     map[int64]Document
	steps    map[int64][]Step
	history  []HistoryEntry
	balances map[string]funds.Balance
	ledger   []funds.LedgerEntry
	notes    []notify.Notification
	nextID   int64
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		docs:     make(map[int64]Document, len(s.docs)),
		steps:    make(map[int64][]Step, len(s.steps)),
		history:  append([]HistoryEntry(nil), s.history...),
		balances: make(map[string]funds.Balance, len(s.balances)),
		ledger:   append([]funds.LedgerEntry(nil), s.ledger...),
		notes:    append([]notify.Notification(nil), s.notes...),
		nextID:   s.nextID,
	}
	for k, v := range s.docs {
		c.docs[k] = v
	}
	for k, v := range s.steps {
		c.steps[k] = append([]Step(nil), v...)
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

// memoryRepo is an in-memory RepositoryPort. Transactions are serialised by a mutex, which
// stands in for the document row lock, and roll back by restoring a snapshot.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState

	// transientFailures makes the next N transaction attempts fail with a serialization error
	// right before commit.
	transientFailures int
	// failNotifications makes notification inserts fail.
	failNotifications error
	attempts          int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{
		docs:     map[int64]Document{},
		steps:    map[int64][]Step{},
		balances: map[string]funds.Balance{},
	}}
}

func (m *memoryRepo) seedBalance(dept string, amount int64) {
	m.state.balances[dept] = funds.Balance{DepartmentID: dept, InitialAmount: decimal.NewFromInt(amount), CurrentBalance: decimal.NewFromInt(amount)}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.Retry(ctx, db.TxOptions{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.attempts++
		snapshot := m.state.clone()
		err := fn(ctx, &memoryTx{repo: m})
		if err == nil && m.transientFailures > 0 {
			m.transientFailures--
			err = &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		if err != nil {
			m.state = snapshot
			return err
		}
		return nil
	})
}

func (m *memoryRepo) GetDocument(_ context.Context, id int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.state.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (m *memoryRepo) SetFilePath(_ context.Context, id int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.state.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.FilePath = path
	m.state.docs[id] = doc
	return nil
}

func (m *memoryRepo) ListSteps(_ context.Context, documentID int64) ([]Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Step(nil), m.state.steps[documentID]...), nil
}

func (m *memoryRepo) ListHistory(_ context.Context, documentID int64) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, h := range m.state.history {
		if h.DocumentID == documentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListAssigned(_ context.Context, filter AssignedFilter) ([]AssignedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AssignedDocument
	for id, steps := range m.state.steps {
		for _, st := range steps {
			if st.Assignee.ID != filter.ActorID || st.Assignee.Kind != filter.ActorKind {
				continue
			}
			if filter.OnlyPending && st.Status != StepPending {
				continue
			}
			out = append(out, AssignedDocument{Document: m.state.docs[id], Step: st})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Document.ID > out[j].Document.ID })
	return out, nil
}

func (m *memoryRepo) ListOverdue(_ context.Context, cutoff time.Time, limit int) ([]OverdueCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OverdueCandidate
	for id, steps := range m.state.steps {
		for _, st := range steps {
			if st.Status != StepPending {
				continue
			}
			base := Baseline(m.state.docs[id], steps, st)
			if !base.After(cutoff) {
				out = append(out, OverdueCandidate{DocumentID: id, StepID: st.ID, StepOrder: st.Order, Baseline: base})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Baseline.Before(out[j].Baseline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) ledgerFor(documentID int64) []funds.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []funds.LedgerEntry
	for _, e := range m.state.ledger {
		if strings.Contains(e.Description, funds.DocumentMarker(documentID)) {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryRepo) EntriesForDocument(_ context.Context, documentID int64) ([]funds.LedgerEntry, error) {
	return m.ledgerFor(documentID), nil
}

func (m *memoryRepo) balance(dept string) funds.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.balances[dept]
}

func (m *memoryRepo) notifications() []notify.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Notification(nil), m.state.notes...)
}

func (m *memoryRepo) stepsOf(documentID int64) []Step {
	steps, _ := m.ListSteps(context.Background(), documentID)
	return steps
}

func (m *memoryRepo) document(id int64) Document {
	doc, _ := m.GetDocument(context.Background(), id)
	return doc
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) state() *memoryState { return &t.repo.state }

func (t *memoryTx) id() int64 {
	t.state().nextID++
	return t.state().nextID
}

func (t *memoryTx) LockDocument(_ context.Context, id int64) (Document, error) {
	doc, ok := t.state().docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (t *memoryTx) ListSteps(_ context.Context, documentID int64) ([]Step, error) {
	return append([]Step(nil), t.state().steps[documentID]...), nil
}

func (t *memoryTx) InsertDocument(_ context.Context, doc Document) (Document, error) {
	doc.ID = t.id()
	t.state().docs[doc.ID] = doc
	return doc, nil
}

func (t *memoryTx) InsertSteps(_ context.Context, documentID int64, steps []Step) ([]Step, error) {
	saved := make([]Step, len(steps))
	for i, st := range steps {
		st.ID = t.id()
		st.DocumentID = documentID
		saved[i] = st
	}
	t.state().steps[documentID] = append([]Step(nil), saved...)
	return saved, nil
}

func (t *memoryTx) UpdateStep(_ context.Context, step Step) error {
	steps := t.state().steps[step.DocumentID]
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = step
			return nil
		}
	}
	return ErrNotFound
}

func (t *memoryTx) UpdateDocumentStatus(_ context.Context, id int64, status DocumentStatus, at time.Time) error {
	doc, ok := t.state().docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	doc.UpdatedAt = at
	t.state().docs[id] = doc
	return nil
}

func (t *memoryTx) InsertHistory(_ context.Context, entry HistoryEntry) error {
	entry.ID = t.id()
	t.state().history = append(t.state().history, entry)
	return nil
}

func (t *memoryTx) DeleteDocument(_ context.Context, id int64) error {
	if _, ok := t.state().docs[id]; !ok {
		return ErrNotFound
	}
	delete(t.state().docs, id)
	delete(t.state().steps, id)
	return nil
}

func (t *memoryTx) FundStore() funds.TxStore { return memoryFunds{t} }

func (t *memoryTx) NotificationStore() notify.TxStore { return memoryNotes{t} }

type memoryFunds struct{ tx *memoryTx }

func (f memoryFunds) HasEntry(_ context.Context, departmentID string, entryType funds.EntryType, label, marker string) (bool, error) {
	for _, e := range f.tx.state().ledger {
		if e.DepartmentID == departmentID && e.Type == entryType && strings.HasPrefix(e.Description, label) && strings.Contains(e.Description, marker) {
			return true, nil
		}
	}
	return false, nil
}

func (f memoryFunds) InsertEntry(_ context.Context, entry funds.LedgerEntry) (funds.LedgerEntry, error) {
	entry.ID = f.tx.id()
	f.tx.state().ledger = append(f.tx.state().ledger, entry)
	return entry, nil
}

func (f memoryFunds) ApplyDeduction(_ context.Context, departmentID string, amount decimal.Decimal) (funds.Balance, error) {
	b, ok := f.tx.state().balances[departmentID]
	if !ok {
		return funds.Balance{}, funds.ErrFundNotConfigured
	}
	b.UsedAmount = b.UsedAmount.Add(amount)
	b.CurrentBalance = b.CurrentBalance.Sub(amount)
	f.tx.state().balances[departmentID] = b
	return b, nil
}

func (f memoryFunds) ApplyCredit(_ context.Context, departmentID string, amount decimal.Decimal) (funds.Balance, error) {
	b, ok := f.tx.state().balances[departmentID]
	if !ok {
		return funds.Balance{}, funds.ErrFundNotConfigured
	}
	b.InitialAmount = b.InitialAmount.Add(amount)
	b.CurrentBalance = b.CurrentBalance.Add(amount)
	f.tx.state().balances[departmentID] = b
	return b, nil
}

type memoryNotes struct{ tx *memoryTx }

func (n memoryNotes) InsertNotification(_ context.Context, note notify.Notification) (notify.Notification, error) {
	if err := n.tx.repo.failNotifications; err != nil {
		return notify.Notification{}, err
	}
	note.ID = n.tx.id()
	n.tx.state().notes = append(n.tx.state().notes, note)
	return note, nil
}

// fakeDirectory resolves signatories from fixed tables.
type fakeDirectory struct {
	byPosition map[string]signatory.Signatory
	byID       map[int64]signatory.Signatory
	calls      int
}

func directoryKey(position, department string) string {
	return strings.ToLower(position) + "|" + strings.ToLower(department)
}

func (d *fakeDirectory) Resolve(_ context.Context, q signatory.Query) (signatory.Signatory, bool, error) {
	d.calls++
	sig, ok := d.byPosition[directoryKey(q.Position, q.Department)]
	return sig, ok, nil
}

func (d *fakeDirectory) ResolveByID(_ context.Context, kind shared.AssigneeKind, id int64) (signatory.Signatory, bool, error) {
	d.calls++
	sig, ok := d.byID[id]
	if !ok || sig.Kind != kind {
		return signatory.Signatory{}, false, nil
	}
	return sig, true, nil
}

func (d *fakeDirectory) add(sig signatory.Signatory) {
	if d.byPosition == nil {
		d.byPosition = map[string]signatory.Signatory{}
		d.byID = map[int64]signatory.Signatory{}
	}
	d.byPosition[directoryKey(sig.Position, sig.Department)] = sig
	d.byID[sig.ID] = sig
}

const testDepartment = "CCS"

func employee(id int64, position, department string) signatory.Signatory {
	return signatory.Signatory{ID: id, Kind: shared.KindEmployee, Name: position + " Officer", Position: position, Department: department, Role: shared.RoleEmployee}
}

// newCampusDirectory seeds one signatory per position. Department scoped positions exist only
// for testDepartment.
func newCampusDirectory() *fakeDirectory {
	d := &fakeDirectory{}
	d.add(employee(101, PositionCSCAdviser, testDepartment))
	d.add(employee(102, PositionCollegeDean, testDepartment))
	d.add(signatory.Signatory{ID: 201, Kind: shared.KindStudent, Name: "Council President", Position: PositionSSCPresident, Role: shared.RoleStudent})
	d.add(employee(103, PositionSSCAdviser, ""))
	d.add(employee(104, PositionOSADirector, ""))
	d.add(employee(105, PositionVPAcademicAffairs, ""))
	d.add(employee(106, PositionUniversityPresident, ""))
	d.add(employee(107, PositionVPFinance, ""))
	d.add(employee(108, PositionAccountingOffice, ""))
	d.add(employee(109, PositionFacilities, ""))
	d.add(employee(110, PositionTechnicalSupport, ""))
	d.add(employee(111, PositionInformationOffice, ""))
	d.add(employee(112, PositionSecurityHead, ""))
	return d
}

func submitter() shared.Actor {
	return shared.Actor{ID: 1, Role: shared.RoleStudent, Position: "CSC Treasurer", Department: testDepartment, Name: "Ana Reyes"}
}

// actorFor returns the actor that holds a step's assignment.
func actorFor(st Step) shared.Actor {
	role := shared.RoleEmployee
	if st.Assignee.Kind == shared.KindStudent {
		role = shared.RoleStudent
	}
	return shared.Actor{ID: st.Assignee.ID, Role: role, Name: st.Assignee.Name}
}

type captureAudit struct {
	mu     sync.Mutex
	events []shared.AuditEvent
}

func (c *captureAudit) Record(_ context.Context, ev shared.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureAudit) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Action)
	}
	return out
}

type captureDispatcher struct {
	mu       sync.Mutex
	payloads []notify.DeliveryPayload
}

func (c *captureDispatcher) EnqueueDelivery(_ context.Context, p notify.DeliveryPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
	return nil
}

func (c *captureDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}
