package order

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestCreateBooking_Validation(t *testing.T) {
	svc := NewService(&fakePool{}, &fakeRepo{}, &fakeRecorder{})

	base := CreateParams{
		Kind:        KindItem,
		RequesterID: "req",
		ProviderID:  "prov",
		AmountCents: 1500,
	}

	cases := []struct {
		name   string
		mutate func(*CreateParams)
		want   error
	}{
		{"same participants", func(p *CreateParams) { p.ProviderID = p.RequesterID }, ErrSameParticipants},
		{"zero amount", func(p *CreateParams) { p.AmountCents = 0 }, ErrInvalidAmount},
		{"negative amount", func(p *CreateParams) { p.AmountCents = -500 }, ErrInvalidAmount},
		{"negative deposit", func(p *CreateParams) { d := int64(-1); p.DepositCents = &d }, ErrInvalidAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			if _, err := svc.CreateBooking(context.Background(), params); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}

	t.Run("unknown kind", func(t *testing.T) {
		params := base
		params.Kind = Kind("subscription")
		if _, err := svc.CreateBooking(context.Background(), params); err == nil {
			t.Error("expected unknown kind to be rejected")
		}
	})

	t.Run("deposit on service order", func(t *testing.T) {
		params := base
		params.Kind = KindService
		d := int64(2000)
		params.DepositCents = &d
		if _, err := svc.CreateBooking(context.Background(), params); err == nil {
			t.Error("expected deposit on service order to be rejected")
		}
	})
}

func TestCreateBooking_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	rec := &fakeRecorder{}
	svc := NewService(pool, repo, rec)

	deposit := int64(5000)
	o, err := svc.CreateBooking(context.Background(), CreateParams{
		Kind:         KindItem,
		RequesterID:  "req",
		ProviderID:   "prov",
		AmountCents:  4000,
		DepositCents: &deposit,
	})
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	if o.Status != StatusPending {
		t.Errorf("status = %s, want pending", o.Status)
	}
	if !pool.tx.committed {
		t.Error("expected transaction commit")
	}
	if len(rec.events) != 1 || rec.events[0].eventType != "ORDER_REQUESTED" {
		t.Errorf("events = %+v, want one ORDER_REQUESTED", rec.events)
	}
	if len(rec.topics) != 1 || rec.topics[0] != TopicOrderRequested {
		t.Errorf("topics = %v, want [%s]", rec.topics, TopicOrderRequested)
	}
}

func TestAccept_OnlyProvider(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:          "ord-1",
		Status:      StatusPending,
		RequesterID: "req",
		ProviderID:  "prov",
	}}
	svc := NewService(&fakePool{}, repo, &fakeRecorder{})

	if _, err := svc.Accept(context.Background(), "ord-1", "req"); !errors.Is(err, ErrInvalidActor) {
		t.Errorf("requester accept: got %v, want ErrInvalidActor", err)
	}
	if _, err := svc.Accept(context.Background(), "ord-1", "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger accept: got %v, want ErrNotParticipant", err)
	}

	o, err := svc.Accept(context.Background(), "ord-1", "prov")
	if err != nil {
		t.Fatalf("provider accept: %v", err)
	}
	if o.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", o.Status)
	}
}

func TestCancel_EitherParticipant(t *testing.T) {
	for _, actor := range []string{"req", "prov"} {
		repo := &fakeRepo{order: Order{
			ID:          "ord-1",
			Status:      StatusAccepted,
			RequesterID: "req",
			ProviderID:  "prov",
		}}
		pool := &fakePool{}
		rec := &fakeRecorder{}
		svc := NewService(pool, repo, rec)

		o, err := svc.Cancel(context.Background(), "ord-1", actor)
		if err != nil {
			t.Fatalf("cancel by %s: %v", actor, err)
		}
		if o.Status != StatusCancelled {
			t.Errorf("status = %s, want cancelled", o.Status)
		}
		if !pool.tx.committed {
			t.Errorf("cancel by %s: expected commit", actor)
		}
		if len(rec.topics) != 1 || rec.topics[0] != TopicOrderCancelled {
			t.Errorf("topics = %v, want [%s]", rec.topics, TopicOrderCancelled)
		}
	}
}

func TestTransition_IllegalEdgeRejected(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:          "ord-1",
		Status:      StatusCompleted,
		RequesterID: "req",
		ProviderID:  "prov",
	}}
	pool := &fakePool{}
	svc := NewService(pool, repo, &fakeRecorder{})

	if _, err := svc.Cancel(context.Background(), "ord-1", "req"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}
	if pool.tx.committed {
		t.Error("expected no commit on rejected transition")
	}
	if !pool.tx.rolled {
		t.Error("expected rollback on rejected transition")
	}
}

func TestMarkOverdue_OnlyFromOngoing(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:          "ord-1",
		Status:      StatusAccepted,
		RequesterID: "req",
		ProviderID:  "prov",
	}}
	svc := NewService(&fakePool{}, repo, &fakeRecorder{})

	if _, err := svc.MarkOverdue(context.Background(), "ord-1", "prov"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("got %v, want ErrInvalidTransition", err)
	}

	repo.order.Status = StatusOngoing
	o, err := svc.MarkOverdue(context.Background(), "ord-1", "prov")
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if o.Status != StatusOverdue {
		t.Errorf("status = %s, want overdue", o.Status)
	}
}

type recordedEvent struct {
	orderID   string
	eventType string
	actorID   string
}

type fakeRecorder struct {
	events []recordedEvent
	topics []string
}

func (f *fakeRecorder) Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error {
	f.events = append(f.events, recordedEvent{orderID: orderID, eventType: eventType, actorID: actorID})
	return nil
}

func (f *fakeRecorder) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

type fakeRepo struct {
	order       Order
	transitions []Status
}

func (f *fakeRepo) CreateTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Order, error) {
	o := Order{
		ID:           "ord-new",
		Kind:         params.Kind,
		Status:       StatusPending,
		RequesterID:  params.RequesterID,
		ProviderID:   params.ProviderID,
		AmountCents:  params.AmountCents,
		DepositCents: params.DepositCents,
	}
	f.order = o
	return o, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Order, error) {
	if f.order.ID != id {
		return Order{}, ErrNotFound
	}
	return f.order, nil
}

func (f *fakeRepo) LockTx(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	if f.order.ID != id {
		return Order{}, ErrNotFound
	}
	return f.order, nil
}

func (f *fakeRepo) TransitionTx(ctx context.Context, tx pgx.Tx, orderID string, from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	f.order.Status = to
	f.transitions = append(f.transitions, to)
	return nil
}

func (f *fakeRepo) ListForUser(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	return []Order{f.order}, 1, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
