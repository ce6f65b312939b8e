package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"borrowpal/negotiation"
	"borrowpal/order"
)

func TestHandle_PaymentReceived(t *testing.T) {
	repo := &fakeWriter{}
	d := NewDispatcher(nil, repo, nil)

	err := d.handle(context.Background(), nil, outboxRow{
		Topic: negotiation.TopicPaymentReceived,
		Payload: map[string]any{
			"order_id":     "ord-1",
			"recipient_id": "prov",
			"payer_id":     "req",
			"amount_cents": float64(4000),
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted %d notifications, want 1", len(repo.inserted))
	}
	n := repo.inserted[0]
	if n.UserID != "prov" {
		t.Errorf("recipient = %q, want prov", n.UserID)
	}
	if n.Title != "Payment Received" {
		t.Errorf("title = %q", n.Title)
	}
	if n.Message != "You have received a payment of $40.00" {
		t.Errorf("message = %q", n.Message)
	}
}

func TestHandle_OrderRequestedTargetsProvider(t *testing.T) {
	repo := &fakeWriter{}
	d := NewDispatcher(nil, repo, nil)

	err := d.handle(context.Background(), nil, outboxRow{
		Topic: order.TopicOrderRequested,
		Payload: map[string]any{
			"order_id":     "ord-1",
			"requester_id": "req",
			"provider_id":  "prov",
			"amount_cents": float64(1500),
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.inserted) != 1 || repo.inserted[0].UserID != "prov" {
		t.Errorf("inserted = %+v, want one notification to prov", repo.inserted)
	}
}

func TestHandle_OrderUpdateTargetsCounterpart(t *testing.T) {
	repo := &fakeWriter{}
	d := NewDispatcher(nil, repo, nil)

	// The requester cancelled, so the provider is notified.
	err := d.handle(context.Background(), nil, outboxRow{
		Topic: order.TopicOrderCancelled,
		Payload: map[string]any{
			"order_id":     "ord-1",
			"requester_id": "req",
			"provider_id":  "prov",
			"actor_id":     "req",
			"next":         "cancelled",
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.inserted) != 1 || repo.inserted[0].UserID != "prov" {
		t.Errorf("inserted = %+v, want one notification to prov", repo.inserted)
	}
}

func TestHandle_OrderCompletedAwardsXPAndNotifiesBoth(t *testing.T) {
	repo := &fakeWriter{}
	xp := &fakeXP{}
	d := NewDispatcher(nil, repo, xp)

	err := d.handle(context.Background(), nil, outboxRow{
		Topic: order.TopicOrderCompleted,
		Payload: map[string]any{
			"order_id":     "ord-1",
			"requester_id": "req",
			"provider_id":  "prov",
			"action":       "return",
		},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if xp.orderID != "ord-1" {
		t.Errorf("xp awarded for %q, want ord-1", xp.orderID)
	}
	if len(repo.inserted) != 2 {
		t.Fatalf("inserted %d notifications, want both participants", len(repo.inserted))
	}
	if repo.inserted[0].UserID != "req" || repo.inserted[1].UserID != "prov" {
		t.Errorf("recipients = %q, %q", repo.inserted[0].UserID, repo.inserted[1].UserID)
	}
}

func TestHandle_UnknownTopicIsDropped(t *testing.T) {
	repo := &fakeWriter{}
	d := NewDispatcher(nil, repo, nil)

	if err := d.handle(context.Background(), nil, outboxRow{Topic: "mystery.topic"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("inserted = %+v, want none", repo.inserted)
	}
}

func TestDispatchNext_HandlerFailureBumpsAttempts(t *testing.T) {
	pool := newFakeDispatchPool(queuedMessage{
		id:       "msg-1",
		topic:    order.TopicOrderRequested,
		payload:  `{"order_id":"ord-1","provider_id":"prov","amount_cents":1500}`,
		attempts: 0,
	})
	d := newTestDispatcher(pool, &failingWriter{}, nil)

	processed, err := d.dispatchNext(context.Background())
	if err != nil {
		t.Fatalf("dispatchNext: %v", err)
	}
	if !processed {
		t.Fatal("processed = false, want true so later messages still drain")
	}

	tx := pool.txs[0]
	if tx.committed {
		t.Error("failed message was committed")
	}
	if !tx.rolled {
		t.Error("failed message was not rolled back")
	}
	if len(pool.execs) != 1 {
		t.Fatalf("pool execs = %d, want one attempt bump", len(pool.execs))
	}
	bump := pool.execs[0]
	if !strings.Contains(bump.sql, "attempts + 1") {
		t.Errorf("exec = %q, want attempts bump", bump.sql)
	}
	if bump.args[0] != "msg-1" || bump.args[1] != "pending" {
		t.Errorf("args = %v, want [msg-1 pending]", bump.args)
	}
}

func TestDispatchNext_ParksDeadAfterMaxAttempts(t *testing.T) {
	pool := newFakeDispatchPool(queuedMessage{
		id:       "msg-1",
		topic:    order.TopicOrderRequested,
		payload:  `{"order_id":"ord-1","provider_id":"prov"}`,
		attempts: 4,
	})
	d := newTestDispatcher(pool, &failingWriter{}, nil)

	if _, err := d.dispatchNext(context.Background()); err != nil {
		t.Fatalf("dispatchNext: %v", err)
	}
	if len(pool.execs) != 1 || pool.execs[0].args[1] != "dead" {
		t.Errorf("execs = %+v, want the fifth failure parked dead", pool.execs)
	}
}

func TestDrainOnce_PoisonedMessageDoesNotBlockOthers(t *testing.T) {
	pool := newFakeDispatchPool(
		queuedMessage{id: "msg-1", topic: order.TopicOrderRequested, payload: `not json`, attempts: 0},
		queuedMessage{id: "msg-2", topic: order.TopicOrderRequested, payload: `{"order_id":"ord-2","provider_id":"prov","amount_cents":900}`, attempts: 0},
	)
	repo := &fakeWriter{}
	d := newTestDispatcher(pool, repo, nil)

	if err := d.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if len(pool.execs) != 1 || pool.execs[0].args[0] != "msg-1" {
		t.Errorf("execs = %+v, want one failure recorded for msg-1", pool.execs)
	}
	if len(repo.inserted) != 1 || repo.inserted[0].ReferenceID != "ord-2" {
		t.Errorf("inserted = %+v, want msg-2 delivered past the poisoned msg-1", repo.inserted)
	}
	if len(pool.txs) != 3 || !pool.txs[1].committed {
		t.Errorf("txs = %d, want msg-2's transaction committed", len(pool.txs))
	}
}

func TestDispatchNext_SuccessMarksProcessed(t *testing.T) {
	pool := newFakeDispatchPool(queuedMessage{
		id:      "msg-1",
		topic:   order.TopicOrderRequested,
		payload: `{"order_id":"ord-1","provider_id":"prov","amount_cents":1500}`,
	})
	repo := &fakeWriter{}
	d := newTestDispatcher(pool, repo, nil)

	processed, err := d.dispatchNext(context.Background())
	if err != nil || !processed {
		t.Fatalf("dispatchNext = (%v, %v), want (true, nil)", processed, err)
	}
	tx := pool.txs[0]
	if !tx.committed {
		t.Error("expected commit")
	}
	if len(tx.execs) != 1 || !strings.Contains(tx.execs[0], "processed") {
		t.Errorf("tx execs = %v, want mark processed", tx.execs)
	}
	if len(repo.inserted) != 1 {
		t.Errorf("inserted = %+v, want one notification", repo.inserted)
	}
	if len(pool.execs) != 0 {
		t.Errorf("pool execs = %+v, want no failure bookkeeping", pool.execs)
	}
}

func newTestDispatcher(pool DispatchPool, repo NotificationWriter, xp XPAwarder) *Dispatcher {
	return &Dispatcher{pool: pool, repo: repo, xp: xp, batchSize: 25, maxAttempts: 5}
}

type fakeWriter struct {
	inserted []InsertParams
}

func (f *fakeWriter) InsertTx(ctx context.Context, tx pgx.Tx, params InsertParams) error {
	f.inserted = append(f.inserted, params)
	return nil
}

type fakeXP struct {
	orderID string
}

func (f *fakeXP) AwardOrderCompletedTx(ctx context.Context, tx pgx.Tx, orderID, requesterID, providerID string) error {
	f.orderID = orderID
	return nil
}

type failingWriter struct{}

func (failingWriter) InsertTx(context.Context, pgx.Tx, InsertParams) error {
	return errors.New("insert refused")
}

type queuedMessage struct {
	id       string
	topic    string
	payload  string
	attempts int
}

type poolExec struct {
	sql  string
	args []any
}

// fakeDispatchPool hands out one queued message per transaction, the way
// SKIP LOCKED serves the real outbox.
type fakeDispatchPool struct {
	queue []queuedMessage
	txs   []*fakeOutboxTx
	execs []poolExec
}

func newFakeDispatchPool(messages ...queuedMessage) *fakeDispatchPool {
	return &fakeDispatchPool{queue: messages}
}

func (f *fakeDispatchPool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeOutboxTx{}
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		tx.msg = &msg
	}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeDispatchPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, poolExec{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

type fakeOutboxTx struct {
	msg       *queuedMessage
	execs     []string
	committed bool
	rolled    bool
}

func (f *fakeOutboxTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &fakeOutboxRow{msg: f.msg}
}

func (f *fakeOutboxTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeOutboxTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeOutboxTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeOutboxTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeOutboxTx does not support nested transactions")
}

func (f *fakeOutboxTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeOutboxTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeOutboxTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeOutboxTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeOutboxTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeOutboxTx) Conn() *pgx.Conn {
	return nil
}

type fakeOutboxRow struct {
	msg *queuedMessage
}

func (f *fakeOutboxRow) Scan(dest ...any) error {
	if f.msg == nil {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = f.msg.id
	*dest[1].(*string) = f.msg.topic
	*dest[2].(*[]byte) = []byte(f.msg.payload)
	*dest[3].(*int) = f.msg.attempts
	return nil
}
