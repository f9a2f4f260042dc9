package purchase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beanline/beanline/internal/shared"
)

type memoryRepo struct {
	orders  map[int64]PurchaseOrder
	history []StatusChange
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]PurchaseOrder)}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	if po, ok := r.orders[id]; ok {
		return po, nil
	}
	return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range r.orders {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		if filter.SupplierID != 0 && po.SupplierID != filter.SupplierID {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) Insert(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	tx.repo.orders[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) ReplaceItems(ctx context.Context, orderID int64, items []Item) error {
	po := tx.repo.orders[orderID]
	po.Items = items
	tx.repo.orders[orderID] = po
	return nil
}

func (tx *memoryTx) Update(ctx context.Context, po PurchaseOrder) error {
	if _, ok := tx.repo.orders[po.ID]; !ok {
		return fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, po.ID)
	}
	tx.repo.orders[po.ID] = po
	return nil
}

func (tx *memoryTx) AppendHistory(ctx context.Context, change StatusChange) error {
	tx.repo.history = append(tx.repo.history, change)
	return nil
}

func (tx *memoryTx) Delete(ctx context.Context, id int64) error {
	delete(tx.repo.orders, id)
	return nil
}

type fakeNumbers struct {
	orders  int
	batches int
}

func (n *fakeNumbers) Next(ctx context.Context, kind shared.SequenceKind, at time.Time) (string, error) {
	scope := shared.SequenceScope(kind, at)
	switch kind {
	case shared.SequencePurchaseOrder:
		n.orders++
		return shared.FormatSequence(kind, scope, int64(n.orders)), nil
	case shared.SequenceStockBatch:
		n.batches++
		return shared.FormatSequence(kind, scope, int64(n.batches)), nil
	}
	return "", fmt.Errorf("unknown sequence kind %q", kind)
}

func testOrderInput() CreateInput {
	return CreateInput{
		SupplierID: 11,
		Items: []ItemInput{
			{ProductID: 1, Quantity: 100, UnitPrice: 85000, Currency: "IDR"},
			{ProductID: 2, Quantity: 10, UnitPrice: 1500000, Currency: "IDR"},
		},
		Logistics: LogisticsInput{TransportMode: "SEA", FreightCost: 2000000, ClearanceCost: 500000, OtherCost: 100000},
		Tax:       500000,
		Shipping:  250000,
		Discount:  100000,
		Actor:     shared.Actor{UserID: 7, Role: shared.RolePurchasing},
	}
}

func TestCreateAllocatesNumbersAndRollups(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeNumbers{}, nil, nil)

	po, err := svc.Create(context.Background(), testOrderInput())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, po.Status)
	require.Regexp(t, `^PO-\d{6}-\d{4}$`, po.OrderNumber)
	require.Regexp(t, `^BATCH-\d{8}-\d{3}$`, po.BatchNumber)

	require.InDelta(t, 100*85000.0+10*1500000.0, po.Subtotal, 0.01)
	require.InDelta(t, po.Subtotal+500000-100000+250000, po.TotalAmount, 0.01)
	require.InDelta(t, 2600000.0, po.Logistics.TotalCost, 0.01)
	require.InDelta(t, po.TotalAmount+2600000.0, po.GrandTotal, 0.01)
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	svc := NewService(newMemoryRepo(), &fakeNumbers{}, nil, nil)
	in := testOrderInput()
	in.Items = nil
	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrQuantityMismatch)
}

func TestUpdateOnlyWhileEditable(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	ctx := context.Background()

	po, err := svc.Create(ctx, testOrderInput())
	require.NoError(t, err)

	update := UpdateInput{
		OrderID: po.ID,
		Items:   []ItemInput{{ProductID: 1, Quantity: 50, UnitPrice: 90000, Currency: "IDR"}},
		Actor:   shared.Actor{UserID: 7, Role: shared.RolePurchasing},
	}
	updated, err := svc.Update(ctx, update)
	require.NoError(t, err)
	require.InDelta(t, 50*90000.0, updated.Subtotal, 0.01)

	locked := repo.orders[po.ID]
	locked.Status = StatusApproved
	repo.orders[po.ID] = locked

	_, err = svc.Update(ctx, update)
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestTransitionRecordsHistory(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	ctx := context.Background()

	po, err := svc.Create(ctx, testOrderInput())
	require.NoError(t, err)

	po, err = svc.Transition(ctx, po.ID, StatusPending, shared.Actor{UserID: 7, Role: shared.RolePurchasing}, "")
	require.NoError(t, err)
	require.Equal(t, StatusPending, po.Status)

	po, err = svc.Transition(ctx, po.ID, StatusApproved, shared.Actor{UserID: 3, Role: shared.RoleFinance}, "within budget")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, po.Status)
	require.EqualValues(t, 3, po.ApprovedBy)

	require.Len(t, repo.history, 2)
	require.Equal(t, StatusPending, repo.history[1].Previous)
	require.Equal(t, StatusApproved, repo.history[1].New)
}

func TestTransitionRejectionMutatesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	ctx := context.Background()

	po, err := svc.Create(ctx, testOrderInput())
	require.NoError(t, err)

	_, err = svc.Transition(ctx, po.ID, StatusApproved, shared.Actor{UserID: 3, Role: shared.RoleFinance}, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusDraft, repo.orders[po.ID].Status)
	require.Empty(t, repo.history)
}

func TestDeleteOnlyDrafts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	ctx := context.Background()
	actor := shared.Actor{UserID: 7, Role: shared.RolePurchasing}

	po, err := svc.Create(ctx, testOrderInput())
	require.NoError(t, err)

	_, err = svc.Transition(ctx, po.ID, StatusPending, actor, "")
	require.NoError(t, err)
	err = svc.Delete(ctx, po.ID, actor)
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)

	second, err := svc.Create(ctx, testOrderInput())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, second.ID, actor))
	_, err = svc.Get(ctx, second.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUnitEconomicsSpreadsLogistics(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &fakeNumbers{}, nil, nil)
	ctx := context.Background()

	po, err := svc.Create(ctx, testOrderInput())
	require.NoError(t, err)

	figures, err := svc.UnitEconomics(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, figures, 2)
	// 2,600,000 logistics over 110 units.
	perUnit := 2600000.0 / 110.0
	require.InDelta(t, perUnit, figures[0].LogisticsCostPerUnit, 0.01)
	require.InDelta(t, perUnit, figures[1].LogisticsCostPerUnit, 0.01)
	require.InDelta(t, 85000.0, figures[0].UnitCost, 0.01)
}
