package distribution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beanline/beanline/internal/catalog"
	"github.com/beanline/beanline/internal/purchase"
	"github.com/beanline/beanline/internal/shared"
	"github.com/beanline/beanline/internal/stock"
)

// memoryRepo implements RepositoryPort and TxRepository over in-memory
// aggregates so the whole workflow can run without a database.
type memoryRepo struct {
	batches map[int64]StockBatch
	orders  map[int64]purchase.PurchaseOrder
	history []purchase.StatusChange

	stocks       map[int64]stock.Stock
	lots         map[int64]stock.Lot
	movements    []stock.Movement
	productStock map[int64]int64
	totalStock   map[int64]int64

	nextBatchID int64
	nextItemID  int64
	nextLotID   int64
	nextMoveID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:      make(map[int64]StockBatch),
		orders:       make(map[int64]purchase.PurchaseOrder),
		stocks:       make(map[int64]stock.Stock),
		lots:         make(map[int64]stock.Lot),
		productStock: make(map[int64]int64),
		totalStock:   make(map[int64]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (StockBatch, error) {
	if b, ok := r.batches[id]; ok {
		return b, nil
	}
	return StockBatch{}, fmt.Errorf("%w: stock batch %d", shared.ErrNotFound, id)
}

func (r *memoryRepo) GetBatchByOrder(ctx context.Context, orderID int64) (StockBatch, error) {
	for _, b := range r.batches {
		if b.OrderID == orderID {
			return b, nil
		}
	}
	return StockBatch{}, fmt.Errorf("%w: batch for order %d", shared.ErrNotFound, orderID)
}

func (r *memoryRepo) List(ctx context.Context, limit int) ([]StockBatch, error) {
	out := make([]StockBatch, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b)
	}
	return out, nil
}

func (r *memoryRepo) Stock() stock.TxRepository     { return (*memoryStockTx)(r) }
func (r *memoryRepo) Orders() purchase.TxRepository { return (*memoryOrderTx)(r) }

func (r *memoryRepo) GetBatchForUpdate(ctx context.Context, id int64) (StockBatch, error) {
	return r.GetBatch(ctx, id)
}

func (r *memoryRepo) InsertBatch(ctx context.Context, b StockBatch) (int64, error) {
	r.nextBatchID++
	b.ID = r.nextBatchID
	for i := range b.Items {
		r.nextItemID++
		b.Items[i].ID = r.nextItemID
		b.Items[i].BatchID = b.ID
	}
	r.batches[b.ID] = b
	return b.ID, nil
}

func (r *memoryRepo) UpdateBatch(ctx context.Context, b StockBatch) error {
	stored, ok := r.batches[b.ID]
	if !ok {
		return fmt.Errorf("%w: stock batch %d", shared.ErrNotFound, b.ID)
	}
	b.Items = stored.Items
	r.batches[b.ID] = b
	return nil
}

func (r *memoryRepo) UpdateItem(ctx context.Context, item BatchItem) error {
	b, ok := r.batches[item.BatchID]
	if !ok {
		return fmt.Errorf("%w: stock batch %d", shared.ErrNotFound, item.BatchID)
	}
	for i := range b.Items {
		if b.Items[i].ID == item.ID {
			b.Items[i] = item
			r.batches[item.BatchID] = b
			return nil
		}
	}
	return fmt.Errorf("%w: batch item %d", shared.ErrNotFound, item.ID)
}

func (r *memoryRepo) ReplacePlan(ctx context.Context, batchID int64, lines []PlanLine) error {
	b, ok := r.batches[batchID]
	if !ok {
		return fmt.Errorf("%w: stock batch %d", shared.ErrNotFound, batchID)
	}
	b.Plan = append([]PlanLine(nil), lines...)
	r.batches[batchID] = b
	return nil
}

func (r *memoryRepo) AddProductTotalStock(ctx context.Context, productID int64, delta int64) error {
	r.totalStock[productID] += delta
	return nil
}

type memoryStockTx memoryRepo

func (t *memoryStockTx) GetStockForUpdate(ctx context.Context, productID int64) (stock.Stock, error) {
	if st, ok := t.stocks[productID]; ok {
		return st, nil
	}
	return stock.Stock{}, stock.ErrStockNotFound
}

func (t *memoryStockTx) UpsertStock(ctx context.Context, s stock.Stock) error {
	t.stocks[s.ProductID] = s
	return nil
}

func (t *memoryStockTx) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	t.nextMoveID++
	m.ID = t.nextMoveID
	t.movements = append(t.movements, m)
	return m.ID, nil
}

func (t *memoryStockTx) GetLotForUpdate(ctx context.Context, lotID int64) (stock.Lot, error) {
	if lot, ok := t.lots[lotID]; ok {
		return lot, nil
	}
	return stock.Lot{}, stock.ErrLotNotFound
}

func (t *memoryStockTx) ListLotsForUpdate(ctx context.Context, productID int64) ([]stock.Lot, error) {
	var out []stock.Lot
	for id := int64(1); id <= t.nextLotID; id++ {
		if lot, ok := t.lots[id]; ok && lot.ProductID == productID {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (t *memoryStockTx) LotNumberExists(ctx context.Context, productID int64, batchNumber string) (bool, error) {
	for _, lot := range t.lots {
		if lot.ProductID == productID && lot.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryStockTx) InsertLot(ctx context.Context, lot stock.Lot) (int64, error) {
	t.nextLotID++
	lot.ID = t.nextLotID
	t.lots[lot.ID] = lot
	return lot.ID, nil
}

func (t *memoryStockTx) UpdateLot(ctx context.Context, lot stock.Lot) error {
	if _, ok := t.lots[lot.ID]; !ok {
		return stock.ErrLotNotFound
	}
	t.lots[lot.ID] = lot
	return nil
}

func (t *memoryStockTx) DeleteLot(ctx context.Context, lotID int64) error {
	delete(t.lots, lotID)
	return nil
}

func (t *memoryStockTx) SetProductStock(ctx context.Context, productID int64, qty int64) error {
	t.productStock[productID] = qty
	return nil
}

type memoryOrderTx memoryRepo

func (t *memoryOrderTx) GetForUpdate(ctx context.Context, id int64) (purchase.PurchaseOrder, error) {
	if po, ok := t.orders[id]; ok {
		return po, nil
	}
	return purchase.PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
}

func (t *memoryOrderTx) Insert(ctx context.Context, po purchase.PurchaseOrder) (int64, error) {
	t.orders[po.ID] = po
	return po.ID, nil
}

func (t *memoryOrderTx) ReplaceItems(ctx context.Context, orderID int64, items []purchase.Item) error {
	po := t.orders[orderID]
	po.Items = items
	t.orders[orderID] = po
	return nil
}

func (t *memoryOrderTx) Update(ctx context.Context, po purchase.PurchaseOrder) error {
	t.orders[po.ID] = po
	return nil
}

func (t *memoryOrderTx) AppendHistory(ctx context.Context, change purchase.StatusChange) error {
	t.history = append(t.history, change)
	return nil
}

func (t *memoryOrderTx) Delete(ctx context.Context, id int64) error {
	delete(t.orders, id)
	return nil
}

type memoryCatalog struct {
	products map[int64]catalog.Product
}

func (c *memoryCatalog) Get(ctx context.Context, productID int64) (catalog.Product, error) {
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	return catalog.Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, productID)
}

var (
	warehouseActor = shared.Actor{UserID: 21, Role: shared.RoleWarehouse}
	directorActor  = shared.Actor{UserID: 42, Role: shared.RoleDirector}
)

func seedDeliveredOrder(r *memoryRepo, orderID int64, productID, qty int64) purchase.PurchaseOrder {
	po := purchase.PurchaseOrder{
		ID:          orderID,
		OrderNumber: fmt.Sprintf("PO-202601-%04d", orderID),
		BatchNumber: fmt.Sprintf("BATCH-20260120-%03d", orderID),
		SupplierID:  5,
		Status:      purchase.StatusDelivered,
		Items:       []purchase.Item{{ID: 1, OrderID: orderID, ProductID: productID, Quantity: qty, UnitPrice: 85000}},
	}
	r.orders[orderID] = po
	return po
}

func newTestService(r *memoryRepo) *Service {
	cat := &memoryCatalog{products: map[int64]catalog.Product{
		1: {ID: 1, SKU: "GAYO-1", IsPerishable: true, WarehouseManaged: true},
		2: {ID: 2, SKU: "GRINDER-2", IsPerishable: false, WarehouseManaged: true},
	}}
	return NewService(r, cat, purchase.DefaultPolicy(), nil, ServiceConfig{})
}

func TestBatchLifecycleEndToEnd(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)
	expiry := time.Now().AddDate(0, 8, 0)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{
		OrderID: 1,
		Items:   []ReceiptItemInput{{ProductID: 1, Quantity: 100, ExpiryDate: expiry}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	require.Equal(t, QualityPending, batch.QualityStatus)
	require.True(t, repo.orders[1].HasBatch)

	st := repo.stocks[1]
	require.EqualValues(t, 100, st.Incoming.Expected)
	require.EqualValues(t, 100, st.Incoming.Arrived)
	require.EqualValues(t, 100, st.Processing.Received)

	batch, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 90, DamagedQuantity: 10}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	require.Equal(t, QualityCompleted, batch.QualityStatus)

	st = repo.stocks[1]
	require.EqualValues(t, 90, st.Incoming.Arrived)
	require.EqualValues(t, 10, st.Processing.Damaged)
	require.EqualValues(t, 90, st.Processing.Salable)
	// Passed goods of a perishable product become a lot.
	require.Len(t, repo.lots, 1)

	batch, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 60, OfflineQuantity: 30}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	require.Equal(t, PlanAwaitingApproval, batch.PlanStatus)

	batch, err = svc.ApproveDistribution(ctx, batch.ID, directorActor, "go")
	require.NoError(t, err)
	require.Equal(t, PlanApproved, batch.PlanStatus)

	st = repo.stocks[1]
	require.EqualValues(t, 0, st.Incoming.Arrived)
	require.EqualValues(t, 60, st.Distribution.Online)
	require.EqualValues(t, 30, st.Distribution.Offline)
	require.EqualValues(t, 10, st.Processing.Damaged)
	require.EqualValues(t, 100, stock.TotalOnHand(&st))

	// Exactly four movements: receipt, damage, two channel transfers.
	require.Len(t, repo.movements, 4)
	require.Equal(t, stock.MovementBatchIn, repo.movements[0].Type)
	require.Equal(t, stock.MovementDamage, repo.movements[1].Type)
	require.Equal(t, stock.MovementTransfer, repo.movements[2].Type)
	require.Equal(t, stock.MovementTransfer, repo.movements[3].Type)

	require.EqualValues(t, 90, repo.totalStock[1])
	require.EqualValues(t, 60, repo.productStock[1])
	require.Equal(t, purchase.StatusCompleted, repo.orders[1].Status)

	require.EqualValues(t, 90, batch.ItemFor(1).PassedQuantity)
	require.EqualValues(t, 60, batch.ItemFor(1).OnlineStock)
	require.EqualValues(t, 30, batch.ItemFor(1).OfflineStock)

	// The lot split follows the same cut.
	var online, offline int64
	for _, lot := range repo.lots {
		switch lot.Location {
		case stock.LocationOnline:
			online += lot.Quantity
		case stock.LocationOffline:
			offline += lot.Quantity
		}
	}
	require.EqualValues(t, 60, online)
	require.EqualValues(t, 30, offline)
}

func TestCreateBatchRequiresDeliveredOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	po := seedDeliveredOrder(repo, 1, 1, 100)
	po.Status = purchase.StatusApproved
	repo.orders[1] = po

	_, err := svc.CreateBatchFromOrder(context.Background(), CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestCreateBatchOncePerOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	_, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)

	_, err = svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestQualityCheckIsOneShot(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)

	in := QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 100}},
		Actor:   warehouseActor,
	}
	_, err = svc.CompleteQualityCheck(ctx, in)
	require.NoError(t, err)

	_, err = svc.CompleteQualityCheck(ctx, in)
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestQualityCheckValidatesBeforeWriting(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)
	movesBefore := len(repo.movements)

	_, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 90, DamagedQuantity: 20}},
		Actor:   warehouseActor,
	})
	require.ErrorIs(t, err, shared.ErrQuantityMismatch)
	require.Len(t, repo.movements, movesBefore)
	require.Equal(t, QualityPending, repo.batches[batch.ID].QualityStatus)
}

func TestProposeRequiresQualityCheck(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)

	_, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 10}},
		Actor:   warehouseActor,
	})
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestProposeCannotExceedDistributable(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)
	_, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 80, RefurbishedQuantity: 5, DamagedQuantity: 15}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)

	_, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 60, OfflineQuantity: 26}},
		Actor:   warehouseActor,
	})
	require.ErrorIs(t, err, shared.ErrQuantityMismatch)
}

func TestApproveRequiresDirector(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.ApproveDistribution(context.Background(), 1, warehouseActor, "")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.RejectDistribution(context.Background(), 1, warehouseActor, "")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestApproveIsOneShot(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)
	_, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 100}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	_, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 70, OfflineQuantity: 30}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)

	_, err = svc.ApproveDistribution(ctx, batch.ID, directorActor, "")
	require.NoError(t, err)
	totalAfterFirst := repo.totalStock[1]

	_, err = svc.ApproveDistribution(ctx, batch.ID, directorActor, "")
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
	require.Equal(t, totalAfterFirst, repo.totalStock[1])
}

func TestRejectLeavesLedgerUntouched(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)
	_, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 100}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	_, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 50, OfflineQuantity: 50}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	movesBefore := len(repo.movements)

	rejected, err := svc.RejectDistribution(ctx, batch.ID, directorActor, "split looks wrong")
	require.NoError(t, err)
	require.Equal(t, PlanRejected, rejected.PlanStatus)
	require.Len(t, repo.movements, movesBefore)
	require.EqualValues(t, 100, repo.stocks[1].Incoming.Arrived)
	require.Equal(t, purchase.StatusDelivered, repo.orders[1].Status)

	// A rejected plan can be revised and resubmitted.
	_, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 60, OfflineQuantity: 40}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
}

func TestReactivateOrderReopensDistribution(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	seedDeliveredOrder(repo, 1, 1, 100)

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)
	_, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 1, PassedQuantity: 100}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	_, err = svc.ProposeDistribution(ctx, PlanInput{
		BatchID: batch.ID,
		Lines:   []PlanLine{{ProductID: 1, OnlineQuantity: 100}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	_, err = svc.ApproveDistribution(ctx, batch.ID, directorActor, "")
	require.NoError(t, err)

	err = svc.ReactivateOrder(ctx, 1, warehouseActor, "recount")
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	err = svc.ReactivateOrder(ctx, 1, directorActor, "")
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)

	err = svc.ReactivateOrder(ctx, 1, directorActor, "recount")
	require.NoError(t, err)
	require.Equal(t, purchase.StatusDelivered, repo.orders[1].Status)
	require.Equal(t, PlanPending, repo.batches[batch.ID].PlanStatus)
}

func TestQualityCheckNonPerishableSkipsLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	po := seedDeliveredOrder(repo, 1, 2, 50)
	po.Items[0].ProductID = 2
	repo.orders[1] = po

	batch, err := svc.CreateBatchFromOrder(ctx, CreateBatchInput{OrderID: 1, Actor: warehouseActor})
	require.NoError(t, err)
	_, err = svc.CompleteQualityCheck(ctx, QualityCheckInput{
		BatchID: batch.ID,
		Items:   []QualityItemInput{{ProductID: 2, PassedQuantity: 45, RefurbishedQuantity: 5}},
		Actor:   warehouseActor,
	})
	require.NoError(t, err)
	require.Empty(t, repo.lots)
	require.EqualValues(t, 5, repo.stocks[2].Processing.Refurbished)
	require.EqualValues(t, 50, repo.stocks[2].Processing.Salable)
}
