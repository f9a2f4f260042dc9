package stock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/beanline/beanline/internal/catalog"
	"github.com/beanline/beanline/internal/shared"
)

type memoryRepo struct {
	stocks       map[int64]Stock
	lots         map[int64]Lot
	movements    []Movement
	productStock map[int64]int64
	nextLotID    int64
	nextMoveID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stocks:       make(map[int64]Stock),
		lots:         make(map[int64]Lot),
		productStock: make(map[int64]int64),
	}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStock(ctx context.Context, productID int64) (Stock, error) {
	if st, ok := r.stocks[productID]; ok {
		return st, nil
	}
	return Stock{}, ErrStockNotFound
}

func (r *memoryRepo) ListLots(ctx context.Context, productID int64) ([]Lot, error) {
	var out []Lot
	for _, lot := range r.lots {
		if lot.ProductID == productID {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListAllLots(ctx context.Context) ([]Lot, error) {
	out := make([]Lot, 0, len(r.lots))
	for _, lot := range r.lots {
		out = append(out, lot)
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetStockForUpdate(ctx context.Context, productID int64) (Stock, error) {
	return tx.repo.GetStock(ctx, productID)
}

func (tx *memoryTx) UpsertStock(ctx context.Context, s Stock) error {
	tx.repo.stocks[s.ProductID] = s
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextMoveID++
	m.ID = tx.repo.nextMoveID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, lotID int64) (Lot, error) {
	if lot, ok := tx.repo.lots[lotID]; ok {
		return lot, nil
	}
	return Lot{}, ErrLotNotFound
}

func (tx *memoryTx) ListLotsForUpdate(ctx context.Context, productID int64) ([]Lot, error) {
	return tx.repo.ListLots(ctx, productID)
}

func (tx *memoryTx) LotNumberExists(ctx context.Context, productID int64, batchNumber string) (bool, error) {
	for _, lot := range tx.repo.lots {
		if lot.ProductID == productID && lot.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	tx.repo.nextLotID++
	lot.ID = tx.repo.nextLotID
	tx.repo.lots[lot.ID] = lot
	return lot.ID, nil
}

func (tx *memoryTx) UpdateLot(ctx context.Context, lot Lot) error {
	if _, ok := tx.repo.lots[lot.ID]; !ok {
		return ErrLotNotFound
	}
	tx.repo.lots[lot.ID] = lot
	return nil
}

func (tx *memoryTx) DeleteLot(ctx context.Context, lotID int64) error {
	delete(tx.repo.lots, lotID)
	return nil
}

func (tx *memoryTx) SetProductStock(ctx context.Context, productID int64, qty int64) error {
	tx.repo.productStock[productID] = qty
	return nil
}

type memoryCatalog struct {
	products map[int64]catalog.Product
}

func (c *memoryCatalog) Get(ctx context.Context, productID int64) (catalog.Product, error) {
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	return catalog.Product{}, shared.ErrNotFound
}

func testCatalog() *memoryCatalog {
	return &memoryCatalog{products: map[int64]catalog.Product{
		1: {ID: 1, SKU: "GAYO-1", IsPerishable: true, WarehouseManaged: true},
		2: {ID: 2, SKU: "GRINDER-2", IsPerishable: false, WarehouseManaged: true},
		3: {ID: 3, SKU: "DROPSHIP-3", IsPerishable: false, WarehouseManaged: false},
	}}
}

func TestRecordMovementSyncsProductStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, 2, MovementInput{Type: MovementBatchIn, Quantity: 100})
	require.NoError(t, err)

	st, err := svc.RecordMovement(ctx, 2, MovementInput{Type: MovementTransfer, From: LocationIncoming, To: LocationOnline, Quantity: 60})
	require.NoError(t, err)
	require.EqualValues(t, 60, st.Distribution.Online)
	require.EqualValues(t, 60, repo.productStock[2])
}

func TestRecordMovementSkipsUnmanagedProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, 3, MovementInput{Type: MovementBatchIn, Quantity: 10})
	require.NoError(t, err)
	_, ok := repo.productStock[3]
	require.False(t, ok)
}

func TestCreateLotRejectsNonPerishable(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})

	_, err := svc.CreateLot(context.Background(), CreateLotInput{
		ProductID:      2,
		BatchNumber:    "BATCH-20260110-001",
		ExpirationDate: time.Now().AddDate(1, 0, 0),
		Quantity:       10,
	})
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestCreateLotRejectsDuplicateBatchNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	in := CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260110-001",
		ExpirationDate: time.Now().AddDate(1, 0, 0),
		Quantity:       10,
	}
	_, err := svc.CreateLot(ctx, in)
	require.NoError(t, err)

	_, err = svc.CreateLot(ctx, in)
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestTransferLotSplitsSibling(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260110-001",
		ExpirationDate: time.Now().AddDate(0, 6, 0),
		Quantity:       100,
	})
	require.NoError(t, err)

	moved, err := svc.TransferLot(ctx, lot.ID, LocationOnline, 60, shared.Actor{UserID: 7, Role: shared.RoleWarehouse})
	require.NoError(t, err)
	require.EqualValues(t, 60, moved.Quantity)
	require.Equal(t, LocationOnline, moved.Location)

	lots, err := svc.Lots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	var sibling Lot
	for _, l := range lots {
		if l.ID != moved.ID {
			sibling = l
		}
	}
	require.EqualValues(t, 40, sibling.Quantity)
	require.Equal(t, LocationIncoming, sibling.Location)
	// Lineage survives the split.
	require.Equal(t, moved.BatchNumber, sibling.BatchNumber)

	st, err := svc.GetStock(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 40, st.Incoming.Arrived)
	require.EqualValues(t, 60, st.Distribution.Online)
}

func TestTransferLotRejectsOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	lot, err := svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260110-001",
		ExpirationDate: time.Now().AddDate(0, 6, 0),
		Quantity:       10,
	})
	require.NoError(t, err)

	_, err = svc.TransferLot(ctx, lot.ID, LocationOnline, 11, shared.Actor{})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestMarkExpiredLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()
	now := time.Now().UTC()

	stale, err := svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20250101-001",
		ExpirationDate: now.AddDate(0, 0, -2),
		Quantity:       30,
	})
	require.NoError(t, err)
	fresh, err := svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260101-001",
		ExpirationDate: now.AddDate(1, 0, 0),
		Quantity:       20,
	})
	require.NoError(t, err)

	flipped, err := svc.MarkExpiredLots(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, flipped)

	require.Equal(t, LotStatusExpired, repo.lots[stale.ID].Status)
	require.Equal(t, LocationExpired, repo.lots[stale.ID].Location)
	require.Equal(t, LotStatusActive, repo.lots[fresh.ID].Status)

	st, err := svc.GetStock(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 30, st.Expiration.TotalExpired)
	require.EqualValues(t, 20, st.Incoming.Arrived)

	// A second sweep is a no-op.
	flipped, err = svc.MarkExpiredLots(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 0, flipped)
}

func TestExpirationAlertsUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, client, ServiceConfig{AlertCacheTTL: time.Minute})
	ctx := context.Background()

	_, err := svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260110-001",
		ExpirationDate: time.Now().AddDate(0, 0, 10),
		Quantity:       15,
	})
	require.NoError(t, err)

	first, err := svc.ExpirationAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, first.ExpiringSoon, 1)
	require.True(t, mr.Exists("stock:expiration_report"))

	// Registry changes are invisible until the cache entry rolls over.
	_, err = svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260111-001",
		ExpirationDate: time.Now().AddDate(0, 0, 5),
		Quantity:       5,
	})
	require.NoError(t, err)

	second, err := svc.ExpirationAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, second.ExpiringSoon, 1)

	mr.FastForward(2 * time.Minute)
	third, err := svc.ExpirationAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, third.ExpiringSoon, 2)
}

func TestSyncProductRecomputesFromLots(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateLot(ctx, CreateLotInput{
		ProductID:      1,
		BatchNumber:    "BATCH-20260110-001",
		ExpirationDate: time.Now().AddDate(0, 0, 10),
		Quantity:       25,
	})
	require.NoError(t, err)

	st, err := svc.SyncProduct(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 25, st.Processing.Salable)
	require.EqualValues(t, 25, st.Expiration.NearExpiry)
}
