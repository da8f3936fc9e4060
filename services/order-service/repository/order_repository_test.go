package repositories_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func checkout(voucherID *string) events.CheckoutMessage {
	return events.CheckoutMessage{
		CheckoutID:    "co-1",
		UserID:        "u1",
		AddressID:     "addr-1",
		PaymentMethod: events.PaymentCOD,
		GrandTotal:    150000,
		Orders: []events.StoreOrder{{
			StoreID:   "S",
			VoucherID: voucherID,
			Items:     []events.OrderItem{{ProductDetailID: 7, Quantity: 2, Price: 50000}},
		}},
	}
}

func TestCreateOrders_InsertsOrderAndItems(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "order_items"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT "owner_id" FROM "stores"`)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("owner-s"))
	mock.ExpectCommit()

	res, err := repo.CreateOrders(context.Background(), checkout(nil))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []uuid.UUID{models.OrderIDFor("co-1", "S")}, res.OrderIDs)
	assert.Equal(t, []string{"owner-s"}, res.StoreOwnerIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrders_ExistingOrderIsLeftAlone(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	voucher := "v1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT "owner_id" FROM "stores"`)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
	mock.ExpectCommit()

	res, err := repo.CreateOrders(context.Background(), checkout(&voucher))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Len(t, res.OrderIDs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrders_UsedUpVoucherRollsBack(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	voucher := "v1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "order_items"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "voucher_usages"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "vouchers" SET "used_count"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.CreateOrders(context.Background(), checkout(&voucher))
	assert.ErrorIs(t, err, repositories.ErrVoucherUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrders_RepeatedVoucherUsageIsNotCountedAgain(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	voucher := "v1"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "order_items"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "voucher_usages"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT "owner_id" FROM "stores"`)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
	mock.ExpectCommit()

	_, err := repo.CreateOrders(context.Background(), checkout(&voucher))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func orderRows(id uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "checkout_id", "user_id", "store_id", "status", "reason"}).
		AddRow(id.String(), "co-1", "u1", "S", status, "")
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	status := events.StatusShipped
	_, err := repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{
		UserID: "seller-1", OrderID: uuid.NewString(), OrderStatus: &status,
	})
	assert.ErrorIs(t, err, repositories.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_WritesChangedColumns(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(orderRows(id, events.StatusPending))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status := events.StatusShipped
	shipper := "shipper-9"
	res, err := repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{
		UserID: "seller-1", OrderID: id.String(), OrderStatus: &status, ShipperID: &shipper, Reason: "picked up",
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.ShipperAssigned)
	assert.Equal(t, "u1", res.BuyerID)
	assert.Equal(t, events.StatusShipped, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_TerminalOrderIsNotTouched(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(orderRows(id, events.StatusDelivered))
	mock.ExpectCommit()

	status := events.StatusCancelled
	res, err := repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{
		UserID: "u1", OrderID: id.String(), OrderStatus: &status,
	})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, events.StatusDelivered, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByCheckout_PreloadsItems(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repositories.NewGormOrderRepository(gormDB)
	id := models.OrderIDFor("co-1", "S")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE user_id = $1 AND checkout_id = $2`)).
		WithArgs("u1", "co-1").
		WillReturnRows(orderRows(id, events.StatusPending))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_items" WHERE "order_items"."order_id" = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_detail_id", "quantity", "price"}).
			AddRow(uuid.NewString(), id.String(), 7, 2, 50000))

	orders, err := repo.FindByCheckout(context.Background(), "u1", "co-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, id, orders[0].ID)
	require.Len(t, orders[0].OrderItems, 1)
	assert.Equal(t, 2, orders[0].OrderItems[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}
