package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/marketplace/internal/model"
)

var orderRowColumns = []string{
	"id", "buyer_id", "seller_id", "status", "total_cents", "currency", "shipping_address", "note",
	"idempotency_key", "cancel_reason", "cancelled_by", "placed_at", "confirmed_at", "delivered_at",
	"completed_at", "cancelled_at", "updated_at",
}

func newTestOrderRepo(t *testing.T) (*PostgresOrderRepo, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock := newMockDB(t)
	repo := NewPostgresOrderRepo(db)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, mock, now
}

func TestPostgresOrderRepo_PlaceOrder_CreatesOrder(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectBegin()
	expectCartLock(mock, "buyer-1", "seller-1")
	mock.ExpectQuery(`SELECT id FROM orders WHERE buyer_id = \$1 AND idempotency_key = \$2`).
		WithArgs("buyer-1", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM cart_items ci .* FOR UPDATE OF sp`).
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows(cartItemColumns).
			AddRow("item-1", "buyer-1", "listing-1", "product-1", "Ceramic Mug", "seller-1", 2, int64(1250), 10, true, now, now))
	mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE seller_products SET stock = stock - \$2`).
		WithArgs("listing-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM cart_items WHERE buyer_id`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE carts SET active_seller_id = NULL`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, created, err := repo.PlaceOrder(context.Background(), model.PlaceOrderParams{
		BuyerID:         "buyer-1",
		ShippingAddress: "1-2-3 Shibuya, Tokyo",
		IdempotencyKey:  "key-1",
		Currency:        "USD",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "seller-1", order.SellerID)
	assert.Equal(t, int64(2500), order.TotalCents)
	assert.Equal(t, model.OrderStatusPlaced, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, order.ID, order.Items[0].OrderID)
	assert.Equal(t, now, order.PlacedAt)
}

func TestPostgresOrderRepo_PlaceOrder_ReplaysIdempotencyKey(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	// 先行リクエストのコミット後にロックを取得し、その注文を返す
	mock.ExpectBegin()
	expectCartLock(mock, "buyer-1", nil)
	mock.ExpectQuery(`SELECT id FROM orders WHERE buyer_id = \$1 AND idempotency_key = \$2`).
		WithArgs("buyer-1", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("order-1"))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("order-1", "buyer-1", "seller-1", "placed", int64(2500), "USD", "addr", "",
				"key-1", nil, nil, now, nil, nil, nil, nil, now))
	mock.ExpectQuery(`FROM order_items WHERE order_id = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "listing_id", "product_id", "product_name", "quantity", "unit_price_cents"}).
			AddRow("oi-1", "order-1", "listing-1", "product-1", "Ceramic Mug", 2, int64(1250)))

	order, created, err := repo.PlaceOrder(context.Background(), model.PlaceOrderParams{
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "order-1", order.ID)
	require.Len(t, order.Items, 1)
}

func TestPostgresOrderRepo_PlaceOrder_DuplicateKeyOnInsert(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectBegin()
	expectCartLock(mock, "buyer-1", "seller-1")
	mock.ExpectQuery(`SELECT id FROM orders WHERE buyer_id = \$1 AND idempotency_key = \$2`).
		WithArgs("buyer-1", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM cart_items ci .* FOR UPDATE OF sp`).
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows(cartItemColumns).
			AddRow("item-1", "buyer-1", "listing-1", "product-1", "Ceramic Mug", "seller-1", 2, int64(1250), 10, true, now, now))
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectQuery(`SELECT id FROM orders WHERE buyer_id = \$1 AND idempotency_key = \$2`).
		WithArgs("buyer-1", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("order-1"))
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("order-1", "buyer-1", "seller-1", "placed", int64(2500), "USD", "addr", "",
				"key-1", nil, nil, now, nil, nil, nil, nil, now))
	mock.ExpectQuery(`FROM order_items WHERE order_id = ANY`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "listing_id", "product_id", "product_name", "quantity", "unit_price_cents"}))

	order, created, err := repo.PlaceOrder(context.Background(), model.PlaceOrderParams{
		BuyerID:         "buyer-1",
		ShippingAddress: "addr",
		IdempotencyKey:  "key-1",
		Currency:        "USD",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "order-1", order.ID)
}

func TestPostgresOrderRepo_PlaceOrder_EmptyCart(t *testing.T) {
	repo, mock, _ := newTestOrderRepo(t)

	mock.ExpectBegin()
	expectCartLock(mock, "buyer-1", nil)
	mock.ExpectQuery(`FROM cart_items ci`).WillReturnRows(sqlmock.NewRows(cartItemColumns))
	mock.ExpectRollback()

	_, _, err := repo.PlaceOrder(context.Background(), model.PlaceOrderParams{BuyerID: "buyer-1", Currency: "USD"})
	assertAPIErrorCode(t, err, model.ErrCodeCartEmpty)
}

func TestPostgresOrderRepo_ApplyTransition_Conflict(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \$3, delivered_at = \$4`).
		WithArgs("order-1", "confirmed", "delivered", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyTransition(context.Background(), model.OrderTransition{
		OrderID: "order-1",
		From:    model.OrderStatusConfirmed,
		To:      model.OrderStatusDelivered,
		Actor:   model.ActorSeller,
		At:      now,
	})
	assertAPIErrorCode(t, err, model.ErrCodeOrderConflict)
}

func TestPostgresOrderRepo_ApplyTransition_ConfirmVerifiesPayment(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \$3, confirmed_at = \$4`).
		WithArgs("order-1", "placed", "confirmed", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payments SET status = 'verified'`).
		WithArgs("order-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	evt := &model.OutboxEvent{ID: "evt-1", AggregateType: "order", AggregateID: "order-1",
		EventType: model.EventOrderConfirmed, Payload: []byte(`{}`), NextAttemptAt: now, CreatedAt: now}
	err := repo.ApplyTransition(context.Background(), model.OrderTransition{
		OrderID:       "order-1",
		From:          model.OrderStatusPlaced,
		To:            model.OrderStatusConfirmed,
		Actor:         model.ActorSeller,
		At:            now,
		VerifyPayment: true,
		Event:         evt,
	})
	require.NoError(t, err)
}

func TestPostgresOrderRepo_ApplyTransition_ConfirmWithoutSubmittedProof(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \$3, confirmed_at`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payments SET status = 'verified'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyTransition(context.Background(), model.OrderTransition{
		OrderID: "order-1", From: model.OrderStatusPlaced, To: model.OrderStatusConfirmed,
		Actor: model.ActorSeller, At: now, VerifyPayment: true,
	})
	assertAPIErrorCode(t, err, model.ErrCodePaymentProofRequired)
}

func TestPostgresOrderRepo_ApplyTransition_CancelRestocks(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders SET status = \$3, cancelled_at = \$4, cancel_reason = \$5, cancelled_by = \$6`).
		WithArgs("order-1", "placed", "cancelled", now, "changed my mind", "buyer").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE seller_products sp SET stock = sp.stock \+ oi.quantity`).
		WithArgs("order-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.ApplyTransition(context.Background(), model.OrderTransition{
		OrderID: "order-1", From: model.OrderStatusPlaced, To: model.OrderStatusCancelled,
		Actor: model.ActorBuyer, At: now, Reason: "changed my mind", Restock: true,
	})
	require.NoError(t, err)
}

func TestPostgresOrderRepo_ApplyTransition_UnsupportedTarget(t *testing.T) {
	repo, _, now := newTestOrderRepo(t)

	err := repo.ApplyTransition(context.Background(), model.OrderTransition{
		OrderID: "order-1", From: model.OrderStatusConfirmed, To: model.OrderStatusPlaced, At: now,
	})
	require.Error(t, err)
}

func TestPostgresOrderRepo_List_FiltersByRoleAndStatus(t *testing.T) {
	repo, mock, now := newTestOrderRepo(t)

	mock.ExpectQuery(`FROM orders WHERE seller_id = \$1 AND status = \$2 ORDER BY placed_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("seller-1", "placed", 20, 0).
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("order-1", "buyer-1", "seller-1", "placed", int64(2500), "USD", "addr", "",
				nil, nil, nil, now, nil, nil, nil, nil, now))
	mock.ExpectQuery(`FROM order_items`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "listing_id", "product_id", "product_name", "quantity", "unit_price_cents"}).
			AddRow("oi-1", "order-1", nil, "product-1", "Ceramic Mug", 2, int64(1250)))

	orders, err := repo.List(context.Background(), "seller-1", model.OrderFilter{
		Role: model.ActorSeller, Status: model.OrderStatusPlaced, Limit: 20,
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Len(t, orders[0].Items, 1)
	assert.Empty(t, orders[0].Items[0].ListingID)
}

func TestPostgresOrderRepo_CountOpenByUser(t *testing.T) {
	repo, mock, _ := newTestOrderRepo(t)

	mock.ExpectQuery(`status NOT IN \('completed', 'cancelled'\)`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountOpenByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
