package repository

import (
	"context"
	"testing"
	"time"

	"storefront_payments/internal/domain/payment/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

func TestOrderRepositoryUpsert(t *testing.T) {
	t.Run("inserts when reference is new", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewOrderRepository(gdb)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "orders"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		order := &model.Order{
			ProviderReference: "cs_test_abc123",
			Provider:          model.ChannelHosted,
			Status:            model.StatusPaid,
			Currency:          "USD",
			Total:             11500,
		}
		stored, created, err := repo.Upsert(context.Background(), order)

		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, stored.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict reloads the existing order", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewOrderRepository(gdb)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "orders"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT \* FROM "orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "provider_reference", "status", "currency", "total"}).
				AddRow("existing-id", "cs_test_abc123", model.StatusPaid, "USD", int64(11500)))

		order := &model.Order{ProviderReference: "cs_test_abc123", Status: model.StatusPaid}
		stored, created, err := repo.Upsert(context.Background(), order)

		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "existing-id", stored.ID)
		assert.Equal(t, int64(11500), stored.Total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderRepositoryGetByProviderReference(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewOrderRepository(gdb)

		mock.ExpectQuery(`SELECT \* FROM "orders"`).
			WithArgs("cs_test_abc123", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "provider_reference", "status"}).
				AddRow("id-1", "cs_test_abc123", model.StatusPaid))

		order, err := repo.GetByProviderReference(context.Background(), "cs_test_abc123")

		require.NoError(t, err)
		assert.Equal(t, model.StatusPaid, order.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing reference maps to not found", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewOrderRepository(gdb)

		mock.ExpectQuery(`SELECT \* FROM "orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.GetByProviderReference(context.Background(), "cs_missing")

		assert.ErrorIs(t, err, model.ErrOrderNotFound)
	})
}

func TestOrderRepositoryUpdateStatus(t *testing.T) {
	t.Run("predicate match applies the update", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewOrderRepository(gdb)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "orders" SET`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		now := time.Now()
		applied, err := repo.UpdateStatus(context.Background(), "cs_1",
			model.StatusAwaitingPayment, model.StatusPaid, &now)

		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("predicate miss affects zero rows", func(t *testing.T) {
		gdb, mock := newMockDB(t)
		repo := NewOrderRepository(gdb)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "orders" SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		applied, err := repo.UpdateStatus(context.Background(), "cs_1",
			model.StatusPaid, model.StatusRefunded, nil)

		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestOrderRepositoryList(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewOrderRepository(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider_reference"}).
			AddRow("id-2", "cs_2").
			AddRow("id-1", "cs_1"))

	orders, total, err := repo.List(context.Background(), 0, 20)

	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, orders, 2)
	assert.Equal(t, "cs_2", orders[0].ProviderReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}
