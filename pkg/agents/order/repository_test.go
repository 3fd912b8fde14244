package order

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/agents/catalog"
	"github.com/kadirpekel/optica/pkg/config"
)

var seedProducts = []catalog.Product{
	{ID: 1, Name: "Midnight Round", Brand: "Optica", Color: "black", Price: 1200000, Stock: 10},
	{ID: 2, Name: "Aviator Classic", Brand: "Skyline", Color: "gold", Price: 2500000, Stock: 3},
	{ID: 7, Name: "Last Pair", Price: 900000, Stock: 1},
}

func newSQLRepo(t *testing.T) (*SQLRepository, *config.DBPool) {
	t.Helper()
	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })
	db, err := pool.Get(&config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "orders.db")})
	require.NoError(t, err)
	repo, err := NewSQLRepository(db, config.DialectSQLite)
	require.NoError(t, err)
	return repo, pool
}

func repositories(t *testing.T) map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"memory": func(t *testing.T) Repository { return NewMemoryRepository() },
		"sqlite": func(t *testing.T) Repository {
			r, _ := newSQLRepo(t)
			return r
		},
	}
}

func seeded(t *testing.T, newRepo func(t *testing.T) Repository) Repository {
	t.Helper()
	ctx := context.Background()
	repo := newRepo(t)
	require.NoError(t, repo.UpsertProducts(ctx, seedProducts))
	require.NoError(t, repo.UpsertUser(ctx, User{ID: "u1", Name: "Lan", Phone: "0900000001", Address: "1 Le Loi"}))
	return repo
}

func TestRepository_Lookups(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := seeded(t, newRepo)

			p, err := repo.ProductByID(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, "Aviator Classic", p.Name)
			assert.Equal(t, 3, p.Stock)

			_, err = repo.ProductByID(ctx, 99)
			assert.ErrorIs(t, err, ErrProductNotFound)

			found, err := repo.ProductsByName(ctx, "aviator", 10)
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, int64(2), found[0].ID)

			all, err := repo.ProductsByName(ctx, "", 2)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			u, err := repo.UserByID(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "Lan", u.Name)

			_, err = repo.UserByID(ctx, "nobody")
			assert.ErrorIs(t, err, ErrUserNotFound)

			// Upserting replaces price and stock.
			require.NoError(t, repo.UpsertProducts(ctx, []catalog.Product{{ID: 2, Name: "Aviator Classic", Price: 2400000, Stock: 5}}))
			p, err = repo.ProductByID(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, 2400000.0, p.Price)
			assert.Equal(t, 5, p.Stock)
		})
	}
}

func TestRepository_CreateOrder(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := seeded(t, newRepo)

			o, err := repo.CreateOrder(ctx, OrderRequest{
				UserID:          "u1",
				Items:           []LineRequest{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 1}},
				ShippingAddress: "1 Le Loi",
				Phone:           "0900000001",
				Payment:         "COD",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, o.ID)
			assert.Equal(t, StatusConfirmed, o.Status)
			require.Len(t, o.Lines, 2)
			assert.Equal(t, 3, o.Lines[0].Quantity)
			assert.Equal(t, 3*1200000.0+2500000.0, o.Total)

			p, _ := repo.ProductByID(ctx, 1)
			assert.Equal(t, 7, p.Stock)

			orders, err := repo.OrdersByUser(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, orders, 1)
			assert.Equal(t, o.ID, orders[0].ID)
			assert.Equal(t, o.Lines, orders[0].Lines)
		})
	}
}

func TestRepository_CreateOrderIsAllOrNothing(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := seeded(t, newRepo)

			_, err := repo.CreateOrder(ctx, OrderRequest{
				UserID: "u1",
				Items:  []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 4}},
			})
			var stock *StockError
			require.ErrorAs(t, err, &stock)
			assert.Equal(t, int64(2), stock.ProductID)
			assert.Equal(t, 3, stock.Available)
			assert.Contains(t, err.Error(), "Aviator Classic")

			p, _ := repo.ProductByID(ctx, 1)
			assert.Equal(t, 10, p.Stock, "earlier line rolled back")
			orders, _ := repo.OrdersByUser(ctx, "u1")
			assert.Empty(t, orders)

			_, err = repo.CreateOrder(ctx, OrderRequest{Items: []LineRequest{{ProductID: 404, Quantity: 1}}})
			assert.ErrorIs(t, err, ErrProductNotFound)

			_, err = repo.CreateOrder(ctx, OrderRequest{})
			assert.ErrorIs(t, err, ErrEmptyOrder)

			_, err = repo.CreateOrder(ctx, OrderRequest{Items: []LineRequest{{ProductID: 1, Quantity: 0}}})
			assert.Error(t, err)
		})
	}
}

func TestRepository_NeverOversells(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := seeded(t, newRepo)

			const buyers = 24
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				sold int
			)
			for i := range buyers {
				wg.Add(1)
				go func(qty int) {
					defer wg.Done()
					o, err := repo.CreateOrder(ctx, OrderRequest{
						UserID: "u1",
						Items:  []LineRequest{{ProductID: 1, Quantity: qty}},
					})
					var stock *StockError
					if errors.As(err, &stock) {
						return
					}
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					sold += o.Lines[0].Quantity
					mu.Unlock()
				}(i%3 + 1)
			}
			wg.Wait()

			p, err := repo.ProductByID(ctx, 1)
			require.NoError(t, err)
			assert.LessOrEqual(t, sold, 10)
			assert.Equal(t, 10-sold, p.Stock)
			assert.GreaterOrEqual(t, p.Stock, 0)

			orders, err := repo.OrdersByUser(ctx, "u1")
			require.NoError(t, err)
			var lines int
			for _, o := range orders {
				lines += o.Lines[0].Quantity
			}
			assert.Equal(t, sold, lines)
		})
	}
}

func TestNewRepositoryFromConfig(t *testing.T) {
	pool := config.NewDBPool()
	defer pool.Close()

	cfg := &config.Config{}
	r, err := NewRepositoryFromConfig(cfg, pool)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, r)

	cfg.Agents.Order.Repository = config.StoreConfig{Backend: config.StorageBackendSQL, Database: "shop"}
	_, err = NewRepositoryFromConfig(cfg, pool)
	assert.Error(t, err, "undefined database")

	cfg.Databases = map[string]*config.DatabaseConfig{
		"shop": {Driver: "sqlite", Database: filepath.Join(t.TempDir(), "shop.db")},
	}
	r, err = NewRepositoryFromConfig(cfg, pool)
	require.NoError(t, err)
	assert.IsType(t, &SQLRepository{}, r)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	require.NoError(t, catalog.WriteXLSX(path, seedProducts))

	repo := NewMemoryRepository()
	n, err := Seed(ctx, repo, path)
	require.NoError(t, err)
	assert.Equal(t, len(seedProducts), n)

	// A second seed leaves a populated repository alone.
	n, err = Seed(ctx, repo, path)
	require.NoError(t, err)
	assert.Zero(t, n)
}
