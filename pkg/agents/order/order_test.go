package order

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/server"
	"github.com/kadirpekel/optica/pkg/testutils"
)

func newHandler(t *testing.T, repo Repository) *server.Handler {
	t.Helper()
	a, err := New(repo)
	require.NoError(t, err)
	return testutils.NewHandler(t, Card("http://localhost:10003"), a)
}

func skillMessage(skill string, args map[string]any) *a2a.Message {
	return testutils.UserMessage("", a2a.NewDataPart(map[string]any{"skill": skill, "args": args}))
}

func TestOrder_InputRequiredResumption(t *testing.T) {
	ctx := context.Background()
	repo := seeded(t, repositories(t)["memory"])
	h := newHandler(t, repo)

	first, err := testutils.Send(ctx, h, testutils.UserMessage("đặt 2 sản phẩm ID 1"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateInputRequired, first.Status.State)
	assert.Equal(t, "missing: shipping_address, phone, payment", testutils.StatusText(first))
	draft, ok := draftFromMap(first.Metadata[MetadataDraft])
	require.True(t, ok)
	assert.Equal(t, []LineRequest{{ProductID: 1, Quantity: 2}}, draft.Items)

	second, err := testutils.Send(ctx, h, testutils.FollowUp(first.ContextID, "123 Le Loi, 0900000000, COD"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "follow-up resumes the same task")
	assert.Equal(t, a2a.TaskStateCompleted, second.Status.State)
	assert.NotContains(t, second.Metadata, MetadataDraft)

	order := testutils.ArtifactData(second)["order"].(map[string]any)
	assert.NotEmpty(t, order["order_id"])
	assert.Equal(t, "123 Le Loi", order["shipping_address"])
	assert.Equal(t, "0900000000", order["phone"])
	assert.Equal(t, "COD", order["payment"])
	assert.Equal(t, 2400000.0, order["total"], "priced from the repository")

	p, err := repo.ProductByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, p.Stock)
}

func TestOrder_PartialFollowUpAsksAgain(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, seeded(t, repositories(t)["memory"]))

	first, err := testutils.Send(ctx, h, testutils.UserMessage("buy product 2"))
	require.NoError(t, err)
	require.Equal(t, a2a.TaskStateInputRequired, first.Status.State)

	second, err := testutils.Send(ctx, h, testutils.FollowUp(first.ContextID, "sđt 0912345678"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateInputRequired, second.Status.State)
	assert.Equal(t, "missing: shipping_address, payment", testutils.StatusText(second))

	third, err := testutils.Send(ctx, h, testutils.FollowUp(first.ContextID, "giao đến 9 Tran Hung Dao; thanh toán momo"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, third.Status.State)
	order := testutils.ArtifactData(third)["order"].(map[string]any)
	assert.Equal(t, "0912345678", order["phone"])
	assert.Equal(t, "momo", order["payment"])
}

func TestOrder_ConcurrentOversell(t *testing.T) {
	ctx := context.Background()
	repo, _ := newSQLRepo(t)
	require.NoError(t, repo.UpsertProducts(ctx, seedProducts))
	h := newHandler(t, repo)

	args := func(user string) map[string]any {
		return map[string]any{
			"user_id":          user,
			"items":            []any{map[string]any{"product_id": 7, "quantity": 1}},
			"shipping_address": "1 Le Loi",
			"phone":            "0900000000",
			"payment":          "COD",
		}
	}

	var wg sync.WaitGroup
	results := make([]*a2a.Task, 2)
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = testutils.Send(ctx, h, skillMessage(SkillCreateOrder, args(user)))
		}()
	}
	wg.Wait()

	var completed, rejected int
	for i := range results {
		if errs[i] != nil {
			rejected++
			assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(errs[i]))
			assert.Contains(t, errs[i].Error(), "insufficient stock for Last Pair")
			continue
		}
		assert.Equal(t, a2a.TaskStateCompleted, results[i].Status.State)
		completed++
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, rejected)

	p, err := repo.ProductByID(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, p.Stock)

	var orders, lines int
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&orders))
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_lines WHERE product_id = 7`).Scan(&lines))
	assert.Equal(t, 1, orders)
	assert.Equal(t, 1, lines)
}

func TestOrder_Lookups(t *testing.T) {
	ctx := context.Background()
	repo := seeded(t, repositories(t)["memory"])
	_, err := repo.CreateOrder(ctx, OrderRequest{UserID: "u1", Items: []LineRequest{{ProductID: 2, Quantity: 1}},
		ShippingAddress: "1 Le Loi", Phone: "0900000001", Payment: "COD"})
	require.NoError(t, err)
	h := newHandler(t, repo)

	task, err := testutils.Send(ctx, h, testutils.UserMessage("sản phẩm ID 2"))
	require.NoError(t, err)
	product := testutils.ArtifactData(task)["product"].(map[string]any)
	assert.Equal(t, "Aviator Classic", product["name"])
	assert.Equal(t, 2.0, product["stock"])
	assert.Equal(t, SkillProductByID, task.Artifacts[0].Metadata["skill"])

	task, err = testutils.Send(ctx, h, skillMessage(SkillProductByName, map[string]any{"name": "midnight"}))
	require.NoError(t, err)
	assert.Len(t, testutils.ArtifactData(task)["products"], 1)

	task, err = testutils.Send(ctx, h, testutils.UserMessage("thông tin người dùng u1"))
	require.NoError(t, err)
	assert.Equal(t, "Lan", testutils.ArtifactData(task)["user"].(map[string]any)["name"])

	task, err = testutils.Send(ctx, h, testutils.UserMessage("đơn hàng của user u1"))
	require.NoError(t, err)
	orders := testutils.ArtifactData(task)["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, 2500000.0, orders[0].(map[string]any)["total"])

	// User id from message metadata.
	msg := testutils.UserMessage("show my orders")
	msg.Metadata = map[string]any{"user_id": "u1"}
	task, err = testutils.Send(ctx, h, msg)
	require.NoError(t, err)
	assert.Len(t, testutils.ArtifactData(task)["orders"], 1)
}

func TestOrder_CollectOrderInfo(t *testing.T) {
	h := newHandler(t, seeded(t, repositories(t)["memory"]))

	task, err := testutils.Send(context.Background(), h, testutils.UserMessage("thêm 2 cái sản phẩm 1 vào giỏ hàng"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)

	data := testutils.ArtifactData(task)
	cart := data["cart_items"].([]any)
	require.Len(t, cart, 1)
	item := cart[0].(map[string]any)
	assert.Equal(t, 1.0, item["product_id"])
	assert.Equal(t, 2.0, item["quantity"])
	assert.Equal(t, "Midnight Round", item["name"])
	assert.Equal(t, 2400000.0, data["total"])
	assert.Equal(t, []any{"shipping_address", "phone", "payment"}, data["missing"])
}

func TestOrder_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHandler(t, seeded(t, repositories(t)["memory"]))

	_, err := testutils.Send(ctx, h, testutils.UserMessage("sản phẩm ID 404"))
	assert.Equal(t, a2a.KindNotFound, a2a.KindOf(err))

	_, err = testutils.Send(ctx, h, testutils.UserMessage("?!"))
	assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(err))

	_, err = testutils.Send(ctx, h, skillMessage("refund-order", nil))
	assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(err))

	_, err = testutils.Send(ctx, h, skillMessage(SkillUserInfo, map[string]any{}))
	assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(err))

	_, err = testutils.Send(ctx, h, skillMessage(SkillCreateOrder, map[string]any{
		"product_id": 2, "quantity": 5, "address": "1 Le Loi", "phone": "0900000000", "payment": "cod",
	}))
	assert.Equal(t, a2a.KindInvalidParams, a2a.KindOf(err))
	assert.Contains(t, err.Error(), "Aviator Classic")
}
