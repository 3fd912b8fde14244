package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		text  string
		skill string
		id    int64
		qty   int
		user  string
		name  string
	}{
		{text: "đặt 2 sản phẩm ID 1", skill: SkillCreateOrder, id: 1, qty: 2},
		{text: "I want to buy product 5", skill: SkillCreateOrder, id: 5},
		{text: "order 3 pairs of product #7", skill: SkillCreateOrder, id: 7, qty: 3},
		{text: "thêm sản phẩm 5 vào giỏ", skill: SkillCollectOrder, id: 5},
		{text: "sản phẩm ID 12 còn hàng không?", skill: SkillProductByID, id: 12},
		{text: "đơn hàng của user u42", skill: SkillUserOrders, user: "u42"},
		{text: "show my orders, customer 9", skill: SkillUserOrders, user: "9"},
		{text: "user info for user u1", skill: SkillUserInfo, user: "u1"},
		{text: "find product Aviator", skill: SkillProductByName, name: "aviator"},
		{text: "tìm sản phẩm Midnight Round", skill: SkillProductByName, name: "midnight round"},
		{text: "", skill: ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in := ParseIntent(tt.text)
			assert.Equal(t, tt.skill, in.Skill)
			assert.Equal(t, tt.id, in.ProductID)
			assert.Equal(t, tt.qty, in.Quantity)
			assert.Equal(t, tt.user, in.UserID)
			assert.Equal(t, tt.name, in.Name)
		})
	}
}

func TestParseContact(t *testing.T) {
	c := ParseContact("123 Le Loi, 0900000000, COD")
	assert.Equal(t, Contact{ShippingAddress: "123 Le Loi", Phone: "0900000000", Payment: "COD"}, c)

	c = ParseContact("địa chỉ: 5 Hai Ba Trung, Quận 1; sđt 091 234 5678; thanh toán chuyển khoản")
	assert.Equal(t, "5 Hai Ba Trung, Quận 1", c.ShippingAddress)
	assert.Equal(t, "0912345678", c.Phone)
	assert.Equal(t, "bank_transfer", c.Payment)

	c = ParseContact("ship to 10 Main St, pay with card, +84 912 345 678")
	assert.Equal(t, "10 Main St", c.ShippingAddress)
	assert.Equal(t, "card", c.Payment)
	assert.Equal(t, "+84912345678", c.Phone)

	assert.Equal(t, Contact{}, ParseContact("đặt 2 sản phẩm ID 1"))
}

func TestDraftMissing(t *testing.T) {
	d := Draft{Items: []LineRequest{{ProductID: 1, Quantity: 2}}}
	assert.Equal(t, []string{"shipping_address", "phone", "payment"}, d.Missing())

	d.merge(Contact{Phone: "0900000000"})
	assert.Equal(t, []string{"shipping_address", "payment"}, d.Missing())

	assert.Equal(t, []string{"items", "shipping_address", "phone", "payment"}, Draft{}.Missing())

	back, ok := draftFromMap(d.toMap())
	assert.True(t, ok)
	assert.Equal(t, d, back)
}
