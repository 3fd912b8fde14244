// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package order

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Intent is what a free-text request asks the Order Agent to do.
type Intent struct {
	Skill     string
	ProductID int64
	Quantity  int
	Name      string
	UserID    string
	Contact   Contact
}

// Contact holds the delivery fields of an order.
type Contact struct {
	ShippingAddress string `json:"shipping_address,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Payment         string `json:"payment,omitempty"`
}

var (
	productRef  = regexp.MustCompile(`(?i)(?:\b(?:sản phẩm|san pham|product|sp|mã|id)|#)\s*(?:id|số|so)?\s*[:#]?\s*(\d+)\b`)
	quantityRef = regexp.MustCompile(`(?i)(?:\b(\d+)\s*(?:x\s+)?(?:sản phẩm|san pham|cái|chiếc|cặp|products?|items?|pcs|units?|pairs?)|(?:số lượng|so luong|quantity|qty)\s*:?\s*(\d+)|\bx\s*(\d+)\b)`)
	userRef     = regexp.MustCompile(`(?i)(?:user|người dùng|nguoi dung|khách hàng|khach hang|customer|uid)\s*(?:id)?\s*[:#]?\s*([\p{L}0-9_-]*\d[\p{L}0-9_-]*)`)
	phoneRef    = regexp.MustCompile(`\+?\d[\d .-]{7,14}\d`)
	houseNumber = regexp.MustCompile(`^\d+[\p{L}/]*\s+\p{L}`)
	addressTag  = regexp.MustCompile(`(?i)^(?:địa chỉ|dia chi|address|ship to|deliver to|giao (?:đến|tới|hàng đến|hàng tới))\s*:?\s*`)
	phoneTag    = regexp.MustCompile(`(?i)^(?:sđt|sdt|số điện thoại|so dien thoai|điện thoại|phone|tel)\s*:?\s*`)
	paymentTag  = regexp.MustCompile(`(?i)^(?:thanh toán|thanh toan|payment|pay by|pay with)\s*:?\s*`)
)

var intentKeywords = []struct {
	skill    string
	keywords []string
}{
	{SkillUserOrders, []string{"đơn hàng của", "lịch sử đơn", "lịch sử mua", "danh sách đơn", "my orders", "order history", "orders of", "orders for", "list orders"}},
	{SkillUserInfo, []string{"thông tin người dùng", "thông tin khách", "thông tin tài khoản", "user info", "user information", "account info", "profile"}},
	{SkillCollectOrder, []string{"giỏ hàng", "vào giỏ", "add to cart", "to my cart", "cart"}},
	{SkillCreateOrder, []string{"đặt", "mua", "tạo đơn", "checkout", "purchase", "buy", "order"}},
}

var paymentMethods = []struct {
	method   string
	keywords []string
}{
	{"COD", []string{"cod", "cash on delivery", "tiền mặt", "thanh toán khi nhận", "cash"}},
	{"bank_transfer", []string{"chuyển khoản", "bank transfer", "transfer", "bank"}},
	{"card", []string{"credit card", "debit card", "thẻ", "card", "visa", "mastercard"}},
	{"momo", []string{"momo"}},
	{"zalopay", []string{"zalopay"}},
}

var nameNoise = []string{
	"tìm sản phẩm", "tìm kiếm", "tìm", "find product", "find", "search for", "search",
	"product named", "sản phẩm tên", "sản phẩm", "product", "tên là", "tên", "named",
	"giá của", "price of", "có bán", "do you have", "cho tôi xem", "show me",
}

// ParseIntent reads a free-text request in Vietnamese or English.
func ParseIntent(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	in := Intent{Contact: ParseContact(text)}

	if m := productRef.FindStringSubmatch(text); m != nil {
		in.ProductID, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := quantityRef.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if n, err := strconv.Atoi(g); err == nil && n > 0 {
				in.Quantity = n
				break
			}
		}
	}
	if m := userRef.FindStringSubmatch(text); m != nil {
		in.UserID = m[1]
	}

	for _, group := range intentKeywords {
		if containsAny(lower, group.keywords) {
			in.Skill = group.skill
			break
		}
	}
	if in.Skill == "" {
		switch {
		case in.UserID != "":
			in.Skill = SkillUserInfo
		case in.ProductID > 0:
			in.Skill = SkillProductByID
		default:
			if name := productName(lower); name != "" {
				in.Skill = SkillProductByName
				in.Name = name
			}
		}
	}
	return in
}

// ParseContact extracts delivery fields from text such as
// "123 Le Loi, 0900000000, COD" or "địa chỉ: 5 Hai Ba Trung; sđt 0912345678".
// An address starts at a labelled segment or one opening with a house number
// and runs over the plain segments that follow it.
func ParseContact(text string) Contact {
	var c Contact
	var address []string
	for _, seg := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if rest := phoneTag.ReplaceAllString(seg, ""); rest != seg {
			if p := phoneRef.FindString(rest); p != "" && isPhone(p) {
				c.Phone = normalizePhone(p)
			}
			continue
		}
		if p := phoneRef.FindString(seg); p != "" && isPhone(p) && strings.TrimSpace(p) == seg {
			c.Phone = normalizePhone(p)
			continue
		}
		if rest := paymentTag.ReplaceAllString(seg, ""); rest != seg {
			if c.Payment = paymentMethod(rest); c.Payment == "" {
				c.Payment = rest
			}
			continue
		}
		if m := paymentMethod(seg); m != "" {
			c.Payment = m
			continue
		}
		if productRef.MatchString(seg) || quantityRef.MatchString(seg) {
			continue
		}
		if rest := addressTag.ReplaceAllString(seg, ""); rest != seg {
			address = append(address[:0], rest)
			continue
		}
		if len(address) > 0 || houseNumber.MatchString(seg) {
			address = append(address, seg)
		}
	}
	c.ShippingAddress = strings.Join(address, ", ")
	return c
}

func isPhone(s string) bool {
	n := len(normalizePhone(s))
	return n >= 9 && n <= 13
}

func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '+' && b.Len() == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// paymentMethod maps a whole segment to a payment method. Longer phrases are
// listed first so "bank transfer" is not read as "card".
func paymentMethod(seg string) string {
	lower := strings.ToLower(strings.TrimSpace(seg))
	for _, pm := range paymentMethods {
		for _, k := range pm.keywords {
			if lower == k || strings.HasPrefix(lower, k+" ") || strings.HasSuffix(lower, " "+k) {
				return pm.method
			}
		}
	}
	return ""
}

func productName(lower string) string {
	for _, n := range nameNoise {
		lower = strings.ReplaceAll(lower, n, " ")
	}
	return strings.Join(strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}), " ")
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
