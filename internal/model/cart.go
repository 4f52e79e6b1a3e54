package model

import "time"

// Cart は購入者ごとのカートを表す。
// カートには常に1人の出品者（ActiveSellerID）の商品のみが入る。
type Cart struct {
	BuyerID        string
	ActiveSellerID string // 空の場合はカートが空
	Items          []CartItem
	UpdatedAt      time.Time
}

// CartItem はカート内の1商品を表す。
// 価格と在庫は表示時点の出品情報を結合したもの。
type CartItem struct {
	ID             string
	BuyerID        string
	ListingID      string
	ProductID      string
	ProductName    string
	SellerID       string
	Quantity       int
	UnitPriceCents int64
	Stock          int
	IsActive       bool
	AddedAt        time.Time
	UpdatedAt      time.Time
}

// LineTotalCents は数量×単価を返す。
func (i *CartItem) LineTotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// SubtotalCents はカート内商品の合計金額を返す。
func (c *Cart) SubtotalCents() int64 {
	var total int64
	for i := range c.Items {
		total += c.Items[i].LineTotalCents()
	}
	return total
}

// CheckCartSeller はカートへ sellerID の商品を追加できるか判定する。
// カートが空、または同じ出品者であれば追加できる。
// 別の出品者の商品が入っている場合、replaceがtrueならカートを空にしてから追加する（clear=true）。
// replaceがfalseならCART_SELLER_CONFLICTを返す。
func CheckCartSeller(activeSellerID string, itemCount int, sellerID string, replace bool) (clear bool, err error) {
	if itemCount == 0 || activeSellerID == "" || activeSellerID == sellerID {
		return false, nil
	}
	if replace {
		return true, nil
	}
	return false, NewCartSellerConflictError(activeSellerID)
}

// MaxCartQuantity はカート内の1商品あたりの数量上限。
const MaxCartQuantity = 999
