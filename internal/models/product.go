package models

import "encoding/json"

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

type Product struct {
	OwnedModel
	NameEn       string       `json:"nameEn" gorm:"type:varchar(255);not null;default:''"`
	NameHe       string       `json:"nameHe" gorm:"type:varchar(255);not null;default:''"`
	Code         string       `json:"code" gorm:"type:varchar(100);not null;index"`
	Price        float64      `json:"price" gorm:"not null;default:0"`
	Discount     float64      `json:"discount" gorm:"not null;default:0"`
	DiscountType DiscountType `json:"discountType" gorm:"type:varchar(20);not null;default:'percent'"`
}

func (Product) TableName() string {
	return "products"
}

// FinalPrice applies the discount, never going below zero.
func (p Product) FinalPrice() float64 {
	final := p.Price
	switch p.DiscountType {
	case DiscountFixed:
		final -= p.Discount
	default:
		final -= p.Price * p.Discount / 100
	}
	if final < 0 {
		return 0
	}
	return final
}

type productJSON Product

// MarshalJSON adds the computed finalPrice to the stored fields.
func (p Product) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		productJSON
		FinalPrice float64 `json:"finalPrice"`
	}{productJSON(p), p.FinalPrice()})
}
