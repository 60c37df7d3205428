package model

import "time"

var BrandVoices = []string{"friendly", "professional", "playful", "sophisticated"}

var BusinessCategories = []string{
	"Healthcare",
	"Fitness & Wellness",
	"Beauty & Salon",
	"Restaurant & Food",
	"Retail",
	"Professional Services",
	"Education",
	"Entertainment",
	"Other",
}

type BusinessProfile struct {
	UserID            string    `db:"user_id" json:"user_id"`
	BusinessName      string    `db:"business_name" json:"business_name"`
	BusinessCategory  string    `db:"business_category" json:"business_category"`
	Location          string    `db:"location" json:"location"`
	BusinessEmail     string    `db:"business_email" json:"business_email"`
	BrandVoice        string    `db:"brand_voice" json:"brand_voice"`
	ShortBusinessBio  string    `db:"short_business_bio" json:"short_business_bio"`
	ProductsServices  string    `db:"products_services" json:"products_services"`
	BusinessMaterials string    `db:"business_materials" json:"business_materials"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// MissingForAutoCampaigns lists the fields the auto-campaign generator
// needs before it can produce content.
func (p *BusinessProfile) MissingForAutoCampaigns() []string {
	if p == nil {
		return []string{"business_name", "business_category", "brand_voice"}
	}
	var missing []string
	if p.BusinessName == "" {
		missing = append(missing, "business_name")
	}
	if p.BusinessCategory == "" {
		missing = append(missing, "business_category")
	}
	if p.BrandVoice == "" {
		missing = append(missing, "brand_voice")
	}
	return missing
}
