package purchase

// Package is a purchasable credit bundle.
type Package struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Credits      int     `json:"credits"`
	BonusCredits int     `json:"bonus_credits,omitempty"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	Popular      bool    `json:"popular,omitempty"`
}

// TotalCredits returns base plus bonus credits.
func (p Package) TotalCredits() int {
	return p.Credits + p.BonusCredits
}

// Catalog is the fixed credit-package lineup. Order matters: it is the
// display order.
var Catalog = []Package{
	{ID: "starter", Name: "Starter", Credits: 10, Price: 9.00, Currency: "USD"},
	{ID: "professional", Name: "Professional", Credits: 50, Price: 29.00, Currency: "USD", Popular: true},
	{ID: "enterprise", Name: "Enterprise", Credits: 250, Price: 99.00, Currency: "USD"},
	{ID: "ultimate", Name: "Ultimate", Credits: 1000, BonusCredits: 200, Price: 299.00, Currency: "USD"},
}

// FindPackage looks a package up by id.
func FindPackage(id string) (Package, error) {
	for _, p := range Catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, ErrPackageNotFound
}
