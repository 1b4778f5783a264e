package policy

import "github.com/pesio-ai/be-cq-quotes/internal/errors"

// Snapshot field names as they appear in rule configuration.
const (
	FieldTotalAmount        = "total_amount"
	FieldDiscountPercentage = "discount_percentage"
	FieldPaymentTerms       = "payment_terms"
	FieldPaymentType        = "payment_type"
	FieldBillingFrequency   = "billing_frequency"
	FieldSpecialTerms       = "special_terms"
	FieldProductService     = "product_service"
	FieldContractDuration   = "contract_duration"
	FieldDiscountType       = "discount_type"
	FieldRegionTerritory    = "region_territory"
)

// Snapshot is the immutable attribute set of one quote version. The engine
// only ever reads it; a revision produces a new snapshot on a new quote.
type Snapshot struct {
	TotalAmount        float64 `json:"total_amount"`
	DiscountPercentage float64 `json:"discount_percentage"`
	PaymentTerms       string  `json:"payment_terms"`
	PaymentType        string  `json:"payment_type"`
	BillingFrequency   string  `json:"billing_frequency"`
	SpecialTerms       string  `json:"special_terms"`
	ProductService     string  `json:"product_service"`
	ContractDuration   string  `json:"contract_duration"`
	DiscountType       string  `json:"discount_type"`
	RegionTerritory    string  `json:"region_territory"`
}

// Closed enum values per categorical field.
var enumOptions = map[string][]string{
	FieldPaymentTerms:     {"Standard", ">Net 60", ">Net 90"},
	FieldPaymentType:      {"Credit", "Invoice"},
	FieldBillingFrequency: {"Standard", "Monthly", "Custom"},
	FieldSpecialTerms:     {"None", "Service Terms", "Non-standard"},
	FieldProductService:   {"Product", "Service"},
	FieldContractDuration: {"Any Duration", "12-24 Months", ">24 Months"},
	FieldDiscountType:     {"Standard", "Non-standard"},
	FieldRegionTerritory:  {"Domestic", "International"},
}

// Validate checks enum membership and numeric bounds. Malformed input is
// rejected here, at the boundary, so rule matching can fail closed without
// ever blocking on bad data.
func (s Snapshot) Validate() error {
	if s.TotalAmount < 0 {
		return errors.InvalidInput(FieldTotalAmount, "must not be negative")
	}
	if s.DiscountPercentage < 0 || s.DiscountPercentage > 100 {
		return errors.InvalidInput(FieldDiscountPercentage, "must be between 0 and 100")
	}
	for field, value := range s.categoricalValues() {
		if value == "" {
			continue
		}
		if !contains(enumOptions[field], value) {
			return errors.InvalidInput(field, "not a valid option: "+value)
		}
	}
	return nil
}

// numericValue returns the numeric value of a field, or ok=false for
// categorical fields.
func (s Snapshot) numericValue(field string) (float64, bool) {
	switch field {
	case FieldTotalAmount:
		return s.TotalAmount, true
	case FieldDiscountPercentage:
		return s.DiscountPercentage, true
	}
	return 0, false
}

// stringValue returns the string value of a categorical field, or "" for
// numeric fields.
func (s Snapshot) stringValue(field string) string {
	return s.categoricalValues()[field]
}

func (s Snapshot) categoricalValues() map[string]string {
	return map[string]string{
		FieldPaymentTerms:     s.PaymentTerms,
		FieldPaymentType:      s.PaymentType,
		FieldBillingFrequency: s.BillingFrequency,
		FieldSpecialTerms:     s.SpecialTerms,
		FieldProductService:   s.ProductService,
		FieldContractDuration: s.ContractDuration,
		FieldDiscountType:     s.DiscountType,
		FieldRegionTerritory:  s.RegionTerritory,
	}
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
