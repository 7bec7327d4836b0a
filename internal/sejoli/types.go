package sejoli

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Order is the canonical internal form of one Sejoli sale. The wp-json API
// is inconsistent about field names (ID vs id, order_date vs created_at),
// so all of that is absorbed here and the rest of the pipeline never sees
// the raw payload.
type Order struct {
	ID             int64
	UserEmail      string
	UserName       string
	UserID         int64
	ProductID      int64
	ProductName    string
	GrandTotal     int64
	Status         string
	AffiliateID    int64
	AffiliateName  string
	PaymentGateway string
	CreatedAt      time.Time
}

// UnmarshalJSON decodes an order from either endpoint variant.
func (o *Order) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.ID = readIntRaw(raw, "ID", "id", "order_id")
	o.UserEmail = strings.ToLower(strings.TrimSpace(readStringRaw(raw, "user_email", "email")))
	o.UserName = readStringRaw(raw, "user_name", "display_name", "name")
	o.UserID = readIntRaw(raw, "user_id")
	o.ProductID = readIntRaw(raw, "product_id")
	o.ProductName = readStringRaw(raw, "product_name", "product_title")
	o.GrandTotal = int64(readFloatRaw(raw, "grand_total", "total", "amount"))
	o.Status = strings.ToLower(strings.TrimSpace(readStringRaw(raw, "status")))
	o.AffiliateID = readIntRaw(raw, "affiliate_id")
	o.AffiliateName = readStringRaw(raw, "affiliate_name")
	o.PaymentGateway = readStringRaw(raw, "payment_gateway", "payment_method")
	o.CreatedAt = readTimeRaw(raw, "order_date", "created_at")
	return nil
}

// HasAffiliate reports whether the order is attributed to a referring
// partner.
func (o Order) HasAffiliate() bool {
	return o.AffiliateID > 0
}

// ExternalID returns the stable ledger key derived from the order id.
func (o Order) ExternalID() string {
	return "sejoli-" + strconv.FormatInt(o.ID, 10)
}

// Product is one entry of the Sejoli product catalog. AffiliateType is
// "percentage" or "flat"; AffiliateFee is the rate or flat Rupiah amount.
type Product struct {
	ID            int64
	Title         string
	Price         int64
	AffiliateType string
	AffiliateFee  float64
}

// UnmarshalJSON tolerates both the flat affiliate object and the
// keyed-by-level map ({"0": {...}, "1": {...}}) the API returns.
func (p *Product) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.ID = readIntRaw(raw, "id", "ID")
	p.Title = readStringRaw(raw, "title", "name")
	p.Price = int64(readFloatRaw(raw, "price", "product_raw_price"))

	if affRaw, ok := raw["affiliate"]; ok {
		p.AffiliateType, p.AffiliateFee = decodeAffiliate(affRaw)
	}
	return nil
}

func decodeAffiliate(raw json.RawMessage) (string, float64) {
	// Keyed map variant: prefer level "1", fall back to "0", then any.
	var levels map[string]json.RawMessage
	if err := json.Unmarshal(raw, &levels); err == nil && len(levels) > 0 {
		if _, direct := levels["type"]; !direct {
			entry, ok := levels["1"]
			if !ok {
				entry, ok = levels["0"]
			}
			if !ok {
				for _, v := range levels {
					entry = v
					break
				}
			}
			return decodeAffiliateEntry(entry)
		}
		return decodeAffiliateEntry(raw)
	}
	return "", 0
}

func decodeAffiliateEntry(raw json.RawMessage) (string, float64) {
	entry := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", 0
	}
	typ := strings.ToLower(readStringRaw(entry, "type"))
	fee := readFloatRaw(entry, "fee")
	if typ != "percentage" {
		typ = "flat"
	}
	return typ, fee
}

func readStringRaw(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		var decoded string
		if err := json.Unmarshal(val, &decoded); err == nil {
			if decoded = strings.TrimSpace(decoded); decoded != "" {
				return decoded
			}
			continue
		}
		var number float64
		if err := json.Unmarshal(val, &number); err == nil && number != 0 {
			return strconv.FormatFloat(number, 'f', -1, 64)
		}
	}
	return ""
}

func readIntRaw(raw map[string]json.RawMessage, keys ...string) int64 {
	return int64(readFloatRaw(raw, keys...))
}

func readFloatRaw(raw map[string]json.RawMessage, keys ...string) float64 {
	for _, key := range keys {
		val, ok := raw[key]
		if !ok {
			continue
		}
		var decoded float64
		if err := json.Unmarshal(val, &decoded); err == nil && decoded != 0 {
			return decoded
		}
		var str string
		if err := json.Unmarshal(val, &str); err == nil {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil && parsed != 0 {
				return parsed
			}
		}
	}
	return 0
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

func readTimeRaw(raw map[string]json.RawMessage, keys ...string) time.Time {
	for _, key := range keys {
		str := readStringRaw(raw, key)
		if str == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, str); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
