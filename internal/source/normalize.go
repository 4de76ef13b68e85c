package source

import (
	"github.com/galois26/procurement-ingester/internal/config"
	"github.com/galois26/procurement-ingester/internal/model"
)

// normalizer maps a flattened row onto the canonical record.
type normalizer struct {
	source   string
	country  model.Country
	fields   config.FieldMap
	currency string // used when the row carries none
}

// normalize returns false when the row lacks an id or a title. url is the
// document the row came from, used when the row names no link of its own.
func (n normalizer) normalize(r Row, raw model.Payload, url string) (model.TenderRecord, bool) {
	id := r.Pick(n.fields.NoticeID)
	title := r.Pick(n.fields.Title)
	if id == "" || title == "" {
		return model.TenderRecord{}, false
	}

	supplier := model.ParseSupplier(r.Pick(n.fields.SupplierName))
	if v := r.Pick(n.fields.SupplierRegistryID); v != "" {
		supplier.RegistryID = v
	}
	if v := r.Pick(n.fields.SupplierClassificationCode); v != "" {
		supplier.ClassificationCode = v
	}

	return model.TenderRecord{
		SourceName:     n.source,
		SourceRecordID: id,
		Title:          title,
		Description:    r.Pick(n.fields.Description),
		Agency:         r.Pick(n.fields.Agency),
		BuyerCountry:   n.country,
		AwardAmount:    ParseAmount(r.Pick(n.fields.AwardAmount)),
		Currency:       defaultStr(r.Pick(n.fields.Currency), n.currency),
		AwardDate:      ParseDate(r.Pick(n.fields.AwardDate)),
		Supplier:       supplier,
		DataSourceURL:  defaultStr(r.Pick(n.fields.URL), url),
		RawPayload:     raw,
		Tags:           model.NormalizeTags(r.Values(n.fields.Tags)),
	}, true
}
