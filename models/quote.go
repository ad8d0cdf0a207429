package models

// QuoteValue is a sparse record of quote fields. Every field is a pointer so
// "absent" is distinguishable from the zero value.
//
// Merge implements the "present wins latest" rule: for each field, the
// new value wins iff present, otherwise the old value is retained. The
// operation is idempotent and associative.
type QuoteValue struct {
	Ask          *float64
	AskSize      *float64
	Bid          *float64
	BidSize      *float64
	Change       *float64
	ChangePct    *float64
	Open         *float64
	High         *float64
	Low          *float64
	PrevClose    *float64
	Price        *float64
	PriceTime    *float64
	Volume       *float64

	Description  *string
	Country      *string
	Currency     *string
	DataProvider *string
	Symbol       *string
	SymbolID     *string
	Exchange     *string
	MarketType   *string
}

func mergeFloat(old, next *float64) *float64 {
	if next != nil {
		return next
	}
	return old
}

func mergeString(old, next *string) *string {
	if next != nil {
		return next
	}
	return old
}

// Merge returns the pointwise latest-non-null union of q and next, with
// next's present fields taking precedence.
func (q QuoteValue) Merge(next QuoteValue) QuoteValue {
	return QuoteValue{
		Ask:          mergeFloat(q.Ask, next.Ask),
		AskSize:      mergeFloat(q.AskSize, next.AskSize),
		Bid:          mergeFloat(q.Bid, next.Bid),
		BidSize:      mergeFloat(q.BidSize, next.BidSize),
		Change:       mergeFloat(q.Change, next.Change),
		ChangePct:    mergeFloat(q.ChangePct, next.ChangePct),
		Open:         mergeFloat(q.Open, next.Open),
		High:         mergeFloat(q.High, next.High),
		Low:          mergeFloat(q.Low, next.Low),
		PrevClose:    mergeFloat(q.PrevClose, next.PrevClose),
		Price:        mergeFloat(q.Price, next.Price),
		PriceTime:    mergeFloat(q.PriceTime, next.PriceTime),
		Volume:       mergeFloat(q.Volume, next.Volume),
		Description:  mergeString(q.Description, next.Description),
		Country:      mergeString(q.Country, next.Country),
		Currency:     mergeString(q.Currency, next.Currency),
		DataProvider: mergeString(q.DataProvider, next.DataProvider),
		Symbol:       mergeString(q.Symbol, next.Symbol),
		SymbolID:     mergeString(q.SymbolID, next.SymbolID),
		Exchange:     mergeString(q.Exchange, next.Exchange),
		MarketType:   mergeString(q.MarketType, next.MarketType),
	}
}
