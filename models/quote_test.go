package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func TestQuoteValueMergePresentWinsLatest(t *testing.T) {
	old := QuoteValue{Bid: f(10), Ask: f(11), Symbol: s("VCB")}
	next := QuoteValue{Bid: f(12)}

	merged := old.Merge(next)

	assert.Equal(t, 12.0, *merged.Bid, "new bid should win")
	assert.Equal(t, 11.0, *merged.Ask, "ask absent in new, old retained")
	assert.Equal(t, "VCB", *merged.Symbol, "symbol absent in new, old retained")
}

func TestQuoteValueMergeIsAssociativeOnDisjointFields(t *testing.T) {
	a := QuoteValue{Bid: f(1)}
	b := QuoteValue{Ask: f(2)}
	c := QuoteValue{Volume: f(3)}

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))

	assert.Equal(t, *left.Bid, *right.Bid)
	assert.Equal(t, *left.Ask, *right.Ask)
	assert.Equal(t, *left.Volume, *right.Volume)
}

func TestQuoteValueMergeIdempotent(t *testing.T) {
	a := QuoteValue{Bid: f(5)}
	once := a.Merge(a)
	twice := once.Merge(a)

	assert.Equal(t, *once.Bid, *twice.Bid)
}
