package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bbiangul/agrokg/store"
)

func TestLinkerMatch(t *testing.T) {
	weed := store.EntityRef{Kind: store.LabelWeed, ID: 1}
	crop := store.EntityRef{Kind: store.LabelCrop, ID: 2}
	product := store.EntityRef{Kind: store.LabelProduct, ID: 3}
	curse := store.EntityRef{Kind: store.LabelWeed, ID: 4}

	l := NewLinker([]store.NamedEntity{
		{Ref: weed, Name: "ryegrass", Aliases: []string{"annual rye grass"}},
		{Ref: crop, Name: "wheat"},
		{Ref: product, Name: "XR700®"},
		{Ref: curse, Name: "patersons curse"},
		{Ref: store.EntityRef{Kind: store.LabelCrop, ID: 5}, Name: "oa"},
	})

	tests := []struct {
		name string
		text string
		want []store.EntityRef
	}{
		{"canonical names", "Apply XR700 to control ryegrass in wheat.", []store.EntityRef{weed, crop, product}},
		{"alias", "Controls Annual Rye-Grass up to 3 leaf.", []store.EntityRef{weed}},
		{"possessive", "Suppression of Paterson's curse only.", []store.EntityRef{curse}},
		{"word boundary", "Not registered for wheatgrass pastures.", nil},
		{"short names ignored", "oa oat oats", nil},
		{"no matches", "Store in a cool place away from sunlight.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Match(tt.text))
		})
	}
}
