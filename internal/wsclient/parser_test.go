package wsclient

import (
	"errors"
	"testing"

	"Poly_Maker/internal/model"
)

func TestParseBookEvent(t *testing.T) {
	raw := `{"event_type":"book","asset_id":"tok1","market":"0xcond",
		"bids":[{"price":"0.48","size":"30"},{"price":"0.49","size":"20"}],
		"asks":[{"price":"0.52","size":"25"}],"timestamp":"123","hash":"0x0"}`
	ds, err := Parse([]byte(raw), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || !ds[0].Full || ds[0].Market != "tok1" || ds[0].RecvNs != 7 {
		t.Fatalf("deltas = %+v", ds)
	}
	if len(ds[0].Bids) != 2 || ds[0].Bids[1].Price != 490 || ds[0].Asks[0].Size != 25 {
		t.Fatalf("levels = %+v", ds[0])
	}
}

func TestParsePriceChangeBatched(t *testing.T) {
	raw := `{"event_type":"price_change","market":"0xcond","price_changes":[
		{"asset_id":"a","price":"0.5","size":"0","side":"BUY"},
		{"asset_id":"b","price":"0.5","size":"10","side":"SELL"},
		{"asset_id":"a","price":"0.55","size":"3","side":"SELL"}]}`
	ds, err := Parse([]byte(raw), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 2 {
		t.Fatalf("want one delta per asset, got %+v", ds)
	}
	a := ds[0]
	if a.Market != "a" || a.Full || len(a.Bids) != 1 || a.Bids[0].Size != 0 || len(a.Asks) != 1 {
		t.Fatalf("asset a delta = %+v", a)
	}
	if ds[1].Market != "b" || ds[1].Asks[0].Price != 500 {
		t.Fatalf("asset b delta = %+v", ds[1])
	}
}

func TestParseLegacyPriceChange(t *testing.T) {
	raw := `{"event_type":"price_change","asset_id":"tok","changes":[{"price":"0.4","amount":"12","side":"buy"}]}`
	ds, err := Parse([]byte(raw), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Market != "tok" || ds[0].Bids[0].Size != 12 {
		t.Fatalf("deltas = %+v", ds)
	}
}

func TestParseGenericShape(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.Delta
	}{
		{
			name: "objects with amount and sequence",
			raw:  `{"market":"m1","sequence":"42","bids":[{"price":0.5,"amount":3}],"asks":[]}`,
			want: model.Delta{Market: "m1", Seq: 42, Bids: []model.Level{{Price: 500, Size: 3}}},
		},
		{
			name: "pairs with seq",
			raw:  `{"asset_id":"m2","seq":7,"asks":[["0.61","4"],[0.62,5]]}`,
			want: model.Delta{Market: "m2", Seq: 7, Asks: []model.Level{{Price: 610, Size: 4}, {Price: 620, Size: 5}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := Parse([]byte(tt.raw), 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(ds) != 1 {
				t.Fatalf("deltas = %+v", ds)
			}
			got := ds[0]
			if got.Market != tt.want.Market || got.Seq != tt.want.Seq || got.Full {
				t.Fatalf("got %+v", got)
			}
			if len(got.Bids) != len(tt.want.Bids) || len(got.Asks) != len(tt.want.Asks) {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
			for i := range got.Bids {
				if got.Bids[i] != tt.want.Bids[i] {
					t.Fatalf("bid %d = %+v", i, got.Bids[i])
				}
			}
			for i := range got.Asks {
				if got.Asks[i] != tt.want.Asks[i] {
					t.Fatalf("ask %d = %+v", i, got.Asks[i])
				}
			}
		})
	}
}

func TestParseArrayKeepsGoodEvents(t *testing.T) {
	raw := `[{"event_type":"book","asset_id":"a","bids":[],"asks":[]},
		{"event_type":"book","asset_id":"b","bids":[{"price":"x","size":"1"}]},
		{"event_type":"last_trade_price","asset_id":"a","price":"0.5"}]`
	ds, err := Parse([]byte(raw), 0)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
	if len(ds) != 1 || ds[0].Market != "a" {
		t.Fatalf("deltas = %+v", ds)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{
		`{not json`,
		`{"bids":[{"price":"0.5","size":"1"}]}`,
		`{"market":"m","seq":"abc","bids":[]}`,
		`{"event_type":"price_change","price_changes":[{"asset_id":"a","price":"0.5","size":"1","side":"HOLD"}]}`,
		`{"market":"m","bids":[{"price":"0.5"}]}`,
	} {
		if _, err := Parse([]byte(raw), 0); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%s) = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestParseSubShareSizeIsNotRemoval(t *testing.T) {
	raw := `{"event_type":"price_change","price_changes":[
		{"asset_id":"a","price":"0.50","size":"0.75","side":"BUY"},
		{"asset_id":"a","price":"0.51","amount":"0.01","side":"SELL"}]}`
	ds, err := Parse([]byte(raw), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || len(ds[0].Bids) != 1 || len(ds[0].Asks) != 1 {
		t.Fatalf("deltas = %+v", ds)
	}
	if ds[0].Bids[0].Size != 1 || ds[0].Asks[0].Size != 1 {
		t.Fatalf("sub-share sizes mapped to %d/%d, want 1/1", ds[0].Bids[0].Size, ds[0].Asks[0].Size)
	}
}
