package model

import (
	"errors"
	"sync"
	"testing"

	"Poly_Maker/internal/fixedpoint"
)

func TestNewIntentValidates(t *testing.T) {
	cases := []struct {
		name   string
		market string
		price  fixedpoint.Price
		size   fixedpoint.Size
	}{
		{"empty market", "", 500, 10},
		{"zero price", "m", 0, 10},
		{"negative size", "m", 500, -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewIntent(c.market, Buy, c.price, c.size, Normal)
			if !errors.Is(err, ErrInvalidIntent) {
				t.Fatalf("want ErrInvalidIntent, got %v", err)
			}
		})
	}
}

func TestSetOrderIDFirstWins(t *testing.T) {
	in, err := NewIntent("m", Sell, 510, 100, High)
	if err != nil {
		t.Fatal(err)
	}
	if in.OrderID() != "" {
		t.Fatal("order id must be empty before ack")
	}

	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if in.SetOrderID(id) {
				wins <- id
			}
		}(id)
	}
	wg.Wait()
	close(wins)

	var got []string
	for id := range wins {
		got = append(got, id)
	}
	if len(got) != 1 || in.OrderID() != got[0] {
		t.Fatalf("want exactly one winner, got %v (stored %q)", got, in.OrderID())
	}
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"buy": Buy, "BUY": Buy, "bid": Buy, "Sell": Sell, "ask": Sell} {
		got, err := ParseSide(in)
		if err != nil || got != want {
			t.Errorf("ParseSide(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("want ErrInvalidSide, got %v", err)
	}
}

func TestIntentDefaults(t *testing.T) {
	in, err := NewIntent("m", Buy, 400, 5, Critical, WithCreatedNs(42))
	if err != nil {
		t.Fatal(err)
	}
	if !in.Critical() || in.CreatedNs() != 42 {
		t.Fatalf("unexpected intent %v created=%d", in, in.CreatedNs())
	}
	if in.ClientID().String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("client id not assigned")
	}
}
