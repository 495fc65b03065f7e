package marketdata

import (
	"reflect"
	"testing"
	"time"
)

func TestSubscriptions_AdmitAndRefresh(t *testing.T) {
	subs := NewSubscriptions(2, nil)

	if !subs.Request("BTCUSDT") {
		t.Fatal("Request(BTCUSDT) = false, want true")
	}
	if !subs.Request("BTCUSDT") {
		t.Fatal("repeat Request(BTCUSDT) = false, want true")
	}
	if subs.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (repeat request must not duplicate)", subs.Len())
	}
}

func TestSubscriptions_EvictsLeastRecentlyActive(t *testing.T) {
	var evicted []string
	subs := NewSubscriptions(2, func(sym string) { evicted = append(evicted, sym) })

	current := time.Unix(1000, 0)
	subs.now = func() time.Time { return current }

	subs.Request("AAAUSDT")
	current = current.Add(time.Second)
	subs.Request("BBBUSDT")
	current = current.Add(time.Second)
	subs.Touch("AAAUSDT") // AAA is now fresher than BBB

	current = current.Add(time.Second)
	if !subs.Request("CCCUSDT") {
		t.Fatal("Request(CCCUSDT) = false, want true")
	}

	if !reflect.DeepEqual(evicted, []string{"BBBUSDT"}) {
		t.Errorf("evicted = %v, want [BBBUSDT]", evicted)
	}
	want := []string{"AAAUSDT", "CCCUSDT"}
	if got := subs.Active(); !reflect.DeepEqual(got, want) {
		t.Errorf("Active() = %v, want %v", got, want)
	}
}

func TestSubscriptions_TieBreaksLexicographically(t *testing.T) {
	var evicted []string
	subs := NewSubscriptions(2, func(sym string) { evicted = append(evicted, sym) })

	// Frozen clock: both entries share one timestamp.
	frozen := time.Unix(1000, 0)
	subs.now = func() time.Time { return frozen }

	subs.Request("ZZZUSDT")
	subs.Request("AAAUSDT")
	subs.Request("MMMUSDT")

	if !reflect.DeepEqual(evicted, []string{"AAAUSDT"}) {
		t.Errorf("evicted = %v, want [AAAUSDT] (lexicographic tie-break)", evicted)
	}
}

func TestSubscriptions_ZeroCapacity(t *testing.T) {
	fired := false
	subs := NewSubscriptions(0, func(string) { fired = true })

	if subs.Request("BTCUSDT") {
		t.Error("Request with zero capacity = true, want false")
	}
	if fired {
		t.Error("onEvict fired for a rejected request")
	}
	if subs.Len() != 0 {
		t.Errorf("Len() = %d, want 0", subs.Len())
	}
}

func TestSubscriptions_RemoveSkipsCallback(t *testing.T) {
	fired := false
	subs := NewSubscriptions(4, func(string) { fired = true })

	subs.Request("BTCUSDT")
	subs.Remove("BTCUSDT")

	if fired {
		t.Error("Remove must not fire onEvict")
	}
	if subs.Contains("BTCUSDT") {
		t.Error("Contains(BTCUSDT) = true after Remove")
	}
}

func TestSubscriptions_ActiveSorted(t *testing.T) {
	subs := NewSubscriptions(8, nil)
	for _, sym := range []string{"ETHUSDT", "BTCUSDT", "XRPUSDT", "ADAUSDT"} {
		subs.Request(sym)
	}

	want := []string{"ADAUSDT", "BTCUSDT", "ETHUSDT", "XRPUSDT"}
	if got := subs.Active(); !reflect.DeepEqual(got, want) {
		t.Errorf("Active() = %v, want %v", got, want)
	}
}
