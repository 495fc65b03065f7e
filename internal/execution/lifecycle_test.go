package execution

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/audit"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/exchange"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/pkg/book"
)

// passRounder accepts price and qty unchanged.
type passRounder struct{}

func (passRounder) RoundPriceQty(ctx context.Context, symbol string, price, qty float64) (float64, float64, error) {
	return price, qty, nil
}

// errRounder rejects every order with a fixed error.
type errRounder struct{ err error }

func (r errRounder) RoundPriceQty(ctx context.Context, symbol string, price, qty float64) (float64, float64, error) {
	return 0, 0, r.err
}

// countSink records every persisted order copy.
type countSink struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (s *countSink) SaveOrderAsync(order domain.Order) {
	s.mu.Lock()
	s.orders = append(s.orders, order)
	s.mu.Unlock()
}

func (s *countSink) last() (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.orders) == 0 {
		return domain.Order{}, false
	}
	return s.orders[len(s.orders)-1], true
}

// countingFiller counts monitoring passes around an inner filler.
type countingFiller struct {
	Filler
	mu    sync.Mutex
	ticks int
}

func (c *countingFiller) Tick(ctx context.Context, order *domain.Order, snap book.Snapshot) (*domain.Fill, error) {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
	return c.Filler.Tick(ctx, order, snap)
}

func (c *countingFiller) tickCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// errFiller never makes progress.
type errFiller struct{}

func (errFiller) Mode() Mode                      { return ModeSim }
func (errFiller) PrepareOpen(order *domain.Order) {}
func (errFiller) Tick(ctx context.Context, order *domain.Order, snap book.Snapshot) (*domain.Fill, error) {
	return nil, errors.New("book unavailable")
}
func (errFiller) Latency(pending int) time.Duration { return 0 }
func (errFiller) AutoAdjust(order *domain.Order, snap book.Snapshot) *domain.Adjust {
	return nil
}

// noFillMass builds a MASS filler whose draws never land under the
// clamped probability.
func noFillMass(latency time.Duration) *MassFiller {
	params := DefaultMassParams()
	params.BaseLatency = latency
	return NewMassFiller(params, &scriptedRand{vals: []float64{0.99}})
}

func staticSnap(snap book.Snapshot) SnapshotFunc {
	return func() book.Snapshot { return snap }
}

func TestLifecycle_SimOpenAndFill(t *testing.T) {
	sink := &countSink{}
	var opened, partial, filled int
	filler := &countingFiller{Filler: NewSimFiller()}

	lc := NewLifecycle(nil, passRounder{}, filler, Options{
		Store: sink,
		Callbacks: Callbacks{
			OnOpened:  func(o *domain.Order) { opened++ },
			OnPartial: func(o *domain.Order, f domain.Fill) { partial++ },
			OnFilled:  func(o *domain.Order) { filled++ },
		},
	})

	order, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, "")
	if err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}
	if !strings.HasPrefix(order.ID, "SIM-") {
		t.Errorf("order ID = %q, want SIM- prefix", order.ID)
	}
	if order.Status != domain.StatusNew {
		t.Errorf("Status = %v, want NEW", order.Status)
	}

	if err := lc.StartMonitoring(context.Background(), staticSnap(massSnap())); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}

	if got := filler.tickCount(); got != 1 {
		t.Errorf("ticks = %d, want 1 (SIM fills on the first pass)", got)
	}
	if opened != 1 || filled != 1 || partial != 0 {
		t.Errorf("callbacks opened/filled/partial = %d/%d/%d, want 1/1/0", opened, filled, partial)
	}
	if cur := lc.Current(); cur != nil {
		t.Errorf("Current() after fill = %+v, want nil", cur)
	}
	last, ok := sink.last()
	if !ok {
		t.Fatal("no orders persisted")
	}
	if last.Status != domain.StatusFilled || last.Filled != 1 {
		t.Errorf("persisted final state = %v filled %v, want FILLED 1", last.Status, last.Filled)
	}
}

func TestLifecycle_OpenIdempotent(t *testing.T) {
	var opened int
	lc := NewLifecycle(nil, passRounder{}, noFillMass(10*time.Millisecond), Options{
		Callbacks: Callbacks{OnOpened: func(o *domain.Order) { opened++ }},
	})

	first, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, "")
	if err != nil {
		t.Fatalf("OpenLimit() #1 error = %v", err)
	}
	second, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 95, 2, "")
	if err != nil {
		t.Fatalf("OpenLimit() #2 error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second open ID = %q, want %q (slot unchanged)", second.ID, first.ID)
	}
	if second.Price != 100 || second.Amount != 1 {
		t.Errorf("second open = %v @ %v, want original 1 @ 100", second.Amount, second.Price)
	}
	if opened != 1 {
		t.Errorf("OnOpened fired %d times, want 1", opened)
	}
}

func TestLifecycle_OpenModeOverride(t *testing.T) {
	// Empty mode inherits the filler's; a non-LIVE override stamps the
	// order without touching the venue.
	lc := NewLifecycle(nil, passRounder{}, NewSimFiller(), Options{})

	order, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ModeMass)
	if err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}
	if order.Mode != string(ModeMass) {
		t.Errorf("order mode = %q, want MASS override", order.Mode)
	}
	if !strings.HasPrefix(order.ID, "SIM-") {
		t.Errorf("order ID = %q, want local SIM- id", order.ID)
	}

	// A LIVE override without a venue client must refuse, not panic.
	lc = NewLifecycle(nil, passRounder{}, NewSimFiller(), Options{})
	if _, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ModeLive); err == nil {
		t.Error("OpenLimit() with LIVE override and nil client succeeded, want error")
	}
}

func TestLifecycle_RoundingErrorPropagates(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"quantity zero", exchange.ErrQuantityZero},
		{"below min notional", exchange.ErrBelowMinNotional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle(nil, errRounder{err: tt.err}, NewSimFiller(), Options{})

			_, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 0, "")
			if !errors.Is(err, tt.err) {
				t.Errorf("OpenLimit() error = %v, want wrapping %v", err, tt.err)
			}
			if cur := lc.Current(); cur != nil {
				t.Errorf("Current() after rejected open = %+v, want nil", cur)
			}
		})
	}
}

func TestLifecycle_MonitorStopsOnContextCancel(t *testing.T) {
	lc := NewLifecycle(nil, passRounder{}, noFillMass(5*time.Millisecond), Options{})

	if _, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ""); err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- lc.StartMonitoring(ctx, staticSnap(massSnap())) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("StartMonitoring() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	if cur := lc.Current(); cur == nil || !cur.IsOpen() {
		t.Errorf("Current() = %+v, want order still open after monitor stop", cur)
	}
}

func TestLifecycle_CancelEmitsExactlyOnce(t *testing.T) {
	var canceled []domain.Status
	lc := NewLifecycle(nil, passRounder{}, noFillMass(5*time.Millisecond), Options{
		Callbacks: Callbacks{OnCanceled: func(o *domain.Order) { canceled = append(canceled, o.Status) }},
	})

	if _, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ""); err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- lc.StartMonitoring(context.Background(), staticSnap(massSnap())) }()
	time.Sleep(20 * time.Millisecond)

	if err := lc.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("StartMonitoring() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not drain after cancel")
	}

	if err := lc.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() repeat error = %v", err)
	}

	if len(canceled) != 1 {
		t.Fatalf("OnCanceled fired %d times, want 1", len(canceled))
	}
	if canceled[0] != domain.StatusCanceled {
		t.Errorf("canceled order status = %v, want CANCELED", canceled[0])
	}
	if cur := lc.Current(); cur != nil {
		t.Errorf("Current() after cancel = %+v, want nil", cur)
	}
}

func TestLifecycle_TickErrorKeepsOrderOpen(t *testing.T) {
	lc := NewLifecycle(nil, passRounder{}, errFiller{}, Options{})

	if _, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ""); err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := lc.StartMonitoring(ctx, staticSnap(massSnap()))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StartMonitoring() error = %v, want deadline exceeded", err)
	}

	cur := lc.Current()
	if cur == nil || cur.Status != domain.StatusNew || cur.Filled != 0 {
		t.Errorf("Current() = %+v, want untouched NEW order", cur)
	}
}

func TestLifecycle_MassRunsToCompletion(t *testing.T) {
	// Zero latency spins the monitor tick-tight; cycling zero draws
	// fill 5% of remaining per pass until the epsilon close-out.
	params := DefaultMassParams()
	params.Alpha = 1
	params.Beta = 0
	params.BaseLatency = 0
	filler := NewMassFiller(params, &scriptedRand{vals: []float64{0}})

	var partial, filled int
	var final *domain.Order
	lc := NewLifecycle(nil, passRounder{}, filler, Options{
		Callbacks: Callbacks{
			OnPartial: func(o *domain.Order, f domain.Fill) { partial++ },
			OnFilled:  func(o *domain.Order) { filled++; final = o },
		},
	})

	if _, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ""); err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lc.StartMonitoring(ctx, staticSnap(massSnap())); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}

	if filled != 1 || partial == 0 {
		t.Errorf("callbacks filled/partial = %d/%d, want 1/>0", filled, partial)
	}
	if final == nil || final.Filled != final.Amount {
		t.Errorf("final order = %+v, want fully filled", final)
	}
	if chained := filler.TakeChained(); chained == nil || chained.Side != domain.SideSell {
		t.Errorf("TakeChained() = %+v, want staged SELL exit", chained)
	}
}

func TestLifecycle_LiveAmbiguousTimeout(t *testing.T) {
	client := &fakeOrderClient{createErr: &exchange.APIError{Code: -1007, Msg: "Timeout waiting for response"}}
	lc := NewLifecycle(client, passRounder{}, NewLiveFiller(client), Options{})

	_, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, "")
	if !errors.Is(err, exchange.ErrAmbiguousTimeout) {
		t.Errorf("OpenLimit() error = %v, want ErrAmbiguousTimeout", err)
	}
	if cur := lc.Current(); cur != nil {
		t.Errorf("Current() after ambiguous open = %+v, want nil", cur)
	}
}

func TestLifecycle_LiveCancelBestEffort(t *testing.T) {
	client := &fakeOrderClient{cancelErr: errors.New("venue refused")}
	var canceled int
	lc := NewLifecycle(client, passRounder{}, NewLiveFiller(client), Options{
		Callbacks: Callbacks{OnCanceled: func(o *domain.Order) { canceled++ }},
	})

	order, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, "")
	if err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}
	if order.ID != "1001" {
		t.Errorf("order ID = %q, want venue id 1001", order.ID)
	}

	if err := lc.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v, want nil despite venue refusal", err)
	}
	client.mu.Lock()
	cancels := client.cancels
	client.mu.Unlock()
	if cancels != 1 {
		t.Errorf("venue cancels = %d, want 1", cancels)
	}
	if canceled != 1 {
		t.Errorf("OnCanceled fired %d times, want 1", canceled)
	}
	if cur := lc.Current(); cur != nil {
		t.Errorf("Current() after cancel = %+v, want nil", cur)
	}
}

func TestLifecycle_AuditTrailSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl.gz")
	trail, err := audit.NewLogger(path)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	lc := NewLifecycle(nil, passRounder{}, NewSimFiller(), Options{Audit: trail})

	if _, err := lc.OpenLimit(context.Background(), "BTCUSDT", domain.SideBuy, 100, 1, ""); err != nil {
		t.Fatalf("OpenLimit() error = %v", err)
	}
	if err := lc.StartMonitoring(context.Background(), staticSnap(massSnap())); err != nil {
		t.Fatalf("StartMonitoring() error = %v", err)
	}
	if err := trail.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events := readEvents(t, path)
	want := []string{audit.EvOrderOpened, audit.EvOrderFilled}
	if len(events) != len(want) {
		t.Fatalf("trail has %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, name := range want {
		if events[i].Event != name {
			t.Errorf("event[%d] = %q, want %q", i, events[i].Event, name)
		}
	}
	if events[1].Qty != 1 {
		t.Errorf("filled event qty = %v, want 1", events[1].Qty)
	}
}

func readEvents(t *testing.T, path string) []audit.Event {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trail: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()

	var events []audit.Event
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var ev audit.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan trail: %v", err)
	}
	return events
}
