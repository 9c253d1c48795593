package pulse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/config"
	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/notify"
	"github.com/HerbHall/printfleet/internal/probe"
	"github.com/HerbHall/printfleet/internal/testutil"
	"github.com/HerbHall/printfleet/pkg/models"
	"github.com/HerbHall/printfleet/pkg/plugin"
)

// fakePinger answers from a table of reachable addresses. Addresses in
// block hang until the context ends; addresses in panics panic.
type fakePinger struct {
	mu        sync.Mutex
	reachable map[string]bool
	block     map[string]bool
	panics    map[string]bool
	calls     map[string]int
	started   chan string
}

func newFakePinger() *fakePinger {
	return &fakePinger{
		reachable: map[string]bool{},
		block:     map[string]bool{},
		panics:    map[string]bool{},
		calls:     map[string]int{},
	}
}

func (p *fakePinger) set(addr string, up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reachable[addr] = up
}

func (p *fakePinger) Ping(ctx context.Context, addr string) probe.Reachability {
	p.mu.Lock()
	p.calls[addr]++
	up, block, boom, started := p.reachable[addr], p.block[addr], p.panics[addr], p.started
	p.mu.Unlock()

	if started != nil {
		started <- addr
	}
	if boom {
		panic("pinger exploded for " + addr)
	}
	if block {
		<-ctx.Done()
		return probe.Reachability{Err: ctx.Err()}
	}
	if !up {
		return probe.Reachability{Err: probe.ErrNoReply}
	}
	return probe.Reachability{Reachable: true, RTT: time.Millisecond}
}

func (p *fakePinger) count(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[addr]
}

// fakeSNMP serves values per address. Addresses without an entry time out.
type fakeSNMP struct {
	mu     sync.Mutex
	agents map[string]map[string]probe.Value
	calls  map[string]int
}

func newFakeSNMP() *fakeSNMP {
	return &fakeSNMP{agents: map[string]map[string]probe.Value{}, calls: map[string]int{}}
}

// printer registers a responsive printer agent. A nil level omits the
// level object.
func (s *fakeSNMP) printer(addr string, level *int, serial string, counter int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oids := DefaultConfig().OIDs
	values := map[string]probe.Value{
		probe.OIDSysDescr: {Type: gosnmp.OctetString, Raw: []byte("HP LaserJet M404")},
		oids.Serial:       {Type: gosnmp.OctetString, Raw: []byte(serial)},
		oids.PageCounter:  {Type: gosnmp.Counter32, Raw: uint(counter)},
	}
	if level != nil {
		values[oids.Level] = probe.Value{Type: gosnmp.Integer, Raw: *level}
	}
	s.agents[addr] = values
}

func (s *fakeSNMP) setLevel(addr string, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[addr][DefaultConfig().OIDs.Level] = probe.Value{Type: gosnmp.Integer, Raw: level}
}

func (s *fakeSNMP) remove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, addr)
}

func (s *fakeSNMP) Get(_ context.Context, addr string, oids []string) probe.SNMPResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[addr]++
	agent, ok := s.agents[addr]
	if !ok {
		return probe.SNMPResult{Err: errors.New("request timeout")}
	}
	values := map[string]probe.Value{}
	for _, oid := range oids {
		if v, ok := agent[oid]; ok {
			values[oid] = v
		}
	}
	if len(values) == 0 {
		return probe.SNMPResult{Err: probe.ErrSNMPNoValues}
	}
	return probe.SNMPResult{Values: values}
}

func (s *fakeSNMP) count(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[addr]
}

// fakeNotifier records sent messages and fails while err is set.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// harness bundles a module wired to fakes and an in-memory registry.
type harness struct {
	m        *Module
	registry *inventory.SQLiteRegistry
	pinger   *fakePinger
	snmp     *fakeSNMP
	notifier *fakeNotifier
	bus      *testutil.MockBus
	clock    *testutil.Clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := inventory.NewSQLiteRegistry(context.Background(), testutil.NewStore(t))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry: %v", err)
	}

	h := &harness{
		registry: reg,
		pinger:   newFakePinger(),
		snmp:     newFakeSNMP(),
		notifier: &fakeNotifier{},
		bus:      testutil.NewMockBus(),
		clock:    testutil.NewClock(),
	}
	cfg := DefaultConfig()
	cfg.ProbeRate = 0
	cfg.DeviceTimeout = 2 * time.Second
	cfg.PassTimeout = 5 * time.Second
	cfg.FleetCheckTimeout = 5 * time.Second

	h.m = &Module{logger: zap.NewNop(), cfg: cfg, bus: h.bus, mailMode: "smtp"}
	h.m.wire(reg, h.pinger, h.snmp, h.notifier, nil)
	h.m.prober.now = h.clock.Now
	h.m.toner.now = h.clock.Now
	h.m.alerter.now = h.clock.Now
	return h
}

// addDevice registers a device directly in the registry.
func (h *harness) addDevice(t *testing.T, opts ...func(*models.Device)) models.Device {
	t.Helper()
	d := testutil.NewDevice(opts...)
	d.ID = ""
	d.State = models.StateUnknown
	d.LastChecked = time.Time{}
	if err := h.registry.Create(context.Background(), &d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

func (h *harness) reload(t *testing.T, id string) models.Device {
	t.Helper()
	d, err := h.registry.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return *d
}

func (h *harness) consumable(t *testing.T, id string) models.ConsumableReading {
	t.Helper()
	c, err := h.registry.GetConsumable(context.Background(), id)
	if err != nil {
		t.Fatalf("GetConsumable: %v", err)
	}
	return c
}

// pluginDeps returns Init dependencies backed by default configuration.
func pluginDeps(t *testing.T) plugin.Dependencies {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	return plugin.Dependencies{
		Config: config.New(v).Sub("plugins.pulse"),
		Logger: zap.NewNop(),
		Store:  testutil.NewStore(t),
		Bus:    testutil.NewMockBus(),
	}
}
