package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"qattend/internal/binding"
	"qattend/internal/ledger"
	"qattend/internal/roster"
	"qattend/internal/token"
)

// In-memory stores standing in for the Postgres repos.

type memRoster struct {
	students map[string]roster.Student
}

func (m *memRoster) Get(_ context.Context, roll string) (*roster.Student, error) {
	if s, ok := m.students[roll]; ok {
		return &s, nil
	}
	return nil, nil
}

type memBindings struct {
	byRoll map[string]binding.Binding
}

func (m *memBindings) FindByRoll(_ context.Context, roll string) (*binding.Binding, error) {
	if b, ok := m.byRoll[roll]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *memBindings) FindByDevice(_ context.Context, deviceID string) (*binding.Binding, error) {
	for _, b := range m.byRoll {
		if b.DeviceID == deviceID {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (m *memBindings) Bind(_ context.Context, roll, deviceID string) error {
	m.byRoll[roll] = binding.Binding{RollNumber: roll, DeviceID: deviceID, BoundAt: time.Now()}
	return nil
}

type memLedger struct {
	records []ledger.Record
}

func (m *memLedger) Find(_ context.Context, roll, scope, day string, semantics ledger.DedupSemantics) (*ledger.Record, error) {
	for i := range m.records {
		r := m.records[i]
		if r.RollNumber != roll || r.Scope != scope {
			continue
		}
		if semantics == ledger.DedupPerDay && r.Day != day {
			continue
		}
		return &r, nil
	}
	return nil, nil
}

func (m *memLedger) Insert(_ context.Context, rec ledger.Record) (ledger.Record, bool, error) {
	for _, r := range m.records {
		if r.RollNumber == rec.RollNumber && r.Scope == rec.Scope && r.Day == rec.Day {
			return ledger.Record{}, false, nil
		}
	}
	rec.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return rec, true, nil
}

func newTestGate(policy Policy, rolls ...string) (*Gate, *memLedger, *memBindings) {
	students := make(map[string]roster.Student)
	for _, roll := range rolls {
		students[roll] = roster.Student{RollNumber: roll, StudentName: "Student " + roll}
	}
	led := &memLedger{}
	bind := &memBindings{byRoll: make(map[string]binding.Binding)}
	return New(policy, &memRoster{students: students}, bind, led), led, bind
}

func tokenAt(unix int64) string {
	return token.Issue(time.Unix(unix, 0)).Value
}

func TestFreshTokenAccepted(t *testing.T) {
	g, led, _ := newTestGate(Policy{Window: 20 * time.Second}, "22311a1965")

	issued := int64(1700000000)
	res, err := g.Process(context.Background(), Request{
		RollNumber: "22311A1965",
		Token:      tokenAt(issued),
	}, time.Unix(issued+15, 0))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accept, got %+v", res.Rejection)
	}
	if len(led.records) != 1 {
		t.Fatalf("ledger should gain one row, has %d", len(led.records))
	}
	if led.records[0].RollNumber != "22311a1965" {
		t.Fatalf("roll not lowercased: %q", led.records[0].RollNumber)
	}
	if res.Student == nil || res.Record == nil {
		t.Fatal("accepted result should carry student and record")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	g, led, _ := newTestGate(Policy{Window: 20 * time.Second}, "22311a1965")

	issued := int64(1700000000)
	res, err := g.Process(context.Background(), Request{
		RollNumber: "22311a1965",
		Token:      tokenAt(issued),
	}, time.Unix(issued+25, 0))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted {
		t.Fatal("expected reject")
	}
	if res.Rejection.Reason != ReasonExpiredToken {
		t.Fatalf("reason = %s", res.Rejection.Reason)
	}
	if res.Rejection.AgeSeconds != 25 {
		t.Fatalf("age = %d, want 25", res.Rejection.AgeSeconds)
	}
	if len(led.records) != 0 {
		t.Fatal("rejected request must not write the ledger")
	}
}

func TestTokenBoundary(t *testing.T) {
	g, _, _ := newTestGate(Policy{Window: 20 * time.Second}, "a1")
	issued := int64(1700000000)

	res, err := g.Process(context.Background(), Request{RollNumber: "a1", Token: tokenAt(issued)},
		time.Unix(issued+20, 0))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("age exactly equal to window must accept, got %+v", res.Rejection)
	}
}

func TestMalformedToken(t *testing.T) {
	g, _, _ := newTestGate(Policy{Window: 20 * time.Second}, "a1")
	for _, bad := range []string{"", "1700000000", "qr_nonsense"} {
		res, err := g.Process(context.Background(), Request{RollNumber: "a1", Token: bad}, time.Now())
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if res.Accepted || res.Rejection.Reason != ReasonMalformedToken {
			t.Fatalf("token %q: got %+v", bad, res)
		}
	}
}

func TestGeofenceRejectsDistantCoordinates(t *testing.T) {
	g, _, _ := newTestGate(Policy{
		Window:    time.Minute,
		Geofence:  true,
		CampusLat: 17.4553223,
		CampusLon: 78.6664965,
		RadiusM:   500,
	}, "a1")

	lat, lon := 17.4605, 78.4607
	res, err := g.Process(context.Background(), Request{
		RollNumber:       "a1",
		Token:            token.Issue(time.Now()).Value,
		Lat:              &lat,
		Lon:              &lon,
		LocationRequired: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonOutOfRange {
		t.Fatalf("expected out_of_range, got %+v", res)
	}
	if res.Rejection.DistanceM <= 500 {
		t.Fatalf("rejection should carry measured distance above radius, got %f", res.Rejection.DistanceM)
	}
}

func TestGeofenceSkippedWhenSessionDoesNotRequireIt(t *testing.T) {
	g, _, _ := newTestGate(Policy{
		Window:    time.Minute,
		Geofence:  true,
		CampusLat: 17.4553223,
		CampusLon: 78.6664965,
		RadiusM:   500,
	}, "a1")

	// No coordinates at all; loc flag off means the check is skipped.
	res, err := g.Process(context.Background(), Request{
		RollNumber: "a1",
		Token:      token.Issue(time.Now()).Value,
	}, time.Now())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accept, got %+v", res.Rejection)
	}
}

func TestGeofenceMissingCoordinates(t *testing.T) {
	g, _, _ := newTestGate(Policy{
		Window: time.Minute, Geofence: true, RadiusM: 500,
	}, "a1")

	res, err := g.Process(context.Background(), Request{
		RollNumber:       "a1",
		Token:            token.Issue(time.Now()).Value,
		LocationRequired: true,
	}, time.Now())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonOutOfRange {
		t.Fatalf("missing coordinates should reject, got %+v", res)
	}
}

func TestDeviceBoundElsewhere(t *testing.T) {
	g, _, _ := newTestGate(Policy{Window: time.Minute, DeviceBinding: true}, "a1", "a2")
	now := time.Now()

	res, err := g.Process(context.Background(), Request{
		RollNumber: "A1", DeviceID: "D1", Token: token.Issue(now).Value,
	}, now)
	if err != nil || !res.Accepted {
		t.Fatalf("first check-in should accept and bind: res=%+v err=%v", res, err)
	}

	res, err = g.Process(context.Background(), Request{
		RollNumber: "a2", DeviceID: "D1", Token: token.Issue(now).Value,
	}, now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonDeviceBoundElsewhere {
		t.Fatalf("expected device_bound_elsewhere, got %+v", res)
	}
	if res.Rejection.OtherRoll != "a1" {
		t.Fatalf("rejection should name the bound roll, got %q", res.Rejection.OtherRoll)
	}
}

func TestRollBoundElsewhere(t *testing.T) {
	g, _, _ := newTestGate(Policy{Window: time.Minute, DeviceBinding: true}, "a1")
	now := time.Now()

	if res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", DeviceID: "D1", Token: token.Issue(now).Value,
	}, now); err != nil || !res.Accepted {
		t.Fatalf("first check-in should accept: res=%+v err=%v", res, err)
	}

	res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", DeviceID: "D2", Token: token.Issue(now).Value,
	}, now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonRollBoundElsewhere {
		t.Fatalf("expected roll_bound_elsewhere, got %+v", res)
	}
}

func TestSameDeviceAcceptedAcrossDays(t *testing.T) {
	g, _, bind := newTestGate(Policy{
		Window: time.Minute, DeviceBinding: true, Dedup: ledger.DedupPerDay,
	}, "a1")

	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", DeviceID: "D1", Token: token.Issue(day1).Value,
	}, day1); err != nil || !res.Accepted {
		t.Fatalf("day one should accept: res=%+v err=%v", res, err)
	}
	if res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", DeviceID: "D1", Token: token.Issue(day2).Value,
	}, day2); err != nil || !res.Accepted {
		t.Fatalf("same device next day should accept: res=%+v err=%v", res, err)
	}
	if len(bind.byRoll) != 1 {
		t.Fatalf("returning student must not create a second binding: %v", bind.byRoll)
	}
}

func TestAlreadyMarkedSameDay(t *testing.T) {
	g, led, _ := newTestGate(Policy{Window: time.Minute}, "a1")
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", Token: token.Issue(now).Value,
	}, now); err != nil || !res.Accepted {
		t.Fatalf("first attempt should accept: res=%+v err=%v", res, err)
	}

	later := now.Add(30 * time.Second)
	res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", Token: token.Issue(later).Value,
	}, later)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonAlreadyMarked {
		t.Fatalf("expected already_marked, got %+v", res)
	}
	if res.Rejection.ExistingDay != "2026-03-02" {
		t.Fatalf("rejection should carry the existing day, got %q", res.Rejection.ExistingDay)
	}
	if len(led.records) != 1 {
		t.Fatalf("ledger must hold exactly one record, has %d", len(led.records))
	}
}

func TestPerDaySemanticsAllowNextDay(t *testing.T) {
	g, led, _ := newTestGate(Policy{Window: time.Minute, Dedup: ledger.DedupPerDay}, "a1")
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	for _, now := range []time.Time{day1, day2} {
		res, err := g.Process(context.Background(), Request{
			RollNumber: "a1", Token: token.Issue(now).Value,
		}, now)
		if err != nil || !res.Accepted {
			t.Fatalf("at %v: res=%+v err=%v", now, res, err)
		}
	}
	if len(led.records) != 2 {
		t.Fatalf("per-day semantics should allow one record per day, has %d", len(led.records))
	}
}

func TestPerScopeSemanticsRejectNextDay(t *testing.T) {
	g, _, _ := newTestGate(Policy{Window: time.Minute, Dedup: ledger.DedupPerScope}, "a1")
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", Scope: "acme", Token: token.Issue(day1).Value,
	}, day1); err != nil || !res.Accepted {
		t.Fatalf("day one: res=%+v err=%v", res, err)
	}

	res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", Scope: "acme", Token: token.Issue(day2).Value,
	}, day2)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonAlreadyMarked {
		t.Fatalf("per-scope semantics should reject across days, got %+v", res)
	}

	// A different scope is a fresh slate.
	res, err = g.Process(context.Background(), Request{
		RollNumber: "a1", Scope: "globex", Token: token.Issue(day2).Value,
	}, day2)
	if err != nil || !res.Accepted {
		t.Fatalf("different scope should accept: res=%+v err=%v", res, err)
	}
}

func TestUnknownIdentity(t *testing.T) {
	g, _, _ := newTestGate(Policy{Window: time.Minute}, "a1")
	now := time.Now()
	res, err := g.Process(context.Background(), Request{
		RollNumber: "nobody", Token: token.Issue(now).Value,
	}, now)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Accepted || res.Rejection.Reason != ReasonUnknownIdentity {
		t.Fatalf("expected unknown_identity, got %+v", res)
	}
	if res.Rejection.Field != "rollnumber" {
		t.Fatalf("rejection should name the failed field, got %q", res.Rejection.Field)
	}
}

func TestEmptyScopeFallsBackToDefault(t *testing.T) {
	g, led, _ := newTestGate(Policy{Window: time.Minute, DefaultScope: "campus"}, "a1")
	now := time.Now()
	res, err := g.Process(context.Background(), Request{
		RollNumber: "a1", Token: token.Issue(now).Value,
	}, now)
	if err != nil || !res.Accepted {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if led.records[0].Scope != "campus" {
		t.Fatalf("scope = %q, want default", led.records[0].Scope)
	}
}

func TestConcurrentSameRollMarksOnce(t *testing.T) {
	g, led, _ := newTestGate(Policy{Window: time.Minute}, "a1")
	now := time.Now()
	tok := token.Issue(now).Value

	const n = 16
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := g.Process(context.Background(), Request{RollNumber: "a1", Token: tok}, now)
			if err != nil {
				t.Errorf("process: %v", err)
			}
			results <- res
		}()
	}

	accepted := 0
	for i := 0; i < n; i++ {
		if res := <-results; res.Accepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("exactly one concurrent request should win, got %d", accepted)
	}
	if len(led.records) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(led.records))
	}
}
