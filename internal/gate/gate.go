// Package gate implements admission control for check-in requests: token
// freshness, optional geofence, optional device binding, then the duplicate
// check and ledger write, short-circuiting on the first failed check.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"qattend/internal/binding"
	"qattend/internal/geo"
	"qattend/internal/ledger"
	"qattend/internal/roster"
	"qattend/internal/token"
)

// RosterStore looks up valid identities.
type RosterStore interface {
	Get(ctx context.Context, roll string) (*roster.Student, error)
}

// BindingStore reads and writes device bindings.
type BindingStore interface {
	FindByRoll(ctx context.Context, roll string) (*binding.Binding, error)
	FindByDevice(ctx context.Context, deviceID string) (*binding.Binding, error)
	Bind(ctx context.Context, roll, deviceID string) error
}

// LedgerStore reads and appends attendance records.
type LedgerStore interface {
	Find(ctx context.Context, roll, scope, day string, semantics ledger.DedupSemantics) (*ledger.Record, error)
	Insert(ctx context.Context, rec ledger.Record) (ledger.Record, bool, error)
}

// Policy holds the admission toggles for one deployment. The source this
// replaces kept a near-duplicate code path per combination; here they are
// orthogonal flags on one gate.
type Policy struct {
	Window        time.Duration
	Geofence      bool
	CampusLat     float64
	CampusLon     float64
	RadiusM       float64
	DeviceBinding bool
	Dedup         ledger.DedupSemantics
	DefaultScope  string
}

// Request is one incoming check-in. Coordinates are client-reported and
// unauthenticated; the token is carried verbatim from the scanned QR URL.
type Request struct {
	RollNumber       string
	DeviceID         string
	Lat              *float64
	Lon              *float64
	Token            string
	Scope            string
	LocationRequired bool
}

// Result is the gate's verdict. Exactly one of Record or Rejection is set.
type Result struct {
	Accepted  bool
	Record    *ledger.Record
	Student   *roster.Student
	Rejection *Rejection
}

// Gate runs the composite admission check.
type Gate struct {
	policy   Policy
	roster   RosterStore
	bindings BindingStore
	ledger   LedgerStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a gate.
func New(policy Policy, rosterStore RosterStore, bindingStore BindingStore, ledgerStore LedgerStore) *Gate {
	if policy.Dedup == "" {
		policy.Dedup = ledger.DedupPerDay
	}
	if policy.DefaultScope == "" {
		policy.DefaultScope = "default"
	}
	return &Gate{
		policy:   policy,
		roster:   rosterStore,
		bindings: bindingStore,
		ledger:   ledgerStore,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Process validates a check-in and, on acceptance, writes the ledger record
// (and the device binding on a first encounter). Checks run in fixed order:
// freshness first because it is the cheapest and the most time-sensitive,
// the duplicate check last because it is the state mutation. Writes for one
// roll number are serialized so two simultaneous requests cannot both pass
// the duplicate or binding checks.
//
// A returned error means storage failed; every policy outcome, accept or
// reject, comes back as a Result.
func (g *Gate) Process(ctx context.Context, req Request, now time.Time) (Result, error) {
	// 1. Token freshness.
	if _, err := token.ValidateFreshness(req.Token, now, g.policy.Window); err != nil {
		var expired *token.ExpiredError
		if errors.As(err, &expired) {
			secs := int64(expired.Age.Seconds())
			return rejected(Rejection{
				Reason:     ReasonExpiredToken,
				AgeSeconds: secs,
				Message:    fmt.Sprintf("QR code expired %ds ago, ask for a fresh scan", secs-int64(g.policy.Window.Seconds())),
			}), nil
		}
		return rejected(Rejection{
			Reason:  ReasonMalformedToken,
			Message: "unrecognized access token, scan the QR code again",
		}), nil
	}

	// 2. Geofence, only when this session demands it.
	if g.policy.Geofence && req.LocationRequired {
		if req.Lat == nil || req.Lon == nil {
			return rejected(Rejection{
				Reason:  ReasonOutOfRange,
				RadiusM: g.policy.RadiusM,
				Message: "location is required for this session but none was provided",
			}), nil
		}
		ok, dist := geo.WithinRadius(g.policy.CampusLat, g.policy.CampusLon, *req.Lat, *req.Lon, g.policy.RadiusM)
		if !ok {
			return rejected(Rejection{
				Reason:    ReasonOutOfRange,
				DistanceM: dist,
				RadiusM:   g.policy.RadiusM,
				Message:   fmt.Sprintf("you are %.0fm away, must be within %.0fm", dist, g.policy.RadiusM),
			}), nil
		}
	}

	roll := strings.ToLower(strings.TrimSpace(req.RollNumber))
	scope := req.Scope
	if scope == "" {
		scope = g.policy.DefaultScope
	}

	unlock := g.lock(roll)
	defer unlock()

	// 3. Device binding. The check runs here, but a first-time binding is
	// written only after the request fully passes, next to the ledger write.
	needBind := false
	if g.policy.DeviceBinding {
		if req.DeviceID == "" {
			return Result{}, errors.New("device id required when device binding is enabled")
		}
		byDevice, err := g.bindings.FindByDevice(ctx, req.DeviceID)
		if err != nil {
			return Result{}, err
		}
		if byDevice != nil && byDevice.RollNumber != roll {
			return rejected(Rejection{
				Reason:    ReasonDeviceBoundElsewhere,
				OtherRoll: byDevice.RollNumber,
				Message:   fmt.Sprintf("this device is already registered to %s", byDevice.RollNumber),
			}), nil
		}
		byRoll, err := g.bindings.FindByRoll(ctx, roll)
		if err != nil {
			return Result{}, err
		}
		if byRoll != nil && byRoll.DeviceID != req.DeviceID {
			return rejected(Rejection{
				Reason:  ReasonRollBoundElsewhere,
				Message: "attendance for this roll number is locked to a different device, ask the admin to unbind it",
			}), nil
		}
		needBind = byDevice == nil && byRoll == nil
	}

	// 4. Identity, duplicate, append.
	student, err := g.roster.Get(ctx, roll)
	if err != nil {
		return Result{}, err
	}
	if student == nil {
		return rejected(Rejection{
			Reason:  ReasonUnknownIdentity,
			Field:   "rollnumber",
			Message: fmt.Sprintf("roll number %q is not on the roster", roll),
		}), nil
	}

	day := now.Format("2006-01-02")
	existing, err := g.ledger.Find(ctx, roll, scope, day, g.policy.Dedup)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return rejected(alreadyMarked(existing)), nil
	}

	if needBind {
		if err := g.bindings.Bind(ctx, roll, req.DeviceID); err != nil {
			return Result{}, err
		}
	}

	rec, inserted, err := g.ledger.Insert(ctx, ledger.Record{
		RollNumber: roll,
		Scope:      scope,
		Day:        day,
		ClockTime:  now.Format("15:04:05"),
	})
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		// Lost an insert race with another instance; surface it as the
		// duplicate it is.
		existing, err := g.ledger.Find(ctx, roll, scope, day, g.policy.Dedup)
		if err != nil || existing == nil {
			return Result{}, fmt.Errorf("duplicate insert for %s/%s/%s but record not found: %w", roll, scope, day, err)
		}
		return rejected(alreadyMarked(existing)), nil
	}

	return Result{Accepted: true, Record: &rec, Student: student}, nil
}

func alreadyMarked(existing *ledger.Record) Rejection {
	return Rejection{
		Reason:      ReasonAlreadyMarked,
		ExistingDay: existing.Day,
		Message:     fmt.Sprintf("attendance already marked on %s at %s", existing.Day, existing.ClockTime),
	}
}

func rejected(r Rejection) Result {
	return Result{Rejection: &r}
}

// lock serializes processing per roll number.
func (g *Gate) lock(roll string) func() {
	g.mu.Lock()
	m, ok := g.locks[roll]
	if !ok {
		m = &sync.Mutex{}
		g.locks[roll] = m
	}
	g.mu.Unlock()
	m.Lock()
	return m.Unlock
}
