package goble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/device"
	"github.com/srg/penlink/internal/store"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// GrantsKey is the store key of the devices the user picked at least once.
const GrantsKey = "authorizedDevices"

// DefaultScanTimeout bounds one picker scan.
const DefaultScanTimeout = 10 * time.Second

// Candidate is a device seen during a picker scan.
type Candidate struct {
	ID       string
	Name     string
	RSSI     int
	Services []string
}

// Chooser selects one of the scan candidates. ok false means the user
// dismissed the picker.
type Chooser func(ctx context.Context, candidates []Candidate) (chosen Candidate, ok bool, err error)

// StrongestSignal picks the candidate with the highest RSSI.
func StrongestSignal(_ context.Context, candidates []Candidate) (Candidate, bool, error) {
	if len(candidates) == 0 {
		return Candidate{}, false, nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.RSSI > best.RSSI {
			best = c
		}
	}
	return best, true, nil
}

// Options configures a Registry.
type Options struct {
	ScanTimeout time.Duration
	Chooser     Chooser
}

// radio is the part of ble.Device the registry uses.
type radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// Registry discovers pens over BLE. It implements device.Registry and
// device.AuthorizedLister.
type Registry struct {
	logger *logrus.Logger
	grants store.Store
	opts   Options

	newRadio func() (radio, error)

	mu      sync.Mutex
	radio   radio
	handles *hashmap.Map[string, *Handle]
}

var (
	_ device.Registry         = (*Registry)(nil)
	_ device.AuthorizedLister = (*Registry)(nil)
)

// NewRegistry creates a Registry that remembers grants in grants.
func NewRegistry(grants store.Store, opts *Options, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{ScanTimeout: DefaultScanTimeout, Chooser: StrongestSignal}
	if opts != nil {
		if opts.ScanTimeout > 0 {
			o.ScanTimeout = opts.ScanTimeout
		}
		if opts.Chooser != nil {
			o.Chooser = opts.Chooser
		}
	}
	return &Registry{
		logger: logger,
		grants: grants,
		opts:   o,
		newRadio: func() (radio, error) {
			dev, err := DeviceFactory()
			if err != nil {
				return nil, err
			}
			return dev, nil
		},
		handles: hashmap.New[string, *Handle](),
	}
}

// device returns the shared radio, creating it on first use.
func (r *Registry) device() (radio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.radio != nil {
		return r.radio, nil
	}
	dev, err := r.newRadio()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	r.radio = dev
	return dev, nil
}

// handle returns the single Handle for id, so link state and listeners are
// shared by every lookup of the same device.
func (r *Registry) handle(id, name string) *Handle {
	id = strings.ToLower(id)
	h, _ := r.handles.GetOrInsert(id, newHandle(r, id, name, r.logger))
	h.rename(name)
	return h
}

func (r *Registry) RequestDevice(ctx context.Context, filter device.Filter) (device.Handle, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}

	candidates, err := r.scan(ctx, dev, filter)
	if err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"timeout":    r.opts.ScanTimeout,
	}).Debug("Picker scan finished")

	chosen, ok, err := r.opts.Chooser(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, device.ErrPairingCancelled
	}

	if err := r.grant(chosen.ID, chosen.Name); err != nil {
		r.logger.WithError(err).WithField("device_id", chosen.ID).Warn("Failed to remember device grant")
	}
	return r.handle(chosen.ID, chosen.Name), nil
}

// scan collects matching advertisements until the scan timeout. Candidates
// are ordered by descending signal strength.
func (r *Registry) scan(ctx context.Context, dev radio, filter device.Filter) ([]Candidate, error) {
	scanCtx, cancel := context.WithTimeout(ctx, r.opts.ScanTimeout)
	defer cancel()

	seen := hashmap.New[string, Candidate]()
	err := dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		c := candidateFrom(adv)
		if !adv.Connectable() || !filter.Matches(c.ID, c.Name, c.Services) {
			return
		}
		if prev, ok := seen.Get(c.ID); ok && c.Name == "" {
			c.Name = prev.Name
		}
		seen.Set(c.ID, c)
	})
	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	candidates := make([]Candidate, 0, seen.Len())
	seen.Range(func(_ string, c Candidate) bool {
		candidates = append(candidates, c)
		return true
	})
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RSSI != candidates[j].RSSI {
			return candidates[i].RSSI > candidates[j].RSSI
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

func candidateFrom(adv ble.Advertisement) Candidate {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, device.NormalizeUUID(u.String()))
	}
	return Candidate{
		ID:       strings.ToLower(adv.Addr().String()),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		Services: services,
	}
}

// AuthorizedDevices returns handles for every device granted so far.
func (r *Registry) AuthorizedDevices(context.Context) ([]device.Handle, error) {
	grants, err := r.loadGrants()
	if err != nil {
		return nil, err
	}
	handles := make([]device.Handle, 0, grants.Len())
	for pair := grants.Oldest(); pair != nil; pair = pair.Next() {
		handles = append(handles, r.handle(pair.Key, pair.Value))
	}
	return handles, nil
}

// Revoke forgets the grant for id.
func (r *Registry) Revoke(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grants, err := r.loadGrantsLocked()
	if err != nil {
		return err
	}
	if _, ok := grants.Delete(strings.ToLower(id)); !ok {
		return nil
	}
	return r.saveGrantsLocked(grants)
}

func (r *Registry) grant(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	grants, err := r.loadGrantsLocked()
	if err != nil {
		return err
	}
	grants.Set(strings.ToLower(id), name)
	return r.saveGrantsLocked(grants)
}

func (r *Registry) loadGrants() (*orderedmap.OrderedMap[string, string], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadGrantsLocked()
}

func (r *Registry) loadGrantsLocked() (*orderedmap.OrderedMap[string, string], error) {
	grants := orderedmap.New[string, string]()
	if r.grants == nil {
		return grants, nil
	}
	raw, ok, err := r.grants.Get(GrantsKey)
	if err != nil {
		return nil, fmt.Errorf("read grants: %w", err)
	}
	if !ok || raw == "" {
		return grants, nil
	}
	if err := json.Unmarshal([]byte(raw), grants); err != nil {
		return nil, fmt.Errorf("parse grants: %w", err)
	}
	return grants, nil
}

func (r *Registry) saveGrantsLocked(grants *orderedmap.OrderedMap[string, string]) error {
	if r.grants == nil {
		return nil
	}
	data, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("encode grants: %w", err)
	}
	return r.grants.Set(GrantsKey, string(data))
}
