package testutils

import (
	"context"
	"sync"

	"github.com/srg/penlink/internal/device"
)

// MockRegistry is a device.Registry and device.AuthorizedLister backed by
// fixed handles. A successful pick authorizes the picked handle, as a browser
// grant would.
type MockRegistry struct {
	mu         sync.Mutex
	authorized []device.Handle
	listErr    error
	pick       device.Handle
	pickErr    error

	requestCalls int
	listCalls    int
	lastFilter   device.Filter
}

var (
	_ device.Registry         = (*MockRegistry)(nil)
	_ device.AuthorizedLister = (*MockRegistry)(nil)
)

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{}
}

// WithAuthorized adds handles the registry can enumerate silently.
func (r *MockRegistry) WithAuthorized(handles ...device.Handle) *MockRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorized = append(r.authorized, handles...)
	return r
}

// WithoutAuthorized forgets every grant.
func (r *MockRegistry) WithoutAuthorized() *MockRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorized = nil
	return r
}

// WithListError makes AuthorizedDevices fail.
func (r *MockRegistry) WithListError(err error) *MockRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listErr = err
	return r
}

// WithPicker sets what the picker returns. A nil handle and nil error means
// the user dismissed the picker.
func (r *MockRegistry) WithPicker(h device.Handle, err error) *MockRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pick = h
	r.pickErr = err
	return r
}

func (r *MockRegistry) RequestDevice(_ context.Context, filter device.Filter) (device.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestCalls++
	r.lastFilter = filter
	if r.pickErr != nil {
		return nil, r.pickErr
	}
	if r.pick == nil {
		return nil, device.ErrPairingCancelled
	}

	for _, h := range r.authorized {
		if h == r.pick {
			return r.pick, nil
		}
	}
	r.authorized = append(r.authorized, r.pick)
	return r.pick, nil
}

func (r *MockRegistry) AuthorizedDevices(context.Context) ([]device.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listCalls++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]device.Handle(nil), r.authorized...), nil
}

func (r *MockRegistry) RequestCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestCalls
}

func (r *MockRegistry) ListCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

// LastFilter returns the filter of the most recent picker call.
func (r *MockRegistry) LastFilter() device.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFilter
}

// PickerOnly hides AuthorizedDevices, modelling a platform without silent
// enumeration.
func (r *MockRegistry) PickerOnly() device.Registry {
	return pickerOnly{r}
}

type pickerOnly struct {
	r *MockRegistry
}

func (p pickerOnly) RequestDevice(ctx context.Context, filter device.Filter) (device.Handle, error) {
	return p.r.RequestDevice(ctx, filter)
}
