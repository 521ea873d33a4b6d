package connmgr_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/connmgr"
	"github.com/srg/penlink/internal/device"
	"github.com/srg/penlink/internal/resume"
	"github.com/srg/penlink/internal/store"
	"github.com/srg/penlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type ManagerSuite struct {
	suite.Suite

	Helper    *testutils.TestHelper
	Logger    *logrus.Logger
	Registry  *testutils.MockRegistry
	Scheduler *testutils.ManualScheduler
	Store     *store.Memory
	Pen       *testutils.MockHandle
	Manager   *connmgr.Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Registry = testutils.NewMockRegistry()
	s.Scheduler = testutils.NewManualScheduler()
	s.Store = store.NewMemory()
	s.Pen = testutils.NewMockHandle("abc", "Pen")
	s.Manager = s.newManager(s.Registry, 200*time.Millisecond)
}

func (s *ManagerSuite) TearDownTest() {
	s.Require().NoError(s.Manager.Stop())
}

func (s *ManagerSuite) newManager(r device.Registry, linkTimeout time.Duration) *connmgr.Manager {
	return connmgr.New(r, s.Store, &connmgr.Options{
		Logger:        s.Logger,
		Scheduler:     s.Scheduler,
		RetryInterval: 10 * time.Second,
		LinkTimeout:   linkTimeout,
	})
}

func (s *ManagerSuite) remember(id, name string) {
	s.Require().NoError(store.SaveDeviceInfo(s.Store, store.DeviceInfo{ID: id, Name: name}))
}

// settle waits until the manager rests in want with no attempt in flight.
func (s *ManagerSuite) settle(want connmgr.State) connmgr.Snapshot {
	s.Require().Eventually(func() bool {
		snap := s.Manager.State()
		return snap.State == want && !snap.Busy
	}, waitFor, tick, "manager MUST settle in %s, last state %s", want, s.Manager.State().State)
	return s.Manager.State()
}

func (s *ManagerSuite) storedJSON() string {
	raw, ok, err := s.Store.Get(store.LastDeviceKey)
	s.Require().NoError(err)
	s.Require().True(ok, "device identity MUST be stored")
	return raw
}

func (s *ManagerSuite) TestInitialState() {
	// GOAL: A new manager is idle and holds no device
	snap := s.Manager.State()

	s.Equal(connmgr.Disconnected, snap.State)
	s.Nil(snap.Device)
	s.False(snap.Busy)
	s.Equal(0, s.Scheduler.Created(), "timer MUST NOT be armed before Start")
}

func (s *ManagerSuite) TestConnectPersistsIdentity() {
	// GOAL: Pairing through the picker persists {id, name} under the fixed key
	//
	// TEST SCENARIO: picker returns pen "abc"/"Pen" → Connected, stored JSON equals {"id":"abc","name":"Pen"}
	s.Registry.WithPicker(s.Pen, nil)

	s.Require().NoError(s.Manager.Connect(context.Background()))

	snap := s.Manager.State()
	s.Equal(connmgr.Connected, snap.State)
	s.Require().NotNil(snap.Device)
	s.Equal(connmgr.DeviceRef{ID: "abc", Name: "Pen"}, *snap.Device)
	s.False(snap.Busy, "busy flag MUST be cleared after the attempt")
	testutils.NewJSONAsserter(s.T()).Assert(s.storedJSON(), `{"id":"abc","name":"Pen"}`)

	filter := s.Registry.LastFilter()
	s.Equal([]string{device.PenServiceUUID}, filter.Services, "picker MUST be scoped to the pen service")
	s.False(filter.MatchAny)
	s.Equal(1, s.Pen.ListenerCount(), "disconnect monitor MUST be armed")

	info, ok, err := store.LoadDeviceInfo(s.Store)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(store.DeviceInfo{ID: "abc", Name: "Pen"}, info)
}

func (s *ManagerSuite) TestConnectCancelled() {
	// GOAL: A dismissed picker returns to Disconnected and persists nothing
	err := s.Manager.Connect(context.Background())

	s.ErrorIs(err, device.ErrPairingCancelled)
	snap := s.Manager.State()
	s.Equal(connmgr.Disconnected, snap.State)
	s.ErrorIs(snap.LastError, device.ErrPairingCancelled)
	s.Equal(0, s.Store.Len(), "cancelled pairing MUST NOT write the store")
}

func (s *ManagerSuite) TestConnectLinkFailure() {
	// GOAL: A device that refuses the link leaves the manager Disconnected
	s.Pen.WithOpenError(errors.New("device not connected"))
	s.Registry.WithPicker(s.Pen, nil)

	err := s.Manager.Connect(context.Background())

	s.ErrorIs(err, device.ErrLinkOpenFailed)
	s.ErrorIs(err, device.ErrNotConnected, "transport errors MUST be normalized")
	s.Equal(connmgr.Disconnected, s.Manager.State().State)
	s.Equal(0, s.Store.Len())
}

func (s *ManagerSuite) TestConnectWhileConnected() {
	s.Registry.WithPicker(s.Pen, nil)
	s.Require().NoError(s.Manager.Connect(context.Background()))

	err := s.Manager.Connect(context.Background())

	s.ErrorIs(err, device.ErrAlreadyConnected)
	s.Equal(1, s.Registry.RequestCalls(), "picker MUST NOT be shown while connected")
}

func (s *ManagerSuite) TestReconnectWithoutIdentityIsNoop() {
	// GOAL: Nothing happens when no device was ever paired
	s.Manager.Reconnect(context.Background(), true)

	snap := s.Manager.State()
	s.Equal(connmgr.Disconnected, snap.State)
	s.Zero(snap.Attempt)
	s.Equal(0, s.Registry.ListCalls())
	s.Equal(0, s.Registry.RequestCalls())
}

func (s *ManagerSuite) TestStartupSilentReconnect() {
	// GOAL: Start reconnects to the remembered, still authorized device without prompting
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)

	s.Require().NoError(s.Manager.Start(context.Background()))

	snap := s.settle(connmgr.Connected)
	s.Equal("abc", snap.Device.ID)
	s.Equal(1, s.Pen.OpenCalls())
	s.Equal(0, s.Registry.RequestCalls(), "silent reconnect MUST NOT show the picker")
}

func (s *ManagerSuite) TestSilentReconnectNeverPrompts() {
	// GOAL: A silent attempt that cannot find the device asks the user instead of prompting
	//
	// TEST SCENARIO: identity stored, device not authorized, picker available → AwaitingUserConfirmation, zero picker calls
	s.remember("abc", "Pen")
	s.Registry.WithPicker(s.Pen, nil)

	s.Manager.Reconnect(context.Background(), false)

	snap := s.Manager.State()
	s.Equal(connmgr.AwaitingUserConfirmation, snap.State)
	s.NoError(snap.LastError)
	s.False(snap.Busy)
	s.Equal(1, s.Registry.ListCalls())
	s.Equal(0, s.Registry.RequestCalls(), "silent reconnect MUST NOT show the picker")
}

func (s *ManagerSuite) TestSilentReconnectWithoutEnumeration() {
	// GOAL: Registries that cannot enumerate degrade to AwaitingUserConfirmation
	s.remember("abc", "Pen")
	s.Registry.WithPicker(s.Pen, nil)
	mgr := s.newManager(s.Registry.PickerOnly(), time.Second)

	mgr.Reconnect(context.Background(), false)

	s.Equal(connmgr.AwaitingUserConfirmation, mgr.State().State)
	s.Equal(0, s.Registry.RequestCalls())
}

func (s *ManagerSuite) TestSilentReconnectListError() {
	s.remember("abc", "Pen")
	boom := errors.New("adapter gone")
	s.Registry.WithListError(boom)

	s.Manager.Reconnect(context.Background(), false)

	snap := s.Manager.State()
	s.Equal(connmgr.AwaitingUserConfirmation, snap.State)
	s.ErrorIs(snap.LastError, boom)
}

func (s *ManagerSuite) TestReconnectLinkFailure() {
	// GOAL: A known device that refuses the link moves to AwaitingUserConfirmation
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Pen.WithOpenError(errors.New("bluetooth is turned off"))

	s.Manager.Reconnect(context.Background(), false)

	snap := s.Manager.State()
	s.Equal(connmgr.AwaitingUserConfirmation, snap.State)
	s.ErrorIs(snap.LastError, device.ErrLinkOpenFailed)
	s.ErrorIs(snap.LastError, device.ErrBluetoothOff)
}

func (s *ManagerSuite) TestConcurrentReconnectsWhileConnected() {
	// GOAL: Reconnect is idempotent while connected
	//
	// TEST SCENARIO: connected, 16 concurrent Reconnect calls → no additional link-open
	s.Registry.WithPicker(s.Pen, nil)
	s.Require().NoError(s.Manager.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(user bool) {
			defer wg.Done()
			s.Manager.Reconnect(context.Background(), user)
		}(i%2 == 0)
	}
	wg.Wait()

	s.Equal(1, s.Pen.OpenCalls(), "link-open MUST be invoked at most once")
	s.Equal(1, s.Registry.RequestCalls())
	s.Equal(connmgr.Connected, s.Manager.State().State)
}

func (s *ManagerSuite) TestRequestsWhileBusyAreDropped() {
	// GOAL: Requests arriving during an attempt are dropped, not queued
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	release := s.Pen.BlockOpen()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Manager.Reconnect(context.Background(), false)
	}()
	s.Require().Eventually(func() bool { return s.Manager.State().Busy }, waitFor, tick)
	s.Equal(connmgr.Reconnecting, s.Manager.State().State)

	s.Manager.Reconnect(context.Background(), true)
	s.ErrorIs(s.Manager.Connect(context.Background()), connmgr.ErrBusy)

	release()
	<-done

	s.settle(connmgr.Connected)
	s.Equal(1, s.Pen.OpenCalls(), "dropped requests MUST NOT open the link")
	s.Equal(0, s.Registry.RequestCalls())
}

func (s *ManagerSuite) TestLinkLossTriggersSilentRetry() {
	// GOAL: Losing the link reconnects immediately without the timer or the picker
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.settle(connmgr.Connected)

	s.Pen.Drop()

	s.Require().Eventually(func() bool {
		snap := s.Manager.State()
		return snap.State == connmgr.Connected && !snap.Busy && s.Pen.OpenCalls() == 2
	}, waitFor, tick, "manager MUST reconnect after link loss")
	s.Equal(0, s.Scheduler.Fired(), "reconnect MUST NOT wait for the timer")
	s.Equal(0, s.Registry.RequestCalls())
	s.Equal(1, s.Pen.ListenerCount(), "exactly one disconnect monitor MUST be armed")
}

func (s *ManagerSuite) TestLinkLossWithUnreachableDevice() {
	// GOAL: Link loss followed by an unreachable device ends in AwaitingUserConfirmation
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.settle(connmgr.Connected)

	s.Registry.WithoutAuthorized()
	s.Pen.Drop()

	s.settle(connmgr.AwaitingUserConfirmation)
	s.Equal(0, s.Registry.RequestCalls())
}

func (s *ManagerSuite) TestTimerRearmsExactlyOnce() {
	// GOAL: Every firing schedules exactly one subsequent firing
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.Equal(1, s.Scheduler.Armed())
	s.Equal(10*time.Second, s.Scheduler.LastDelay())

	for i := 1; i <= 3; i++ {
		s.Equal(1, s.Scheduler.Fire())
		s.Equal(1, s.Scheduler.Armed(), "exactly one timer MUST be pending after firing %d", i)
		s.Equal(i+1, s.Scheduler.Created())
	}
}

func (s *ManagerSuite) TestTimerRetriesUntilConnected() {
	// GOAL: The retry timer recovers from AwaitingUserConfirmation once the device is back
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Pen.WithOpenError(errors.New("out of range"))
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.settle(connmgr.AwaitingUserConfirmation)

	s.Pen.WithOpenError(nil)
	s.Scheduler.Fire()

	s.settle(connmgr.Connected)
	s.Equal(2, s.Pen.OpenCalls())
	s.Equal(0, s.Registry.RequestCalls())
}

func (s *ManagerSuite) TestTimerSkipsWhileConnected() {
	s.Registry.WithPicker(s.Pen, nil)
	s.Require().NoError(s.Manager.Connect(context.Background()))
	s.Require().NoError(s.Manager.Start(context.Background()))

	s.Scheduler.Fire()
	s.Scheduler.Fire()

	s.Never(func() bool { return s.Registry.ListCalls() > 0 }, 50*time.Millisecond, tick,
		"timer MUST NOT attempt a reconnect while connected")
	s.Equal(1, s.Pen.OpenCalls())
}

func (s *ManagerSuite) TestResumeReconnectsWithoutTimer() {
	// GOAL: A resume event reconnects at once
	//
	// TEST SCENARIO: Awaiting after failed startup, device back, resume raised → Connected, timer never fired
	b := resume.NewBroadcaster()
	s.Manager.AttachResumeSource(b)
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Pen.WithOpenError(errors.New("out of range"))
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.settle(connmgr.AwaitingUserConfirmation)
	s.Equal(1, b.Subscribers())

	s.Pen.WithOpenError(nil)
	b.Resume()

	s.settle(connmgr.Connected)
	s.Equal(0, s.Scheduler.Fired())
}

func (s *ManagerSuite) TestResumeSourceAttachedAfterStart() {
	s.Require().NoError(s.Manager.Start(context.Background()))
	b := resume.NewBroadcaster()

	s.Manager.AttachResumeSource(b)
	s.Equal(1, b.Subscribers())

	s.Require().NoError(s.Manager.Stop())
	s.Equal(0, b.Subscribers(), "Stop MUST detach resume sources")
}

func (s *ManagerSuite) TestManualReconnectUsesScopedPicker() {
	// GOAL: A user-initiated reconnect falls back to a picker scoped to the stored identity
	//
	// TEST SCENARIO: stored abc/Pen not authorized, user picks def/"Pen 2" → Connected, store updated
	s.remember("abc", "Pen")
	renamed := testutils.NewMockHandle("def", "Pen 2")
	s.Registry.WithPicker(renamed, nil)

	s.Manager.ReconnectManually(context.Background())

	snap := s.Manager.State()
	s.Equal(connmgr.Connected, snap.State)
	s.Equal(connmgr.DeviceRef{ID: "def", Name: "Pen 2"}, *snap.Device)
	testutils.NewJSONAsserter(s.T()).Assert(s.storedJSON(), `{"id":"def","name":"Pen 2"}`)

	filter := s.Registry.LastFilter()
	s.Equal("abc", filter.ID)
	s.Equal("Pen", filter.Name)
	s.Equal([]string{device.PenServiceUUID}, filter.Services)
	s.True(filter.MatchAny, "scoped picker MUST accept any of the identity hints")
}

func (s *ManagerSuite) TestManualReconnectPrefersAuthorizedDevice() {
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)

	s.Manager.ReconnectManually(context.Background())

	s.Equal(connmgr.Connected, s.Manager.State().State)
	s.Equal(0, s.Registry.RequestCalls(), "picker MUST NOT be shown when the device is reachable")
}

func (s *ManagerSuite) TestManualReconnectPickerCancelled() {
	s.remember("abc", "Pen")

	s.Manager.ReconnectManually(context.Background())

	snap := s.Manager.State()
	s.Equal(connmgr.AwaitingUserConfirmation, snap.State)
	s.ErrorIs(snap.LastError, device.ErrPairingCancelled)
	testutils.NewJSONAsserter(s.T()).Assert(s.storedJSON(), `{"id":"abc","name":"Pen"}`)
}

func (s *ManagerSuite) TestDisconnectSuspendsAutomaticReconnect() {
	// GOAL: A user disconnect is not undone by the timer, resume or link monitor
	b := resume.NewBroadcaster()
	s.Manager.AttachResumeSource(b)
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.settle(connmgr.Connected)

	s.Require().NoError(s.Manager.Disconnect())

	snap := s.Manager.State()
	s.Equal(connmgr.Disconnected, snap.State)
	s.Nil(snap.Device)
	s.Equal(1, s.Pen.CloseCalls())
	s.Equal(0, s.Pen.ListenerCount(), "disconnect monitor MUST be detached")

	s.Scheduler.Fire()
	b.Resume()
	s.Never(func() bool { return s.Pen.OpenCalls() > 1 }, 50*time.Millisecond, tick)
	s.Equal(connmgr.Disconnected, s.Manager.State().State)

	s.Manager.ReconnectManually(context.Background())
	s.Equal(connmgr.Connected, s.Manager.State().State)

	s.Pen.Drop()
	s.Require().Eventually(func() bool { return s.Pen.OpenCalls() == 3 }, waitFor, tick,
		"automatic reconnect MUST resume after a manual reconnect")
}

func (s *ManagerSuite) TestDisconnectSupersedesInFlightAttempt() {
	// GOAL: The result of an attempt superseded by Disconnect is discarded
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	release := s.Pen.BlockOpen()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Manager.Reconnect(context.Background(), false)
	}()
	s.Require().Eventually(func() bool { return s.Manager.State().Busy }, waitFor, tick)

	s.Require().NoError(s.Manager.Disconnect())
	release()
	<-done

	snap := s.Manager.State()
	s.Equal(connmgr.Disconnected, snap.State, "stale success MUST NOT overwrite the newer state")
	s.Nil(snap.Device)
	s.False(snap.Busy)
	s.Equal(1, s.Pen.CloseCalls(), "link opened by a superseded attempt MUST be closed")
	s.Equal(0, s.Pen.ListenerCount())
}

func (s *ManagerSuite) TestLinkOpenTimeout() {
	// GOAL: A transport that never answers is bounded by the link timeout
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	mgr := s.newManager(s.Registry, 50*time.Millisecond)
	release := s.Pen.BlockOpenIgnoringContext()

	start := time.Now()
	mgr.Reconnect(context.Background(), false)

	s.Less(time.Since(start), time.Second)
	snap := mgr.State()
	s.Equal(connmgr.AwaitingUserConfirmation, snap.State)
	s.ErrorIs(snap.LastError, device.ErrLinkOpenFailed)
	s.ErrorIs(snap.LastError, device.ErrTimeout)
	s.False(snap.Busy)

	release()
	s.Require().Eventually(func() bool { return s.Pen.CloseCalls() == 1 }, waitFor, tick,
		"a link that opens after the deadline MUST be closed")
}

func (s *ManagerSuite) TestStartStop() {
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.ErrorIs(s.Manager.Start(context.Background()), connmgr.ErrAlreadyStarted)

	s.Require().NoError(s.Manager.Stop())
	s.Require().NoError(s.Manager.Stop())
	s.Equal(0, s.Scheduler.Armed(), "Stop MUST cancel the retry timer")

	s.Require().NoError(s.Manager.Start(context.Background()), "a stopped manager MAY be started again")
	s.Equal(1, s.Scheduler.Armed())
}

func (s *ManagerSuite) TestStopCancelsInFlightAttempt() {
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	s.Pen.BlockOpen()
	s.Require().NoError(s.Manager.Start(context.Background()))
	s.Require().Eventually(func() bool { return s.Manager.State().Busy }, waitFor, tick)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.NoError(s.Manager.Stop())
	}()

	select {
	case <-stopped:
	case <-time.After(waitFor):
		s.FailNow("Stop MUST return once in-flight attempts are cancelled")
	}
	snap := s.Manager.State()
	s.False(snap.Busy)
	s.ErrorIs(snap.LastError, context.Canceled)
}

func (s *ManagerSuite) TestWatchStreamsSnapshots() {
	// GOAL: Watchers see the current state first and every resting state afterwards
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := s.Manager.Watch(ctx)

	first := <-updates
	s.Equal(connmgr.Disconnected, first.State)

	s.Registry.WithPicker(s.Pen, nil)
	s.Require().NoError(s.Manager.Connect(context.Background()))

	var seen []connmgr.State
	for snap := range updates {
		seen = append(seen, snap.State)
		if snap.State == connmgr.Connected && !snap.Busy {
			break
		}
	}
	s.Equal([]connmgr.State{connmgr.Connecting, connmgr.Connected, connmgr.Connected}, seen)

	cancel()
	s.Require().Eventually(func() bool {
		_, open := <-updates
		return !open
	}, waitFor, tick, "channel MUST close when the watch context ends")
}

func (s *ManagerSuite) TestLinkDropWhileAttaching() {
	// GOAL: A link that dies before the disconnect monitor is armed is not reported as Connected
	//
	// TEST SCENARIO: pen drops right after its first successful open → Disconnected, immediate silent reconnect → Connected
	s.Require().NoError(s.Manager.Start(context.Background()))
	pen := &dropOnFirstOpen{MockHandle: s.Pen}
	s.Registry.WithPicker(pen, nil)

	s.Require().NoError(s.Manager.Connect(context.Background()))
	testutils.NewJSONAsserter(s.T()).Assert(s.storedJSON(), `{"id":"abc","name":"Pen"}`)

	s.Require().Eventually(func() bool {
		snap := s.Manager.State()
		return snap.State == connmgr.Connected && !snap.Busy && s.Pen.OpenCalls() == 2
	}, waitFor, tick, "manager MUST reconnect after the link dropped during attach")
	s.True(s.Pen.IsConnected(), "reported Connected MUST mean a live link")
	s.Equal(0, s.Scheduler.Fired(), "reconnect MUST NOT wait for the timer")
	s.Equal(1, s.Registry.RequestCalls(), "reconnect MUST NOT show the picker again")
	s.Equal(1, s.Pen.ListenerCount(), "exactly one disconnect monitor MUST be armed")
}

func (s *ManagerSuite) TestLinkDropWhileAttachingWhenSuspended() {
	// GOAL: Without automatic reconnects the dead link still ends in Disconnected
	s.Require().NoError(s.Manager.Disconnect())
	s.remember("abc", "Pen")
	pen := &dropOnFirstOpen{MockHandle: s.Pen}
	s.Registry.WithAuthorized(pen)

	s.Manager.Reconnect(context.Background(), false)

	snap := s.Manager.State()
	s.Equal(connmgr.Disconnected, snap.State)
	s.Nil(snap.Device)
	s.False(snap.Busy)
	s.ErrorIs(snap.LastError, device.ErrNotConnected)
	s.Equal(0, s.Pen.ListenerCount(), "monitor of a dead link MUST be detached")
}

func (s *ManagerSuite) TestManualReconnectWaitsForAttemptInFlight() {
	// GOAL: A user reconnect arriving during a silent attempt is retried once that attempt ends
	//
	// TEST SCENARIO: silent attempt blocks then fails → manual request waits, then connects
	s.remember("abc", "Pen")
	pen := &failFirstOpen{MockHandle: s.Pen, gate: make(chan struct{})}
	s.Registry.WithAuthorized(pen)

	silentDone := make(chan struct{})
	go func() {
		defer close(silentDone)
		s.Manager.Reconnect(context.Background(), false)
	}()
	s.Require().Eventually(func() bool { return s.Manager.State().Busy }, waitFor, tick)

	manualDone := make(chan struct{})
	go func() {
		defer close(manualDone)
		s.Manager.ReconnectManually(context.Background())
	}()
	s.Never(func() bool {
		select {
		case <-manualDone:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, tick, "manual reconnect MUST wait for the attempt in flight")

	close(pen.gate)
	<-silentDone
	<-manualDone

	snap := s.Manager.State()
	s.Equal(connmgr.Connected, snap.State, "manual reconnect MUST run after the silent attempt failed")
	s.False(snap.Busy)
	s.Equal(1, s.Pen.OpenCalls())
	s.Equal(0, s.Registry.RequestCalls())
}

func (s *ManagerSuite) TestManualReconnectWaitHonoursContext() {
	s.remember("abc", "Pen")
	s.Registry.WithAuthorized(s.Pen)
	release := s.Pen.BlockOpen()
	defer release()

	go s.Manager.Reconnect(context.Background(), false)
	s.Require().Eventually(func() bool { return s.Manager.State().Busy }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.Manager.ReconnectManually(ctx)

	s.Equal(connmgr.Reconnecting, s.Manager.State().State, "cancelled wait MUST leave the attempt alone")
	release()
	s.settle(connmgr.Connected)
}

// dropOnFirstOpen loses its link right after the first successful open,
// before anyone could subscribe to the disconnect.
type dropOnFirstOpen struct {
	*testutils.MockHandle
	once sync.Once
}

func (h *dropOnFirstOpen) OpenLink(ctx context.Context) error {
	if err := h.MockHandle.OpenLink(ctx); err != nil {
		return err
	}
	h.once.Do(h.Drop)
	return nil
}

// failFirstOpen blocks its first open until gate closes, then fails it.
type failFirstOpen struct {
	*testutils.MockHandle
	gate chan struct{}
	once sync.Once
}

func (h *failFirstOpen) OpenLink(ctx context.Context) error {
	first := false
	h.once.Do(func() { first = true })
	if !first {
		return h.MockHandle.OpenLink(ctx)
	}
	select {
	case <-h.gate:
		return errors.New("pen out of range")
	case <-ctx.Done():
		return ctx.Err()
	}
}
