package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/service"

	"vidbft/types"
)

// internally generated view timeouts
type timeoutInfo struct {
	Duration time.Duration `json:"duration"`
	View     types.View    `json:"view"`
}

func (ti *timeoutInfo) String() string {
	return fmt.Sprintf("%v ; %v", ti.Duration, ti.View)
}

// ViewClock view的逻辑时钟
//
// Every time the timer fires the clock moves to the next view and emits it
// on Chan. The clock does not run until the first ResetClock.
type ViewClock struct {
	service.BaseService

	mtx          sync.RWMutex
	view         types.View
	target       types.View
	lastUpdate   time.Time
	lastDuration time.Duration

	timer    *time.Timer
	tickChan chan time.Duration // reset requests
	tockChan chan timeoutInfo   // fired timeouts
}

func NewViewClock(initial types.View) *ViewClock {
	vc := &ViewClock{
		view:     initial,
		timer:    time.NewTimer(0),
		tickChan: make(chan time.Duration, 10),
		tockChan: make(chan timeoutInfo, 10),
	}
	vc.stopTimer()
	vc.BaseService = *service.NewBaseService(nil, "ViewClock", vc)
	return vc
}

func (vc *ViewClock) OnStart() error {
	go vc.timeoutRoutine()
	return nil
}

func (vc *ViewClock) OnStop() {
	vc.stopTimer()
}

// Chan returns the channel of fired timeouts.
func (vc *ViewClock) Chan() <-chan timeoutInfo {
	return vc.tockChan
}

// ResetClock restarts the timer with d. It is a no-op once the clock
// is stopped.
func (vc *ViewClock) ResetClock(d time.Duration) {
	select {
	case vc.tickChan <- d:
	case <-vc.Quit():
	}
}

// AdvanceTo makes the clock fire now and move to view, unless it is
// already there.
func (vc *ViewClock) AdvanceTo(view types.View) {
	vc.mtx.Lock()
	if view <= vc.view || view <= vc.target {
		vc.mtx.Unlock()
		return
	}
	vc.target = view
	vc.mtx.Unlock()
	vc.ResetClock(0)
}

func (vc *ViewClock) GetView() types.View {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.view
}

// GetLastUptTime returns when the clock last moved.
func (vc *ViewClock) GetLastUptTime() time.Time {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.lastUpdate
}

// GetLastDuration returns the duration of the last reset.
func (vc *ViewClock) GetLastDuration() time.Duration {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.lastDuration
}

func (vc *ViewClock) stopTimer() {
	if !vc.timer.Stop() {
		select {
		case <-vc.timer.C:
		default:
		}
	}
}

func (vc *ViewClock) timeoutRoutine() {
	for {
		select {
		case d := <-vc.tickChan:
			vc.stopTimer()
			vc.mtx.Lock()
			vc.lastDuration = d
			vc.mtx.Unlock()
			vc.timer.Reset(d)
			vc.Logger.Debug("reset view clock", "duration", d)

		case <-vc.timer.C:
			vc.mtx.Lock()
			next := vc.view.Next()
			if vc.target > next {
				next = vc.target
			}
			vc.view = next
			vc.target = types.ViewZero
			vc.lastUpdate = time.Now()
			ti := timeoutInfo{Duration: vc.lastDuration, View: next}
			vc.mtx.Unlock()

			vc.Logger.Debug("view clock fired", "view", next)
			select {
			case vc.tockChan <- ti:
			case <-vc.Quit():
				return
			}

		case <-vc.Quit():
			return
		}
	}
}
