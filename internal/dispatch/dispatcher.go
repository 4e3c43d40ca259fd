package dispatch

import (
	"sync"
	"sync/atomic"

	"schoolbell/internal/eventbus"
	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

// RingPayload is the body of a ring-the-bell event.
type RingPayload struct {
	BellName string `json:"bellName"`
	BellTime string `json:"bellTime"`
}

// AlertPayload is the body of a play-alert event.
type AlertPayload struct {
	AlertType string `json:"alertType"`
}

// StopPayload is the (empty) body of a stop-alert event.
type StopPayload struct{}

// Stats are best-effort counters.
type Stats struct {
	Rings        uint64 `json:"rings"`
	AlarmsOn     uint64 `json:"alarms_on"`
	AlarmsOff    uint64 `json:"alarms_off"`
	Replays      uint64 `json:"replays"`
	BusDropped   uint64 `json:"bus_dropped"`
	ActiveAlarms int    `json:"active_alarms"`
}

// Dispatcher is the only writer of alarm state and the only publisher of ring
// and alarm events.
type Dispatcher struct {
	bus    eventbus.Bus
	alarms *AlarmState
	clock  schedule.Clock
	log    logx.Logger

	// alarmMu orders alarm transitions against subscriptions so a listener sees
	// either the replayed play-alert or the live stop-alert, never neither.
	alarmMu sync.Mutex

	rings     atomic.Uint64
	alarmsOn  atomic.Uint64
	alarmsOff atomic.Uint64
	replays   atomic.Uint64
}

func New(bus eventbus.Bus, alarms *AlarmState, clock schedule.Clock, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if alarms == nil {
		alarms = NewAlarmState()
	}
	if clock == nil {
		clock = schedule.SystemClock{}
	}
	return &Dispatcher{bus: bus, alarms: alarms, clock: clock, log: log}
}

func (d *Dispatcher) Alarms() *AlarmState { return d.alarms }

// NotifyBellRing broadcasts one ring to the tenant's current listeners.
// Listeners that are offline miss it.
func (d *Dispatcher) NotifyBellRing(tenant, bellName, bellTime string) {
	d.bus.Publish(eventbus.Event{
		Tenant:  tenant,
		Name:    eventbus.RingTheBell,
		Time:    d.clock.Now(),
		Payload: RingPayload{BellName: bellName, BellTime: bellTime},
	})
	d.rings.Add(1)
	d.log.Info("bell rang", logx.Tenant(tenant), logx.Bell(bellName, bellTime))
}

// ActivateAlarm turns the tenant's alarm on and broadcasts play-alert. Repeat
// calls leave the state alone but broadcast again.
func (d *Dispatcher) ActivateAlarm(tenant, alertType string) {
	d.alarmMu.Lock()
	defer d.alarmMu.Unlock()

	now := d.clock.Now()
	changed := d.alarms.Set(tenant, alertType, now)
	a, _ := d.alarms.Get(tenant)
	d.bus.Publish(eventbus.Event{
		Tenant:  tenant,
		Name:    eventbus.PlayAlert,
		Time:    now,
		Payload: AlertPayload{AlertType: a.AlertType},
	})
	d.alarmsOn.Add(1)
	d.log.Info("alarm on", logx.Tenant(tenant), logx.String("type", a.AlertType), logx.Bool("changed", changed))
}

// DeactivateAlarm turns the tenant's alarm off and broadcasts stop-alert.
func (d *Dispatcher) DeactivateAlarm(tenant string) {
	d.alarmMu.Lock()
	defer d.alarmMu.Unlock()

	changed := d.alarms.Unset(tenant)
	d.bus.Publish(eventbus.Event{
		Tenant:  tenant,
		Name:    eventbus.StopAlert,
		Time:    d.clock.Now(),
		Payload: StopPayload{},
	})
	d.alarmsOff.Add(1)
	d.log.Info("alarm off", logx.Tenant(tenant), logx.Bool("changed", changed))
}

// Subscribe registers a listener for tenant. If the tenant's alarm is on, the
// listener's first event is a play-alert.
func (d *Dispatcher) Subscribe(tenant string, buffer int) (<-chan eventbus.Event, func()) {
	d.alarmMu.Lock()
	defer d.alarmMu.Unlock()

	a, on := d.alarms.Get(tenant)
	if !on {
		return d.bus.Subscribe(tenant, buffer)
	}
	d.replays.Add(1)
	d.log.Debug("replaying alarm to new listener", logx.Tenant(tenant), logx.String("type", a.AlertType))
	return d.bus.Subscribe(tenant, buffer, eventbus.Event{
		Tenant:  tenant,
		Name:    eventbus.PlayAlert,
		Time:    d.clock.Now(),
		Payload: AlertPayload{AlertType: a.AlertType},
	})
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Rings:        d.rings.Load(),
		AlarmsOn:     d.alarmsOn.Load(),
		AlarmsOff:    d.alarmsOff.Load(),
		Replays:      d.replays.Load(),
		BusDropped:   d.bus.Dropped(),
		ActiveAlarms: len(d.alarms.Snapshot()),
	}
}
