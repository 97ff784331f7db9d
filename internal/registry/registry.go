package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/watch"
)

var (
	// ErrDuplicateCoordinates rejects a Register call whose (group, row,
	// col) is already claimed by a different unit.
	ErrDuplicateCoordinates = errors.New("registry: duplicate group/row/col")
	// ErrUnknownImage rejects an operation naming an image not in the
	// server's configured image list.
	ErrUnknownImage = errors.New("registry: unknown image")
	// ErrUnknownGroup rejects a Register call naming a group not in the
	// server's configured group table.
	ErrUnknownGroup = errors.New("registry: unknown group")
)

// Registry is the server's fleet state: every registered Unit, published
// through a watch.Cell. The units journal subscribes to changes; the admin
// surface and the broadcast engine's hint beacon read it through Select.
type Registry struct {
	groupID    func(name string) (uint8, bool)
	validImage func(name string) bool

	units *watch.Cell[[]Unit]

	hintMu sync.Mutex
	hint   *RegistrationHint

	Logger *observability.Logger
}

// RegistrationHint is the server's suggestion for the next unit to
// register: the next free (group, row, col) slot and the image that slot
// should receive, computed from the last registration seen.
type RegistrationHint struct {
	Group uint8
	Row   uint8
	Col   uint8
	Image string
}

// New constructs an empty Registry. groupID resolves a configured group's
// display name to its numeric id; validImage reports whether a name is one
// of the server's configured images.
func New(groupID func(name string) (uint8, bool), validImage func(name string) bool) *Registry {
	return &Registry{
		groupID:    groupID,
		validImage: validImage,
		units:      watch.NewCell[[]Unit](nil),
	}
}

// Load seeds the registry from a previously-persisted unit list (the
// units journal), as read back on startup.
func Load(units []Unit, groupID func(name string) (uint8, bool), validImage func(name string) bool) *Registry {
	r := New(groupID, validImage)
	r.units.Modify(func(u *[]Unit) bool {
		*u = units
		return true
	})
	return r
}

func findUnit(units []Unit, mac net.HardwareAddr) int {
	for i, u := range units {
		if u.MAC.String() == mac.String() {
			return i
		}
	}
	return -1
}

// Register validates station against the configured image and group
// tables, rejects a duplicate (group, row, col), and upserts the unit
// identified by mac.
func (r *Registry) Register(mac net.HardwareAddr, station RegistrationInfo) error {
	if !r.validImage(station.Image) {
		return fmt.Errorf("%w: %s", ErrUnknownImage, station.Image)
	}
	group, ok := r.groupID(station.Group)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, station.Group)
	}

	var opErr error
	r.units.Modify(func(units *[]Unit) bool {
		for _, u := range *units {
			if u.MAC.String() != mac.String() && u.Group == group && u.Row == station.Row && u.Col == station.Col {
				opErr = ErrDuplicateCoordinates
				return false
			}
		}
		if i := findUnit(*units, mac); i != -1 {
			(*units)[i].Group = group
			(*units)[i].Row = station.Row
			(*units)[i].Col = station.Col
			(*units)[i].Image = station.Image
			return true
		}
		*units = append(*units, Unit{
			MAC:        mac,
			Group:      group,
			Row:        station.Row,
			Col:        station.Col,
			Image:      station.Image,
			NextAction: ActionWait,
		})
		return true
	})
	if opErr == nil && r.Logger != nil {
		r.Logger.UnitRegistered(mac, group, uint16(station.Row), uint16(station.Col), station.Image)
	}
	return opErr
}

// GetUnit returns the unit registered under mac, if any.
func (r *Registry) GetUnit(mac net.HardwareAddr) (Unit, bool) {
	units := r.units.Borrow()
	if i := findUnit(units, mac); i != -1 {
		return units[i].clone(), true
	}
	return Unit{}, false
}

// Select returns every unit accepted by sel.
func (r *Registry) Select(sel Selector) []Unit {
	units := r.units.Borrow()
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		if sel.matches(u) {
			out = append(out, u.clone())
		}
	}
	return out
}

func (r *Registry) update(sel Selector, f func(*Unit)) int {
	updated := 0
	r.units.Modify(func(units *[]Unit) bool {
		for i := range *units {
			if sel.matches((*units)[i]) {
				f(&(*units)[i])
				updated++
			}
		}
		return updated > 0
	})
	return updated
}

// CompleteAction clears curr_action/curr_progress for every selected unit,
// reporting that the unit finished its terminal action and is ready for a
// new one.
func (r *Registry) CompleteAction(sel Selector) int {
	return r.update(sel, func(u *Unit) {
		u.CurrAction = nil
		u.CurrProgress = nil
	})
}

// GetAction implements the polling transition: an unregistered unit is
// told to Register; a unit with an in-flight terminal action is told to
// keep polling it; a unit whose next_action is terminal (Store, Flash,
// Register) is promoted into curr_action and next_action resets to Wait;
// a unit whose next_action is transient (Reboot, Wait, Shutdown) is told
// that action every time, without ever touching curr_action.
func (r *Registry) GetAction(mac net.HardwareAddr) Action {
	action := ActionWait
	r.units.Modify(func(units *[]Unit) bool {
		i := findUnit(*units, mac)
		if i == -1 {
			action = ActionRegister
			return false
		}
		u := &(*units)[i]
		if u.CurrAction != nil {
			action = *u.CurrAction
			return false
		}
		if u.NextAction.terminal() {
			a := u.NextAction
			u.CurrAction = &a
			u.NextAction = ActionWait
			action = a
			if r.Logger != nil {
				r.Logger.ActionAssigned(mac, a.String())
			}
			return true
		}
		action = u.NextAction
		return false
	})
	return action
}

// SetProgress records a unit's self-reported position within its current
// action.
func (r *Registry) SetProgress(sel Selector, done, total uint64) int {
	return r.update(sel, func(u *Unit) {
		u.CurrProgress = &Progress{Done: done, Total: total}
	})
}

// Ping records a liveness report, as produced by the UDP ping listener
// identifying the sender by ARP lookup.
func (r *Registry) Ping(sel Selector, timestamp int64, comment []byte) int {
	return r.update(sel, func(u *Unit) {
		u.LastPingTimestamp = timestamp
		u.LastPingComment = append([]byte(nil), comment...)
	})
}

// SetNextAction schedules action to run the next time each selected unit
// polls and has no action in flight.
func (r *Registry) SetNextAction(sel Selector, action Action) int {
	return r.update(sel, func(u *Unit) {
		u.NextAction = action
	})
}

// SetCurrentAction forces each selected unit's action to action
// immediately, bypassing the next_action queue.
func (r *Registry) SetCurrentAction(sel Selector, action Action) int {
	return r.update(sel, func(u *Unit) {
		u.CurrAction = &action
		u.CurrProgress = nil
	})
}

// SetImage reassigns each selected unit's image.
func (r *Registry) SetImage(sel Selector, image string) (int, error) {
	if !r.validImage(image) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownImage, image)
	}
	return r.update(sel, func(u *Unit) { u.Image = image }), nil
}

// Forget removes every selected unit from the registry.
func (r *Registry) Forget(sel Selector) int {
	removed := 0
	r.units.Modify(func(units *[]Unit) bool {
		kept := (*units)[:0]
		for _, u := range *units {
			if sel.matches(u) {
				removed++
				continue
			}
			kept = append(kept, u)
		}
		*units = kept
		return removed > 0
	})
	return removed
}

// Subscribe returns a Receiver yielding the latest unit list on every
// change, for the units-journal writer and any other reactive consumer.
func (r *Registry) Subscribe() *watch.Receiver[[]Unit] {
	return r.units.Subscribe()
}

// Hint returns the current registration hint, if one has been computed.
func (r *Registry) Hint() (RegistrationHint, bool) {
	r.hintMu.Lock()
	defer r.hintMu.Unlock()
	if r.hint == nil {
		return RegistrationHint{}, false
	}
	return *r.hint, true
}

// SetHint replaces the current registration hint.
func (r *Registry) SetHint(hint RegistrationHint) {
	r.hintMu.Lock()
	defer r.hintMu.Unlock()
	r.hint = &hint
}
