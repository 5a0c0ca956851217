// Package queue implements the token engine: allocation, status transitions
// and gap-free renumbering over a single day's slot list. It performs no I/O;
// callers are responsible for holding the day's lock.
package queue

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
)

// Patient is the request to place someone in a day's queue.
type Patient struct {
	PatientID   string
	Name        string
	Phone       string
	Source      string
	SecretaryID string
}

// Rand is the randomness used for golden check-in codes.
type Rand interface {
	IntN(n int) int
}

// Engine applies queue rules to booking days.
type Engine struct {
	rand Rand
	now  func() time.Time
}

// sharedRand draws from the runtime's goroutine-safe source.
type sharedRand struct{}

func (sharedRand) IntN(n int) int { return rand.IntN(n) }

// NewEngine returns an engine. A nil Rand uses the shared runtime source and
// a nil clock defaults to time.Now.
func NewEngine(r Rand, now func() time.Time) *Engine {
	if r == nil {
		r = sharedRand{}
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{rand: r, now: now}
}

// Allocate appends a booked slot with token = active count + 1.
// The day is left untouched on any error.
func (e *Engine) Allocate(day *models.BookingDay, p Patient) (models.Slot, error) {
	if day.Status == models.DayClosed {
		return models.Slot{}, apperr.New(apperr.InvalidTransition, "day %s is closed", day.Date)
	}
	active := day.ActiveCount()
	if active >= day.CapacityTotal {
		return models.Slot{}, apperr.New(apperr.CapacityExceeded, "day %s is full (%d/%d)", day.Date, active, day.CapacityTotal)
	}
	if p.PatientID != "" && HasActivePatient(day, p.PatientID) {
		return models.Slot{}, apperr.New(apperr.Conflict, "patient %s already booked on %s", p.PatientID, day.Date)
	}

	bookingID, err := NewBookingID(day, p)
	if err != nil {
		return models.Slot{}, err
	}
	if day.FindSlot(bookingID) >= 0 {
		return models.Slot{}, apperr.New(apperr.Conflict, "booking %s already exists", bookingID)
	}

	slot := models.Slot{
		BookingID:   bookingID,
		Token:       active + 1,
		PatientID:   p.PatientID,
		Name:        p.Name,
		Phone:       p.Phone,
		Source:      p.Source,
		Status:      models.StatusBooked,
		SecretaryID: p.SecretaryID,
		CreatedAt:   e.now().UTC(),
	}
	if day.Variant == models.VariantGolden {
		code, err := e.uniqueCode(day)
		if err != nil {
			return models.Slot{}, err
		}
		slot.Code = code
	}

	day.Slots = append(day.Slots, slot)
	day.CapacityUsed = active + 1
	return slot, nil
}

// Transition moves a slot to next. Only cancellation frees a queue position:
// every active slot behind the cancelled one moves up by exactly one.
// Applying the slot's current status again is a no-op and returns changed=false.
func (e *Engine) Transition(day *models.BookingDay, bookingID string, next models.SlotStatus) (slot models.Slot, previous models.SlotStatus, changed bool, err error) {
	idx := day.FindSlot(bookingID)
	if idx < 0 {
		return models.Slot{}, "", false, apperr.New(apperr.NotFound, "booking %s not found on %s", bookingID, day.Date)
	}
	cur := day.Slots[idx]
	if cur.Status == next {
		return cur, cur.Status, false, nil
	}
	if cur.Status.Terminal() {
		return cur, cur.Status, false, apperr.New(apperr.InvalidTransition, "booking %s is already %s", bookingID, cur.Status)
	}
	if next == models.StatusBooked {
		return cur, cur.Status, false, apperr.New(apperr.InvalidTransition, "booking %s cannot return to booked", bookingID)
	}

	if next == models.StatusCancelled {
		freed := cur.Token
		for i := range day.Slots {
			if i != idx && day.Slots[i].Active() && day.Slots[i].Token > freed {
				day.Slots[i].Token--
			}
		}
		day.Slots[idx].Token = 0
	}
	day.Slots[idx].Status = next
	day.CapacityUsed = day.ActiveCount()
	return day.Slots[idx], cur.Status, true, nil
}

// CloseOut cancels every slot still waiting in the queue. Tokens are left as
// they were because the day is about to be frozen. It returns the number of
// slots changed.
func (e *Engine) CloseOut(day *models.BookingDay) int {
	n := 0
	for i := range day.Slots {
		if day.Slots[i].Status == models.StatusBooked {
			day.Slots[i].Status = models.StatusCancelled
			n++
		}
	}
	day.Status = models.DayClosed
	return n
}

// HasActivePatient reports whether patientID holds a non-cancelled slot.
func HasActivePatient(day *models.BookingDay, patientID string) bool {
	for _, s := range day.Slots {
		if s.PatientID == patientID && s.Active() {
			return true
		}
	}
	return false
}

// ActiveTokens returns the tokens of active slots in queue order.
func ActiveTokens(day *models.BookingDay) []int {
	active := make([]models.Slot, 0, len(day.Slots))
	for _, s := range day.Slots {
		if s.Active() {
			active = append(active, s)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Token != active[j].Token {
			return active[i].Token < active[j].Token
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	tokens := make([]int, len(active))
	for i, s := range active {
		tokens[i] = s.Token
	}
	return tokens
}

// Verify checks that active tokens form exactly {1..N}.
func Verify(day *models.BookingDay) error {
	for i, tok := range ActiveTokens(day) {
		if tok != i+1 {
			return apperr.New(apperr.Internal, "day %s token sequence broken at position %d (token %d)", day.Date, i+1, tok)
		}
	}
	return nil
}

// Tally counts slots by status.
type Tally struct {
	Total     int
	Active    int
	Booked    int
	Served    int
	Cancelled int
	NoShow    int
}

// Count tallies a slot list.
func Count(slots []models.Slot) Tally {
	t := Tally{Total: len(slots)}
	for _, s := range slots {
		switch s.Status {
		case models.StatusBooked:
			t.Booked++
		case models.StatusServed:
			t.Served++
		case models.StatusCancelled:
			t.Cancelled++
		case models.StatusNoShow:
			t.NoShow++
		}
		if s.Active() {
			t.Active++
		}
	}
	return t
}

const codeAttempts = 100

func (e *Engine) uniqueCode(day *models.BookingDay) (string, error) {
	used := make(map[string]struct{}, len(day.Slots))
	for _, s := range day.Slots {
		if s.Code != "" {
			used[s.Code] = struct{}{}
		}
	}
	for i := 0; i < codeAttempts; i++ {
		code := strconv.Itoa(1000 + e.rand.IntN(9000))
		if _, taken := used[code]; !taken {
			return code, nil
		}
	}
	return "", apperr.New(apperr.Conflict, "unable to generate a unique check-in code for %s", day.Date)
}
