package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
	"ClinicQueue/queue"
)

func bookReq(clinicID int64, date, patientID string) BookRequest {
	return BookRequest{
		ClinicID: clinicID,
		Variant:  models.VariantRegular,
		Date:     date,
		Patient:  queue.Patient{PatientID: patientID, Name: "patient " + patientID, Source: queue.SourceSecretaryApp},
	}
}

func TestBookCreatesDayAndInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.booking.GetDay(ctx, regular(4, today))
	assert.True(t, apperr.Is(err, apperr.NotFound))

	first, err := h.booking.Book(ctx, bookReq(4, today, "P-200"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Token)
	assert.Equal(t, "S-4-20251010-001", first.BookingID)

	day, err := h.booking.GetDay(ctx, regular(4, today))
	require.NoError(t, err)
	assert.Len(t, day.Slots, 1)
	assert.Equal(t, 20, day.CapacityTotal)

	_, err = h.booking.Book(ctx, bookReq(4, today, "P-201"))
	require.NoError(t, err)

	day, err = h.booking.GetDay(ctx, regular(4, today))
	require.NoError(t, err)
	assert.Len(t, day.Slots, 2, "cached day was invalidated by the second booking")

	list, err := h.booking.ListDays(ctx, 4, models.VariantRegular)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].CapacityUsed)
}

func TestBookValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.booking.Book(ctx, bookReq(4, "", "P-1"))
	assert.True(t, apperr.Is(err, apperr.MalformedInput), "secretaries must give a date")

	_, err = h.booking.Book(ctx, bookReq(4, "2025-10-09", "P-1"))
	assert.True(t, apperr.Is(err, apperr.InvalidTransition))

	_, err = h.booking.Book(ctx, bookReq(4, "10-10-2025", "P-1"))
	assert.True(t, apperr.Is(err, apperr.MalformedInput))

	_, err = h.booking.Book(ctx, bookReq(4, today, "P-1"))
	require.NoError(t, err)
	_, err = h.booking.Book(ctx, bookReq(4, today, "P-1"))
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestBookGeneratesPatientIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedDay(t, regular(4, "2025-10-12"), models.Slot{BookingID: "B-4-20251012-0001", Token: 1, PatientID: "P-140", Status: models.StatusBooked})

	b, err := h.booking.Book(ctx, bookReq(4, today, ""))
	require.NoError(t, err)
	assert.Equal(t, "P-141", b.PatientID)
}

func TestGoldenBookingGetsCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	req := bookReq(4, today, "71")
	req.Variant = models.VariantGolden
	b, err := h.booking.Book(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "G-4-20251010-71", b.BookingID)
	require.Len(t, b.Code, 4)
	assert.GreaterOrEqual(t, b.Code, "1000")

	day, err := h.booking.GetDay(ctx, models.DayKey{ClinicID: 4, Variant: models.VariantGolden, Date: today})
	require.NoError(t, err)
	assert.Equal(t, 5, day.CapacityTotal, "golden days default to the golden capacity")

	_, err = h.booking.GetDay(ctx, regular(4, today))
	assert.True(t, apperr.Is(err, apperr.NotFound), "golden and regular days are separate")
}

func TestAutoAssignFillsForward(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withCapacity(2, 2))

	var dates []string
	for i := 0; i < 5; i++ {
		req := bookReq(4, "", fmt.Sprintf("P-%d", 300+i))
		req.Source = queue.SourcePatientApp
		b, err := h.booking.Book(ctx, req)
		require.NoError(t, err)
		dates = append(dates, b.Date)
	}
	assert.Equal(t, []string{"2025-10-10", "2025-10-10", "2025-10-11", "2025-10-11", "2025-10-12"}, dates)

	req := bookReq(4, "", "P-304")
	req.Source = queue.SourcePatientApp
	b, err := h.booking.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-13", b.Date, "the day the patient already holds is skipped")
}

func TestAutoAssignSkipsClosedDays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.booking.OpenDay(ctx, OpenDayRequest{ClinicID: 4, Variant: models.VariantRegular, Date: today, Status: models.DayClosed})
	require.NoError(t, err)

	req := bookReq(4, "", "P-1")
	req.Source = queue.SourcePatientApp
	b, err := h.booking.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-11", b.Date)

	_, err = h.booking.Book(ctx, bookReq(4, today, "P-2"))
	assert.True(t, apperr.Is(err, apperr.InvalidTransition))
}

func TestAutoAssignExhaustsWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withCapacity(1, 1), withAutoAssignDays(2))

	for i := 0; i < 2; i++ {
		req := bookReq(4, "", fmt.Sprintf("P-%d", 10+i))
		req.Source = queue.SourcePatientApp
		_, err := h.booking.Book(ctx, req)
		require.NoError(t, err)
	}
	req := bookReq(4, "", "P-99")
	req.Source = queue.SourcePatientApp
	_, err := h.booking.Book(ctx, req)
	assert.True(t, apperr.Is(err, apperr.CapacityExceeded))
}

func TestConcurrentBookingsNeverShareTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.booking.OpenDay(ctx, OpenDayRequest{ClinicID: 4, Variant: models.VariantRegular, Date: today, CapacityTotal: 25})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		tokens   []int
		rejected int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := h.booking.Book(ctx, bookReq(4, today, fmt.Sprintf("P-%d", 500+i)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, apperr.Is(err, apperr.CapacityExceeded), "%v", err)
				rejected++
				return
			}
			tokens = append(tokens, b.Token)
		}(i)
	}
	wg.Wait()

	sort.Ints(tokens)
	want := make([]int, 25)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, tokens)
	assert.Equal(t, 5, rejected)
}

func TestChangeStatusRenumbersOnCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var ids []string
	for i := 0; i < 3; i++ {
		b, err := h.booking.Book(ctx, bookReq(4, today, fmt.Sprintf("P-%d", i+1)))
		require.NoError(t, err)
		ids = append(ids, b.BookingID)
	}
	// Warm the cache so the cancel has to invalidate it.
	_, err := h.booking.GetDay(ctx, regular(4, today))
	require.NoError(t, err)

	change, err := h.booking.ChangeStatus(ctx, ids[0], models.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Nil(t, change.Token)
	assert.Equal(t, models.StatusBooked, change.Previous)

	day, err := h.booking.GetDay(ctx, regular(4, today))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, queue.ActiveTokens(day))
	assert.Equal(t, 1, day.Slots[day.FindSlot(ids[1])].Token)

	served, err := h.booking.ChangeStatus(ctx, ids[1], models.StatusServed)
	require.NoError(t, err)
	require.NotNil(t, served.Token)
	assert.Equal(t, 1, *served.Token)
}

func TestChangeStatusErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	b, err := h.booking.Book(ctx, bookReq(4, today, "P-1"))
	require.NoError(t, err)

	_, err = h.booking.ChangeStatus(ctx, "nonsense", models.StatusServed)
	assert.True(t, apperr.Is(err, apperr.MalformedInput))

	_, err = h.booking.ChangeStatus(ctx, "S-4-20251010-009", models.StatusServed)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = h.booking.ChangeStatus(ctx, "S-9-20251010-001", models.StatusServed)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = h.booking.ChangeStatus(ctx, b.BookingID, models.StatusNoShow)
	require.NoError(t, err)

	again, err := h.booking.ChangeStatus(ctx, b.BookingID, models.StatusNoShow)
	require.NoError(t, err)
	assert.False(t, again.Changed)

	_, err = h.booking.ChangeStatus(ctx, b.BookingID, models.StatusServed)
	assert.True(t, apperr.Is(err, apperr.InvalidTransition))
}

func TestOpenDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	day, err := h.booking.OpenDay(ctx, OpenDayRequest{ClinicID: 4, Variant: models.VariantRegular, Date: "2025-10-11", CapacityTotal: 7})
	require.NoError(t, err)
	assert.Equal(t, models.DayOpen, day.Status)

	_, err = h.booking.OpenDay(ctx, OpenDayRequest{ClinicID: 4, Variant: models.VariantRegular, Date: "2025-10-11"})
	assert.True(t, apperr.Is(err, apperr.Conflict))

	next, err := h.booking.OpenDay(ctx, OpenDayRequest{ClinicID: 4, Variant: models.VariantRegular, Date: "2025-10-12"})
	require.NoError(t, err)
	assert.Equal(t, 7, next.CapacityTotal, "capacity follows the latest day")

	_, err = h.booking.OpenDay(ctx, OpenDayRequest{ClinicID: 4, Variant: models.VariantRegular, Date: "2025-10-01"})
	assert.True(t, apperr.Is(err, apperr.InvalidTransition))
}

func TestCloseDayArchivesImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	var ids []string
	for i := 0; i < 3; i++ {
		b, err := h.booking.Book(ctx, bookReq(4, today, fmt.Sprintf("P-%d", i+1)))
		require.NoError(t, err)
		ids = append(ids, b.BookingID)
	}
	_, err := h.booking.ChangeStatus(ctx, ids[0], models.StatusServed)
	require.NoError(t, err)

	entry, err := h.booking.CloseDay(ctx, regular(4, today))
	require.NoError(t, err)
	assert.Equal(t, 1, *entry.CapacityServed)
	assert.Equal(t, 2, *entry.CapacityCancelled)
	assert.Len(t, entry.Slots, 3)

	_, err = h.booking.GetDay(ctx, regular(4, today))
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = h.booking.CloseDay(ctx, regular(4, today))
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = h.booking.Book(ctx, bookReq(4, today, "P-9"))
	assert.True(t, apperr.Is(err, apperr.InvalidTransition), "an archived date cannot be booked again")

	archived, err := h.archive.ListArchives(ctx, archiveFilter(4))
	require.NoError(t, err)
	require.Len(t, archived, 1)
}
