package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"ClinicQueue/cache"
	"ClinicQueue/config"
	"ClinicQueue/database"
	"ClinicQueue/models"
	"ClinicQueue/queue"
	"ClinicQueue/repositories"
)

var clinicTZ = time.FixedZone("clinic", 3*3600)

// 2025-10-10 09:00 in the clinic timezone.
var testNow = time.Date(2025, 10, 10, 9, 0, 0, 0, clinicTZ)

const today = "2025-10-10"

type harness struct {
	db       *gorm.DB
	days     *repositories.DayRepository
	archives *repositories.ArchiveRepository
	payments *repositories.PaymentRepository
	cache    *cache.Coordinator
	booking  *BookingService
	archive  *ArchiveService
	ledger   *PaymentService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	opts   BookingOptions
	locker database.DayLocker
}

func withCapacity(regular, golden int) harnessOption {
	return func(c *harnessConfig) {
		c.opts.DefaultCapacity = regular
		c.opts.GoldenDefaultCapacity = golden
	}
}

func withAutoAssignDays(n int) harnessOption {
	return func(c *harnessConfig) { c.opts.AutoAssignMaxDays = n }
}

func withLocker(l database.DayLocker) harnessOption {
	return func(c *harnessConfig) { c.locker = l }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}
	db, err := database.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	hc := harnessConfig{
		opts: BookingOptions{
			DefaultCapacity:       20,
			GoldenDefaultCapacity: 5,
			AutoAssignMaxDays:     30,
			Location:              clinicTZ,
		},
		locker: database.NewLocalLocker(),
	}
	for _, o := range options {
		o(&hc)
	}

	backend := cache.NewMemoryBackend(1000, 0)
	t.Cleanup(func() { _ = backend.Close() })
	coord := cache.NewCoordinator(backend, time.Minute, nil, nil)

	h := &harness{
		db:       db,
		days:     repositories.NewDayRepository(db, hc.locker),
		archives: repositories.NewArchiveRepository(db),
		payments: repositories.NewPaymentRepository(db),
		cache:    coord,
	}
	clock := func() time.Time { return testNow }
	engine := queue.NewEngine(rand.New(rand.NewPCG(3, 5)), clock)

	h.booking = NewBookingService(h.days, h.archives, coord, engine, hc.opts, nil, nil)
	h.booking.now = clock
	h.archive = NewArchiveService(h.days, h.archives, coord, clinicTZ, nil, nil)
	h.archive.now = clock
	h.ledger = NewPaymentService(h.payments, coord, 1500, clinicTZ, nil)
	h.ledger.now = clock
	return h
}

// seedDay inserts a day directly, bypassing the past-date guard.
func (h *harness) seedDay(t *testing.T, key models.DayKey, slots ...models.Slot) {
	t.Helper()
	if slots == nil {
		slots = []models.Slot{}
	}
	day := &models.BookingDay{
		ClinicID:      key.ClinicID,
		Variant:       key.Variant,
		Date:          key.Date,
		CapacityTotal: 10,
		Status:        models.DayOpen,
		Slots:         slots,
	}
	require.NoError(t, h.days.Create(context.Background(), day))
}

func regular(clinicID int64, date string) models.DayKey {
	return models.DayKey{ClinicID: clinicID, Variant: models.VariantRegular, Date: date}
}
