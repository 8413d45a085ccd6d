package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/agentstudio/tunnel-proxy/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) Database {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.sqlite")
	d, err := New(context.Background(), "sqlite", dsn, nil)
	require.NoError(t, err)

	return d
}

func activeTunnel(subdomain string) Tunnel {
	return Tunnel{
		Subdomain:    subdomain,
		TunnelID:     "tun-" + subdomain,
		TunnelName:   subdomain,
		TunnelSecret: "secret",
		DNSRecordID:  "rec-" + subdomain,
		PublicURL:    "https://" + subdomain + ".example.test",
		LocalPort:    8080,
	}
}

func TestNewRejectsUnknownDialect(t *testing.T) {
	_, err := New(context.Background(), "postgres", "dsn", nil)
	assert.Error(t, err)
}

func TestReserveConflict(t *testing.T) {
	d := newTestDB(t)

	require.NoError(t, d.Reserve("demo"))

	err := d.Reserve("demo")
	assert.ErrorIs(t, err, ErrConflict)

	// a different name is unaffected
	assert.NoError(t, d.Reserve("other"))
}

func TestConcurrentReserveHasOneWinner(t *testing.T) {
	d := newTestDB(t)

	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Reserve("demo")
		}(i)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			assert.ErrorIs(t, err, ErrConflict)
			conflicts++
		}
	}

	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, conflicts)
}

func TestFinalize(t *testing.T) {
	d := newTestDB(t)

	require.NoError(t, d.Reserve("demo"))

	row, err := d.Finalize(activeTunnel("demo"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, row.Status)
	assert.NotZero(t, row.ID)
	assert.False(t, row.CreatedAt.IsZero())

	found, err := d.FindActive("demo")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "tun-demo", found.TunnelID)
	assert.Equal(t, "rec-demo", found.DNSRecordID)
	assert.Equal(t, "https://demo.example.test", found.PublicURL)
}

func TestFinalizeWithoutReservation(t *testing.T) {
	d := newTestDB(t)

	_, err := d.Finalize(activeTunnel("demo"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelease(t *testing.T) {
	d := newTestDB(t)

	require.NoError(t, d.Reserve("demo"))
	require.NoError(t, d.Release("demo"))

	// released reservations leave no trace
	row, err := d.Find("demo")
	require.NoError(t, err)
	assert.Nil(t, row)

	// and the name is reservable again
	assert.NoError(t, d.Reserve("demo"))
}

func TestReleaseDoesNotTouchActiveRows(t *testing.T) {
	d := newTestDB(t)

	require.NoError(t, d.Reserve("demo"))
	_, err := d.Finalize(activeTunnel("demo"))
	require.NoError(t, err)

	require.NoError(t, d.Release("demo"))

	row, err := d.FindActive("demo")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestSoftDeleteAndReuse(t *testing.T) {
	d := newTestDB(t)

	require.NoError(t, d.Reserve("demo"))
	_, err := d.Finalize(activeTunnel("demo"))
	require.NoError(t, err)

	deleted, err := d.SoftDelete("demo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, deleted.Status)
	assert.Nil(t, deleted.ActiveKey)

	// no longer active
	active, err := d.FindActive("demo")
	require.NoError(t, err)
	assert.Nil(t, active)

	// but the row survives as history
	row, err := d.Find("demo")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, model.StatusDeleted, row.Status)

	// the name is reusable: a new record, not a resurrection
	require.NoError(t, d.Reserve("demo"))
	fresh, err := d.Finalize(activeTunnel("demo"))
	require.NoError(t, err)
	assert.NotEqual(t, deleted.ID, fresh.ID)
}

func TestSoftDeleteNotFound(t *testing.T) {
	d := newTestDB(t)

	_, err := d.SoftDelete("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// pending reservations are not deletable records
	require.NoError(t, d.Reserve("demo"))
	_, err = d.SoftDelete("demo")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	d := newTestDB(t)

	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, d.Reserve(name))
		_, err := d.Finalize(activeTunnel(name))
		require.NoError(t, err)
	}
	_, err := d.SoftDelete("one")
	require.NoError(t, err)

	// a pending reservation must never appear in listings
	require.NoError(t, d.Reserve("in-flight"))

	active, err := d.List(model.FilterActive, 100)
	require.NoError(t, err)
	require.Len(t, active, 2)
	// newest first
	assert.Equal(t, "three", active[0].Subdomain)
	assert.Equal(t, "two", active[1].Subdomain)

	deleted, err := d.List(model.FilterDeleted, 100)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "one", deleted[0].Subdomain)

	all, err := d.List(model.FilterAll, 100)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := d.List(model.FilterAll, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = d.List("bogus", 100)
	assert.Error(t, err)
}

func TestLiveSubdomains(t *testing.T) {
	d := newTestDB(t)

	require.NoError(t, d.Reserve("pending-one"))

	require.NoError(t, d.Reserve("active-one"))
	_, err := d.Finalize(activeTunnel("active-one"))
	require.NoError(t, err)

	require.NoError(t, d.Reserve("gone"))
	_, err = d.Finalize(activeTunnel("gone"))
	require.NoError(t, err)
	_, err = d.SoftDelete("gone")
	require.NoError(t, err)

	live, err := d.LiveSubdomains()
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{
		"pending-one": true,
		"active-one":  true,
	}, live)
}
