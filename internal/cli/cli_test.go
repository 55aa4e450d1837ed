package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/example/parkswap/internal/http"
	"github.com/example/parkswap/internal/ledger"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/matcher"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/storage"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	st := storage.NewMemoryStore()
	life, err := lifecycle.NewService(lifecycle.Deps{Store: st, Ledger: ledger.New()})
	require.NoError(t, err)
	srv, err := httpapi.NewServer(httpapi.Deps{
		Lifecycle: life,
		Matcher:   &matcher.Service{Lifecycle: life, Store: st},
		Store:     st,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func run(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestReservationRoundTrip(t *testing.T) {
	ts := newAPI(t)

	out, err := run(t, ts.URL, "--format", "json", "publish", "seller", "--price", "8", "--minutes", "5", "--lat", "40.4", "--lng", "-3.7")
	require.NoError(t, err)
	var a models.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, models.StatusActive, a.Status)

	out, err = run(t, ts.URL, "--format", "json", "request", a.ID, "buyer", "--car-plate", "1234ABC")
	require.NoError(t, err)
	var r models.ReservationRequest
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "1234ABC", r.Buyer.CarPlate)

	out, err = run(t, ts.URL, "accept", r.ID, "seller")
	require.NoError(t, err)
	assert.Contains(t, out, "accepted")

	out, err = run(t, ts.URL, "show", a.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "reserved by buyer")

	out, err = run(t, ts.URL, "complete", a.ID, "seller")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	out, err = run(t, ts.URL, "ledger", "seller")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 5.36 EUR")

	out, err = run(t, ts.URL, "history", "buyer")
	require.NoError(t, err)
	assert.Contains(t, out, "[buyer] "+a.ID)
}

func TestNearbyAndLocation(t *testing.T) {
	ts := newAPI(t)
	_, err := run(t, ts.URL, "publish", "seller", "--lat", "40.4168", "--lng", "-3.7038", "--address", "Gran Via 1")
	require.NoError(t, err)

	out, err := run(t, ts.URL, "nearby", "--lat", "40.4168", "--lng", "-3.7038", "--radius", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "Gran Via 1")

	out, err = run(t, ts.URL, "nearby", "--lat", "40.4168", "--lng", "-3.7038", "--viewer", "seller")
	require.NoError(t, err)
	assert.Contains(t, out, "no alerts")

	out, err = run(t, ts.URL, "location", "buyer", "40.4", "-3.7")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestServerErrorsSurface(t *testing.T) {
	ts := newAPI(t)
	_, err := run(t, ts.URL, "show", "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := run(t, "http://127.0.0.1:1", "--format", "yaml", "ledger", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
