package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlb/internal/admin"
	"fleetlb/internal/driver"
	"fleetlb/internal/fleet"
)

func newTestAdmin(t *testing.T, f *fleet.Fleet, d driver.Driver) *httptest.Server {
	t.Helper()
	s := admin.New(f, d, "127.0.0.1:0")
	return httptest.NewServer(s.Handler())
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRep_EmptyFleet(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rep")
	require.NoError(t, err)
	var body struct {
		Message struct {
			N        int      `json:"N"`
			Replicas []string `json:"replicas"`
		} `json:"message"`
		Status string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "successful", body.Status)
	assert.Equal(t, 0, body.Message.N)
}

func TestAdd_WithHostnames(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	for _, id := range []string{"x", "y", "z"} {
		_, err := f.Provision(context.Background(), id)
		require.NoError(t, err)
	}
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	reqBody, _ := json.Marshal(map[string]any{"n": 2, "hostnames": []string{"A", "B"}})
	resp, err := http.Post(srv.URL+"/add", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)

	var body struct {
		Message struct {
			N        int      `json:"N"`
			Replicas []string `json:"replicas"`
		} `json:"message"`
		Status string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "successful", body.Status)
	assert.Equal(t, 5, body.Message.N)
	assert.Contains(t, body.Message.Replicas, "A")
	assert.Contains(t, body.Message.Replicas, "B")
}

func TestAdd_OverNamed_Returns400WithErrorMessage(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	reqBody, _ := json.Marshal(map[string]any{"n": 1, "hostnames": []string{"A", "B"}})
	resp, err := http.Post(srv.URL+"/add", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "failure", body.Status)
	assert.Contains(t, body.Message, "<Error>")
	assert.Contains(t, body.Message, "hostname")
}

func TestAdd_MissingN_Returns400WithErrorMessage(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/add", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "failure", body.Status)
	assert.Contains(t, body.Message, "<Error>")
	assert.Contains(t, body.Message, "n is required")

	assert.Equal(t, 0, len(f.Members()))
}

func TestRm_MissingN_Returns400WithErrorMessage(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	_, err := f.Provision(context.Background(), "a")
	require.NoError(t, err)
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/rm", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "failure", body.Status)
	assert.Contains(t, body.Message, "<Error>")
	assert.Contains(t, body.Message, "n is required")

	assert.Equal(t, 1, len(f.Members()))
}

func TestRm_ByNameWithRandomFill(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := f.Provision(context.Background(), id)
		require.NoError(t, err)
	}
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	reqBody, _ := json.Marshal(map[string]any{"n": 3, "hostnames": []string{"A"}})
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/rm", bytes.NewReader(reqBody))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var body struct {
		Message struct {
			N        int      `json:"N"`
			Replicas []string `json:"replicas"`
		} `json:"message"`
		Status string `json:"status"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "successful", body.Status)
	assert.Equal(t, 1, body.Message.N)
	assert.NotContains(t, body.Message.Replicas, "A")
}

func TestBlockUnblock_RoundTrip(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 100, d)
	_, err := f.Provision(context.Background(), "a")
	require.NoError(t, err)
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	reqBody, _ := json.Marshal(map[string]string{"hostname": "a"})
	resp, err := http.Post(srv.URL+"/block", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for fp := uint64(0); fp < 50; fp++ {
		_, ok := f.Lookup(fp)
		assert.False(t, ok)
	}

	resp, err = http.Post(srv.URL+"/unblock", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	id, ok := f.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestHealthz(t *testing.T) {
	d := driver.NewFakeDriver()
	f := fleet.New(512, 9, d)
	srv := newTestAdmin(t, f, d)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
