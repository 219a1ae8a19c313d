package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/catalog"
	"charge_point/ocppclient"
)

type nopTransport struct {
	err error
}

func (n *nopTransport) Write(data []byte) error { return n.err }

type fakeStations map[string]*ocppclient.Dispatcher

func (f fakeStations) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	return names
}

func (f fakeStations) Dispatcher(chargePointID string) (*ocppclient.Dispatcher, error) {
	d, ok := f[chargePointID]
	if !ok {
		return nil, errors.New("unknown station " + chargePointID)
	}
	return d, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *ocppclient.Dispatcher) {
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, writeErr error) (*httptest.Server, *ocppclient.Dispatcher) {
	logger, _ := test.NewNullLogger()
	d := ocppclient.New(ocppclient.Options{
		Station: catalog.Station{
			Name:        "100001",
			ConnectorID: 1,
			Ratings:     catalog.Ratings{Amp: 30, Voltage: 208},
		},
		Transport:     &nopTransport{err: writeErr},
		Logger:        logrus.NewEntry(logger),
		MeterInterval: time.Hour,
	})
	d.Opened("conn-1")
	t.Cleanup(d.Close)

	srv := httptest.NewServer(NewServer(fakeStations{"100001": d}, logrus.NewEntry(logger)).Routes())
	t.Cleanup(srv.Close)
	return srv, d
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var raw json.RawMessage
	_ = json.NewDecoder(res.Body).Decode(&raw)
	return res, raw
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestListAndGet(t *testing.T) {
	srv, _ := newTestServer(t)

	res, body := do(t, http.MethodGet, srv.URL+"/v1/chargepoints", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var list []ocppclient.Snapshot
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "100001", list[0].Name)
	assert.Equal(t, ocppclient.StateOpen, list[0].State)

	res, _ = do(t, http.MethodGet, srv.URL+"/v1/chargepoints/nope", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body = do(t, http.MethodGet, srv.URL+"/v1/chargepoints/100001/limit", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var limit limitResp
	require.NoError(t, json.Unmarshal(body, &limit))
	assert.Equal(t, 30.0, limit.Applied)
	assert.Equal(t, 30.0, limit.Composite.Limit)
}

func TestTransactionLifecycle(t *testing.T) {
	srv, d := newTestServer(t)
	base := srv.URL + "/v1/chargepoints/100001"

	res, _ := do(t, http.MethodPost, base+"/transactions", `{}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = do(t, http.MethodDelete, base+"/transactions", "")
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, body := do(t, http.MethodPost, base+"/transactions", `{"idTag":"AB12"}`)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	var sent sentResp
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "1", sent.MessageID)

	res, body = do(t, http.MethodGet, base+"/pending", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var pending []ocppclient.PendingRequest
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "StartTransaction", pending[0].Action)

	d.HandleFrame([]byte(`[3,"1",{"idTagInfo":{"status":"Accepted"},"transactionId":3}]`))

	res, _ = do(t, http.MethodPost, base+"/transactions", `{"idTag":"AB12"}`)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, body = do(t, http.MethodGet, base+"/meter", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var meter meterResp
	require.NoError(t, json.Unmarshal(body, &meter))
	assert.Len(t, meter.Sessions, 1)

	res, body = do(t, http.MethodDelete, base+"/transactions", `{"reason":"Remote"}`)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "2", sent.MessageID)

	res, body = do(t, http.MethodGet, base+"/logs", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var logs []ocppclient.LogEntry
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Len(t, logs, 3)
}

func TestSendFailureIsBadGateway(t *testing.T) {
	srv, _ := newTestServerWith(t, errors.New("websocket closed"))
	res, body := do(t, http.MethodPost, srv.URL+"/v1/chargepoints/100001/transactions", `{"idTag":"AB12"}`)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	var e errorResp
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, "message.not.send", e.Code)
}
