package notifier

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charge_point/common"
)

func TestDispatchRunsHandler(t *testing.T) {
	router := NewCommandRouter()
	router.AddHandler("heartbeat", func(chargePointID string, payload []byte, responseChannel chan common.Response) {
		assert.Equal(t, "100001", chargePointID)
		assert.JSONEq(t, `{"a":1}`, string(payload))
		responseChannel <- common.Response{Payload: "ok"}
	})

	response := router.Dispatch([]byte(`{"action":"heartbeat","chargePointId":"100001","payload":{"a":1}}`))
	assert.Nil(t, response.Err)
	assert.Equal(t, "ok", response.Payload)
}

func TestDispatchErrors(t *testing.T) {
	router := NewCommandRouter()

	for data, code := range map[string]string{
		`nope`:                                   "command.format.not.valid",
		`{"action":"heartbeat"}`:                 "command.format.not.valid",
		`{"action":"nope","chargePointId":"1"}`: "command.action.not.found",
	} {
		response := router.Dispatch([]byte(data))
		require.NotNil(t, response.Err, data)
		assert.Equal(t, code, response.Err.Code, data)
	}
}

func TestDispatchTimeout(t *testing.T) {
	router := NewCommandRouter()
	router.SetTimeout(10 * time.Millisecond)
	router.AddHandler("slow", func(string, []byte, chan common.Response) {})

	response := router.Dispatch([]byte(`{"action":"slow","chargePointId":"1"}`))
	require.NotNil(t, response.Err)
	assert.Equal(t, "request.timeout", response.Err.Code)
}

func TestHandleEncodesResponse(t *testing.T) {
	router := NewCommandRouter()
	var response common.Response
	require.NoError(t, json.Unmarshal(router.Handle([]byte(`{}`)), &response))
	require.NotNil(t, response.Err)
	assert.Equal(t, "command.format.not.valid", response.Err.Code)
}
