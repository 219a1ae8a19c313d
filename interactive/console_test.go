package interactive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"charge_point/common"
	"charge_point/notifier"
)

type names []string

func (n names) Names() []string { return append([]string(nil), n...) }

func newConsole() *Console {
	router := notifier.NewCommandRouter()
	router.AddHandler("get.state", func(chargePointID string, payload []byte, responseChannel chan common.Response) {
		responseChannel <- common.Response{Payload: map[string]string{"name": chargePointID, "payload": string(payload)}}
	})
	return &Console{stations: names{"100002", "100001"}, router: router}
}

func TestExecuteList(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, newConsole().Execute("list", &out))
	assert.Equal(t, "100001\n100002\n", out.String())
}

func TestExecuteAction(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, newConsole().Execute(`get.state 100001 {"a":1}`, &out))
	assert.Contains(t, out.String(), `"name": "100001"`)
	assert.Contains(t, out.String(), `{\"a\":1}`)
}

func TestExecuteErrors(t *testing.T) {
	c := newConsole()

	var out bytes.Buffer
	c.Execute("get.state", &out)
	assert.Contains(t, out.String(), "usage")

	out.Reset()
	c.Execute("get.state 100001 {nope", &out)
	assert.Contains(t, out.String(), "not valid JSON")

	out.Reset()
	c.Execute("reset 100001", &out)
	assert.Contains(t, out.String(), "command.action.not.found")

	assert.False(t, c.Execute("quit", &out))
}
