package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"charge_point/common"
)

// Function handles one operator command for a charge point and writes exactly
// one Response to the channel.
type Function func(string, []byte, chan common.Response)

// CommandRouter decodes operator commands and hands them to the registered
// action handlers. Both notifiers share it.
type CommandRouter struct {
	handlers  map[string]Function
	timeout   time.Duration
	validator *validator.Validate
}

func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		handlers:  make(map[string]Function),
		timeout:   30 * time.Second,
		validator: validator.New(),
	}
}

func (r *CommandRouter) SetTimeout(timeout time.Duration) {
	r.timeout = timeout
}

func (r *CommandRouter) Timeout() time.Duration {
	return r.timeout
}

func (r *CommandRouter) AddHandler(action string, fn Function) {
	r.handlers[action] = fn
}

func (r *CommandRouter) Actions() []string {
	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	return actions
}

// Handle runs the command encoded in data and returns the encoded Response.
func (r *CommandRouter) Handle(data []byte) []byte {
	bt, _ := json.Marshal(r.Dispatch(data))
	return bt
}

func (r *CommandRouter) Dispatch(data []byte) common.Response {
	var command common.Command
	if err := json.Unmarshal(data, &command); err != nil {
		log.Errorf("command not decoded: %v", err)
		return common.Failure("command.format.not.valid", "The command is not valid JSON")
	}
	log.Debugf("RequestHandler, %+v", string(data))

	if err := r.validator.Struct(&command); err != nil {
		log.Errorf("command not valid: %v", err)
		return common.Failure("command.format.not.valid", "The command is not valid")
	}

	fn, exists := r.handlers[command.Action]
	if !exists {
		return common.Failure("command.action.not.found", fmt.Sprintf("The action \"%v\" does not exist", command.Action))
	}

	payload, _ := json.Marshal(command.Payload)
	// buffered so a handler finishing after the timeout does not block forever
	responseChannel := make(chan common.Response, 1)
	go fn(command.ChargePointId, payload, responseChannel)

	select {
	case response := <-responseChannel:
		return response
	case <-time.After(r.timeout):
		log.Errorf("command %v timed out", command.Action)
		return common.Failure("request.timeout", "The request timed out")
	}
}
