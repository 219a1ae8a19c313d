package common

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Response is the reply to an operator Command. Exactly one of Payload and
// Err is set.
type Response struct {
	Payload interface{} `json:"payload,omitempty"`
	Err     *Error      `json:"error,omitempty"`
}

func Failure(code string, message string) Response {
	return Response{Err: &Error{Code: code, Message: message}}
}
