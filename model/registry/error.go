package registry

import (
	"encoding/json"
)

// ErrorTypeName is the type name of error values.
const ErrorTypeName = "error"

// ErrorValue is a failure carried through an expression as an ordinary
// value. Stack is empty in production.
type ErrorValue struct {
	Message string
	Stack   string
}

// NewErrorValue converts err into an error value. Error values are returned as is.
func NewErrorValue(err error, stack string) *ErrorValue {
	if ev, ok := err.(*ErrorValue); ok {
		return ev
	}
	return &ErrorValue{Message: err.Error(), Stack: stack}
}

// TypeName implements Typed.
func (e *ErrorValue) TypeName() string {
	return ErrorTypeName
}

// Error implements the error interface.
func (e *ErrorValue) Error() string {
	return e.Message
}

type errorBody struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// MarshalJSON encodes the value as {"type":"error","error":{"message":...}}.
func (e *ErrorValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string    `json:"type"`
		Error errorBody `json:"error"`
	}{ErrorTypeName, errorBody{e.Message, e.Stack}})
}

// AsError returns the error value held by v. Besides *ErrorValue it accepts
// decoded {"type":"error"} objects, as returned by remote functions.
func AsError(v interface{}) (*ErrorValue, bool) {
	switch t := v.(type) {
	case *ErrorValue:
		return t, true
	case map[string]interface{}:
		if t["type"] != ErrorTypeName {
			return nil, false
		}
		ev := &ErrorValue{}
		if body, ok := t["error"].(map[string]interface{}); ok {
			ev.Message, _ = body["message"].(string)
			ev.Stack, _ = body["stack"].(string)
		}
		return ev, true
	}
	return nil, false
}
