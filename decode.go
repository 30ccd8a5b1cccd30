package xbroker

import "fmt"

// DecodeAs unmarshals the envelope body into T with the envelope codec.
// The typed value is cached on the envelope; repeated calls with the same T
// do not parse again.
func DecodeAs[T any](e *Envelope) (T, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := e.typed.(T); ok {
		return v, nil
	}

	var v T
	switch p := any(&v).(type) {
	case *[]byte:
		*p = e.Body
	case *string:
		*p = string(e.Body)
	default:
		if len(e.Body) == 0 {
			return v, fmt.Errorf("xbroker: decode %T: empty body", v)
		}
		if err := e.codec.Unmarshal(e.Body, &v); err != nil {
			return v, err
		}
	}
	e.typed = v
	return v, nil
}
