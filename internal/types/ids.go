// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type UserID string
type CircleID string
type OperationID string
type TimingID string

func NewOperationID() OperationID {
	return OperationID(uuid.New().String())
}

func NewTimingID() TimingID {
	return TimingID(uuid.New().String())
}

func NewCircleKey(parts ...string) CircleID {
	return CircleID(strings.Join(parts, ":"))
}
