package enums

import "fmt"

// TargetType identifies what kind of principal an activity is addressed to.
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
)

var validTargetTypes = []TargetType{TargetUser, TargetGroup}

// IsValid checks whether the given type matches the canonical enum.
func (t TargetType) IsValid() bool {
	for _, candidate := range validTargetTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTargetType converts raw strings into TargetType.
func ParseTargetType(value string) (TargetType, error) {
	for _, candidate := range validTargetTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid target type %q", value)
}

// ReadStatus is tracked per recipient, never on the activity itself.
type ReadStatus string

const (
	ReadStatusUnread ReadStatus = "unread"
	ReadStatusRead   ReadStatus = "read"
)

// DigestStatus tracks email digest delivery for one recipient row.
type DigestStatus string

const (
	// DigestNotApplicable marks rows outside the notification channel or not addressed to a user.
	DigestNotApplicable DigestStatus = "not_applicable"
	DigestPending       DigestStatus = "pending"
	DigestDelivered     DigestStatus = "delivered"
	// DigestFailed is terminal: delivery was retried up to the configured limit.
	DigestFailed DigestStatus = "failed"
)

// EntityEvent is the kind of mutation that triggered fan-out.
type EntityEvent string

const (
	EntityInserted EntityEvent = "insert"
	EntityUpdated  EntityEvent = "update"
	EntityDeleted  EntityEvent = "delete"
)

// ParseEntityEvent converts raw strings into EntityEvent.
func ParseEntityEvent(value string) (EntityEvent, error) {
	switch EntityEvent(value) {
	case EntityInserted, EntityUpdated, EntityDeleted:
		return EntityEvent(value), nil
	}
	return "", fmt.Errorf("invalid entity event %q", value)
}
