package transport

import (
	"context"
	"errors"
	"strings"
)

// DeliveryClass classifies a failed outbound send.
type DeliveryClass string

const (
	DeliveryOK          DeliveryClass = "ok"
	DeliveryTransient   DeliveryClass = "transient"
	DeliveryUnreachable DeliveryClass = "unreachable"
)

// Substrings that mark a recipient as permanently unreachable. Matching is
// done on the error text because platform error values differ per library
// version. Status codes only count in the "(403)" suffix form, so a number
// inside the description never matches.
var unreachableMarkers = []string{
	"blocked",
	"(403)",
	"forbidden",
	"deactivated",
	"chat not found",
	"user is deactivated",
}

// ClassifyDelivery maps a send error to a delivery class.
func ClassifyDelivery(err error) DeliveryClass {
	if err == nil {
		return DeliveryOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return DeliveryTransient
	}
	s := strings.ToLower(err.Error())
	for _, m := range unreachableMarkers {
		if strings.Contains(s, m) {
			return DeliveryUnreachable
		}
	}
	return DeliveryTransient
}

// IsUnreachable reports whether err means the recipient can no longer be reached.
func IsUnreachable(err error) bool { return ClassifyDelivery(err) == DeliveryUnreachable }
