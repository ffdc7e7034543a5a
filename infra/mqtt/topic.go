package mqtt

import "strings"

// TopicFor substitutes vehicleID for the first "+" in pattern.
func TopicFor(pattern, vehicleID string) string {
	return strings.Replace(pattern, "+", vehicleID, 1)
}
