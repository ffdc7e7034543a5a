// Package decoder turns raw MQTT payloads into telemetry events.
//
// Decoding is pure: it performs no I/O and reports every rejected payload
// as a *DecodeError rather than panicking.
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kilianp07/fleetrisk/core/model"
)

// DefaultTopicPattern is the subscription used when none is configured.
const DefaultTopicPattern = "telemetry/+/data"

// Options configures a Decoder.
type Options struct {
	// TopicPattern is the MQTT subscription; the segment matching its first
	// "+" names the vehicle when the body does not.
	TopicPattern string
	// AcceptCBOR enables CBOR maps as an alternative to JSON objects.
	AcceptCBOR bool
}

// Decoder validates and normalizes inbound telemetry messages.
type Decoder struct {
	vehicleSegment int
	cbor           cbor.DecMode
}

// New builds a Decoder from opts.
func New(opts Options) *Decoder {
	pattern := opts.TopicPattern
	if pattern == "" {
		pattern = DefaultTopicPattern
	}
	d := &Decoder{vehicleSegment: 1}
	for i, seg := range strings.Split(pattern, "/") {
		if seg == "+" {
			d.vehicleSegment = i
			break
		}
	}
	if opts.AcceptCBOR {
		mode, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
		if err == nil {
			d.cbor = mode
		}
	}
	return d
}

// VehicleFromTopic returns the vehicle segment of topic, or "".
func (d *Decoder) VehicleFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if d.vehicleSegment >= len(parts) {
		return ""
	}
	seg := strings.TrimSpace(parts[d.vehicleSegment])
	if seg == "+" || seg == "#" {
		return ""
	}
	return seg
}

// Decode parses payload received on topic. The returned event has a zero
// Timestamp when the message carried none.
func (d *Decoder) Decode(topic string, payload []byte) (model.TelemetryEvent, error) {
	body, err := d.parse(payload)
	if err != nil {
		return model.TelemetryEvent{}, malformed(topic, err)
	}

	ev := model.TelemetryEvent{
		Topic:     topic,
		RiskClass: model.RiskUnknown,
	}
	ev.VehicleID = strings.TrimSpace(scalarString(body["vehicle_id"]))
	if ev.VehicleID == "" {
		ev.VehicleID = d.VehicleFromTopic(topic)
	}
	if ev.VehicleID == "" {
		return model.TelemetryEvent{}, &DecodeError{Reason: ReasonMissingVehicleID, Topic: topic}
	}
	ev.DriverID = scalarString(body["driver_id"])

	switch readings := body["sensor_readings"].(type) {
	case nil:
		ev.SensorReadings = map[string]any{}
	case map[string]any:
		if err := checkFinite(readings); err != nil {
			return model.TelemetryEvent{}, malformed(topic, fmt.Errorf("sensor_readings.%w", err))
		}
		ev.SensorReadings = readings
	default:
		return model.TelemetryEvent{}, malformed(topic, fmt.Errorf("sensor_readings is %T, want object", readings))
	}

	switch c := body["classification"].(type) {
	case map[string]any:
		ev.RiskClass = model.ParseRiskClass(scalarString(c["classification"]))
	case string:
		ev.RiskClass = model.ParseRiskClass(c)
	}

	if b, ok := body["processed_locally"].(bool); ok {
		ev.ProcessedLocally = b
	}
	ev.Timestamp = parseTimestamp(body["timestamp"])

	if seq := scalarString(body["seq"]); seq != "" {
		ev.Ordinal = "seq:" + seq
	} else {
		ev.Ordinal = "sha:" + model.PayloadDigest(payload)
	}
	return ev, nil
}

func (d *Decoder) parse(payload []byte) (map[string]any, error) {
	var body map[string]any
	jsonErr := json.Unmarshal(payload, &body)
	if jsonErr == nil {
		if body == nil {
			return nil, errors.New("payload is null")
		}
		return body, nil
	}
	if d.cbor == nil {
		return nil, jsonErr
	}
	body = nil
	if err := d.cbor.Unmarshal(payload, &body); err != nil || body == nil {
		return nil, fmt.Errorf("not a JSON object (%v) nor a CBOR map", jsonErr)
	}
	return body, nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// maxEpochSeconds is 9999-12-31T23:59:59Z.
const maxEpochSeconds = 253402300799

// parseTimestamp accepts ISO-8601 strings and epoch numbers. Unusable
// values, and instants outside years 1 to 9999, yield the zero time.
func parseTimestamp(v any) time.Time {
	ts := parseTimestampValue(v)
	if ts.Year() < 1 || ts.Year() > 9999 {
		return time.Time{}
	}
	return ts
}

func parseTimestampValue(v any) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
		for _, layout := range naiveLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts
			}
		}
		return time.Time{}
	case float64:
		return fromEpoch(t)
	case int64:
		return fromEpoch(float64(t))
	case uint64:
		return fromEpoch(float64(t))
	case time.Time:
		return t.UTC()
	}
	return time.Time{}
}

func fromEpoch(f float64) time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}
	}
	if f > 1e12 {
		if f/1000 > maxEpochSeconds {
			return time.Time{}
		}
		return time.UnixMilli(int64(f)).UTC()
	}
	if f > maxEpochSeconds {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// checkFinite rejects NaN and infinities, which CBOR can carry but the
// stores cannot encode.
func checkFinite(v any) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("non-finite number %v", t)
		}
	case float32:
		return checkFinite(float64(t))
	case map[string]any:
		for k, item := range t {
			if err := checkFinite(item); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	case []any:
		for i, item := range t {
			if err := checkFinite(item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case uint64:
		return strconv.FormatUint(s, 10)
	default:
		return ""
	}
}
