package domain

import (
	"fmt"
	"strings"
)

// SensorType identifies a sensor. Values 1..13 follow the Android sensor
// register; Location is the non event-driven position source.
type SensorType uint8

const (
	SensorAccelerometer      SensorType = 1
	SensorMagneticField      SensorType = 2
	SensorOrientation        SensorType = 3
	SensorGyroscope          SensorType = 4
	SensorLight              SensorType = 5
	SensorPressure           SensorType = 6
	SensorTemperature        SensorType = 7
	SensorProximity          SensorType = 8
	SensorGravity            SensorType = 9
	SensorLinearAcceleration SensorType = 10
	SensorRotationVector     SensorType = 11
	SensorRelativeHumidity   SensorType = 12
	SensorAmbientTemperature SensorType = 13
	SensorLocation           SensorType = 14

	maxSensor = SensorLocation
)

// Shape is the record layout a sensor's readings are encoded with.
type Shape uint8

const (
	ShapeScalar Shape = iota
	ShapeVector3
	ShapePosition
)

var sensorNames = map[SensorType]string{
	SensorAccelerometer:      "accelerometer",
	SensorMagneticField:      "magnetic_field",
	SensorOrientation:        "orientation",
	SensorGyroscope:          "gyroscope",
	SensorLight:              "light",
	SensorPressure:           "pressure",
	SensorTemperature:        "temperature",
	SensorProximity:          "proximity",
	SensorGravity:            "gravity",
	SensorLinearAcceleration: "linear_acceleration",
	SensorRotationVector:     "rotation_vector",
	SensorRelativeHumidity:   "relative_humidity",
	SensorAmbientTemperature: "ambient_temperature",
	SensorLocation:           "location",
}

// Valid reports whether s is part of the catalog.
func (s SensorType) Valid() bool { return s >= SensorAccelerometer && s <= maxSensor }

func (s SensorType) String() string {
	if name, ok := sensorNames[s]; ok {
		return name
	}
	return fmt.Sprintf("sensor(%d)", uint8(s))
}

// Shape returns the record layout used for s.
func (s SensorType) Shape() Shape {
	switch s {
	case SensorAccelerometer, SensorMagneticField, SensorOrientation, SensorGyroscope,
		SensorGravity, SensorLinearAcceleration, SensorRotationVector:
		return ShapeVector3
	case SensorLocation:
		return ShapePosition
	default:
		return ShapeScalar
	}
}

// ParseSensorType accepts a catalog name ("accelerometer") or its number ("1").
func ParseSensorType(name string) (SensorType, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for s, n := range sensorNames {
		if n == key {
			return s, nil
		}
	}
	var id int
	if _, err := fmt.Sscanf(key, "%d", &id); err == nil && id > 0 && id <= int(maxSensor) {
		return SensorType(id), nil
	}
	return 0, fmt.Errorf("unknown sensor type %q", name)
}

// AllSensors lists the catalog in id order.
func AllSensors() []SensorType {
	out := make([]SensorType, 0, int(maxSensor))
	for s := SensorAccelerometer; s <= maxSensor; s++ {
		out = append(out, s)
	}
	return out
}
