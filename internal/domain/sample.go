package domain

import "time"

// Sample is one reading produced by a sensor source or re-published by a carrier.
type Sample struct {
	Sensor    SensorType `json:"sensor"`
	Timestamp time.Time  `json:"ts"`
	Reading   Reading    `json:"reading"`
	// Carrier marks a synthesized re-publication of the cached value.
	Carrier bool `json:"carrier,omitempty"`
}

// Reading is the sensor-specific value carried by a Sample. The concrete
// types are Vector3, Scalar and Position; which one a sensor produces is
// given by SensorType.Shape.
type Reading interface {
	Shape() Shape
}

// Vector3 is a three-axis reading (accelerometer, gyroscope, magnetic field...).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Scalar is a single-value reading (light, pressure, proximity...).
type Scalar struct {
	Value float64 `json:"value"`
}

// Position is a location fix.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

func (Vector3) Shape() Shape  { return ShapeVector3 }
func (Scalar) Shape() Shape   { return ShapeScalar }
func (Position) Shape() Shape { return ShapePosition }

// ReadingFromValues builds a Reading of the given shape from named axis values.
// Keys are x/y/z, lat/lon/alt or value; missing keys read as zero.
func ReadingFromValues(shape Shape, values map[string]float64) Reading {
	switch shape {
	case ShapeVector3:
		return Vector3{X: values["x"], Y: values["y"], Z: values["z"]}
	case ShapePosition:
		return Position{Lat: values["lat"], Lon: values["lon"], Alt: values["alt"]}
	default:
		return Scalar{Value: values["value"]}
	}
}

// Values flattens a Reading back into named axis values.
func Values(r Reading) map[string]float64 {
	switch v := r.(type) {
	case Vector3:
		return map[string]float64{"x": v.X, "y": v.Y, "z": v.Z}
	case Position:
		return map[string]float64{"lat": v.Lat, "lon": v.Lon, "alt": v.Alt}
	case Scalar:
		return map[string]float64{"value": v.Value}
	default:
		return nil
	}
}
