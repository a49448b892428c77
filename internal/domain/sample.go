package domain

import "time"

// Sample is one reading on a single named channel as delivered by the device transport.
type Sample struct {
	Channel      string    `json:"channel"`
	Timestamp    time.Time `json:"ts"`
	Seq          uint64    `json:"seq"`
	Value        float64   `json:"value"`
	SourceNodeID string    `json:"source_node_id"`
	TransformVer uint16    `json:"transform_ver"`
}

// XY is a position in chart data space.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point is a combined reading of the two paired channels at a point in time.
type Point struct {
	Time time.Time `json:"time"`
	XY
}
