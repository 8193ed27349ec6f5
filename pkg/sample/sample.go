package sample

import "time"

// Point is a calibrated reading at a point in time, as plotted by the trend view.
type Point struct {
	Timestamp time.Time
	Value     float64
}
