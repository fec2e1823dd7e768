// Package fusion combines the topside absolute fix of an underwater GPS with
// the acoustic offset of the tracked locator into one absolute position, in
// the shape an autopilot GPS input and a ground-control NMEA stream expect.
//
// Fuse is a pure function. Latest hands the most recent result from the
// single polling task to any number of egress tasks.
package fusion
