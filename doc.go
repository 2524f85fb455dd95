// Package trajplan generates smooth minimum-derivative polynomial trajectories
// through an ordered set of waypoints, for vehicles whose motion must stay
// continuous up to high-order derivatives (e.g. snap-continuous quadrotor
// flight).
//
// A path is described by Vertex values carrying fixed derivative constraints,
// one per waypoint. LinearOptimizer turns vertices plus per-segment durations
// into polynomial Segments in closed form, minimizing the integral of a chosen
// squared derivative. NonlinearOptimizer wraps the linear solve and refines
// segment durations (and optionally the free derivative values) against a time
// penalty and soft maximum-magnitude constraints, using a local solver from the
// minimize subpackage. The resulting Trajectory supports time-indexed
// evaluation and bulk sampling.
package trajplan
