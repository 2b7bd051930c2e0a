// Package worker binds one collector to one job.
//
// A Controller loads the job's checkpoint, acquires the job's provider and
// sink, runs the collector and releases both on every exit path. Stop
// cancels the worker's context, which the collector checks at the top of
// each iteration and which cuts every wait short.
package worker
