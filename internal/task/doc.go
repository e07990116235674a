// Package task runs generation jobs in the background.
//
// A job is created and published by JobService, delivered by a Queue to the
// Runner, and executed by the Processor, which resolves the job's source and
// lets the Scheduler drive generation units in sequential waves until the
// requested number of questions is persisted or the plan is exhausted.
// Delivery is at least once; a job that is already terminal when it is
// delivered again is acknowledged without any work.
package task
