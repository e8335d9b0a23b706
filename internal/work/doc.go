// Package work runs queued jobs.
//
// A Processor repeatedly claims the next eligible job from the queue, hands it
// to the Handler registered for its type and reports the outcome back:
//   - nil: the job is completed
//   - a queue.Permanent error: the job fails without retry
//   - any other error: the queue schedules a retry with backoff until the job
//     runs out of attempts
//
// Processors sleep for the poll interval when the queue is empty and wake early
// when a Notifier signals new work. A Pool runs several processors against the
// same queue; the queue's atomic claim keeps them from sharing a job.
package work
