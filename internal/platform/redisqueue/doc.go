// Package redisqueue provides a durable task.Queue backed by Redis Streams.
//
// Messages are appended to a stream and read through a consumer group.
// A message stays pending until its handler succeeds, so a worker that dies
// mid-job leaves it for XAUTOCLAIM to hand to another consumer once it has
// been idle long enough. Failed deliveries are re-added with an incremented
// attempt counter; once attempts are exhausted the message is copied to a
// dead-letter stream and the queue's DeadLetter callback runs.
package redisqueue
