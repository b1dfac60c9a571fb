/*
Package session serializes access to threads.

It combines a reference-counted local mutex per thread with an optional distributed locker,
so a thread has a single writer both inside one process and across replicas sharing a
checkpoint backend.
*/
package session
