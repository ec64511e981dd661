// Package reporter batches PagerDuty trigger and resolve requests in memory
// and flushes them as concurrent Events API v2 calls at the end of a run.
// Without a routing key the flush is a dry run that sends nothing.
package reporter
