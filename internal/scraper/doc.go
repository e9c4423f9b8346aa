// Package scraper holds the domain model shared by the scraping engine:
// targets, jobs, records, rules, rollups, the job state machine, the error
// taxonomy, and the collaborator interfaces implemented by the storage,
// cache, queue, and fetch adapters.
package scraper
