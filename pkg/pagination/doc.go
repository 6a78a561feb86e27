// Package pagination drives a catalogue scrape page by page.
//
// The driver requests one page of 30 items at a time, writes the normalized
// rows as soon as the page arrives and moves on. Between pages it honors the
// API rate limit window and sleeps a random jitter. The remote item count is
// re-read on every page because the catalogue may change during a long run.
//
// Example usage:
//
//	driver := pagination.NewDriver(searchClient, tracker, checkpoint.NewFileStore(""), pagination.DefaultConfig(), logger)
//	result, err := driver.Scrape(ctx, pagination.DefaultParams("keramogranit", 506))
//
// Failures never escape Scrape as errors once the loop has started:
//   - timeouts are retried on the same page while the retry budget lasts
//   - malformed responses, HTTP status and transport failures write a
//     checkpoint whose last_page can be passed back as StartPage
//   - anything else stops the run without a checkpoint
package pagination
