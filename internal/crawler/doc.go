// Package crawler holds the domain model shared by the crawl engine: page,
// link, domain and session records, the collaborator interfaces the engine
// is wired with, the fetch failure taxonomy, URL normalization and the
// retry policy.
package crawler
