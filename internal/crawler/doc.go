// Package crawler defines the core types, collaborator interfaces, and URL
// scoping rules shared by the crawl engine, the recrawl scheduler, and the
// service layers that wrap them.
package crawler
