// Package crawler defines the types, collaborator interfaces and error
// taxonomy shared by the campus crawler subsystems: URL policy, dedup store,
// frontier, checkpointing and the crawl loop.
package crawler
