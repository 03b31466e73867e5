// Package store defines persistence interfaces for crawl runs and their
// findings. Implementations live in other packages; this package must not
// import database drivers or concrete clients.
package store
