// Package testdb starts a disposable PostgreSQL holding the service schema
// and the subset of platform tables the service touches. It is only built
// with the integration tag.
package testdb
