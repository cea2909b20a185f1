// Package memory holds in-process stores for tests and dev environments.
package memory
