// Package identity resolves request credentials to a user and projects user rows
// (id, username, profile image) for conversation and message responses.
//
// Users and sessions are owned by another service; this package only reads them.
package identity
