// Package session keeps a copy of every player's elimination session in Redis
// so that operators and other server instances can see who is playing and how
// far along they are.
package session
