// Package session keeps several independently authenticated identities side
// by side on one client.
//
// Records live in a Store shared by every tab of a client profile. Each tab
// owns a Pointer naming the record it currently uses, so two tabs can be
// signed in as two different users against the same Store. A Manager is the
// only writer of both; consumers read auth state through the Projection it
// publishes after every transition.
package session
