// Package model holds the persisted schedule state: playlists, their plugin
// instances, refresh policies, and the record of the last committed refresh.
//
// Everything in this package is pure data plus query logic. Nothing here does
// I/O; loading and saving the model is the config package's job, and acting
// on it is the refresh package's job.
package model
