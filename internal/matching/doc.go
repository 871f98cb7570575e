// Package matching pairs waiting clients one-to-one.
//
// An Engine owns the waiting pool (arrival ordered) and the symmetric pair
// registry. It is not safe for concurrent use; callers serialize access.
package matching
